package session

import (
	"math"
	"sort"
	"time"

	"tlifarm/internal/catalog"
	"tlifarm/internal/pricecache"
)

// SessionStats is a point-in-time summary of a session.
type SessionStats struct {
	TotalItems        int64   `json:"total_items"`
	UniqueItems       int32   `json:"unique_items"`
	TotalValue        float64 `json:"total_value"`
	MapsCompleted     int32   `json:"maps_completed"`
	DurationSec       int64   `json:"duration_sec"`
	AvgMapDurationSec int64   `json:"avg_map_duration_sec"`
	StalePriceLines   int32   `json:"stale_price_lines"`
	HourlyProfit      float64 `json:"hourly_profit"`
}

// AggregatedDrop is one row of the per-item drop listing.
type AggregatedDrop struct {
	ItemID         int64             `json:"item_id"`
	Item           *catalog.ItemInfo `json:"item_info,omitempty"`
	Quantity       int32             `json:"quantity"`
	TotalValue     float64           `json:"total_value"`
	UnitPrice      float64           `json:"unit_price"`
	PriceUpdatedAt *time.Time        `json:"price_updated_at,omitempty"`
	PriceIsStale   bool              `json:"price_is_stale"`
}

// computeStats derives the summary for s at now using the given prices.
func computeStats(s *FarmSession, prices map[int64]pricecache.Entry, now time.Time) SessionStats {
	var st SessionStats
	for id, qty := range s.Drops {
		st.TotalItems += int64(qty)
		if qty > 0 {
			st.UniqueItems++
		}
		e, ok := prices[id]
		if !ok {
			continue
		}
		// Stale prices still count; the UI asks for a refresh.
		st.TotalValue += e.Price * float64(qty)
		if e.Stale(now) {
			st.StalePriceLines++
		}
	}

	st.MapsCompleted = s.MapsCompleted

	// Wall clock since start, so the timer moves even if map detection
	// misfires.
	if s.Active() {
		st.DurationSec = max(0, wholeSeconds(now.Sub(s.StartedAt)))
	}

	var currentMap int64
	if !s.CurrentMapStarted.IsZero() {
		currentMap = max(0, wholeSeconds(now.Sub(s.CurrentMapStarted)))
	}
	switch {
	case s.MapsCompleted > 0:
		st.AvgMapDurationSec = int64(math.Round(float64(s.TotalMapSec) / float64(s.MapsCompleted)))
	case s.OnMap && currentMap > 0:
		st.AvgMapDurationSec = currentMap
	}

	if st.DurationSec > 0 {
		st.HourlyProfit = st.TotalValue / float64(st.DurationSec) * 3600
	}
	return st
}

// aggregateDrops builds the drop listing sorted by total value, highest
// first.
func aggregateDrops(s *FarmSession, prices map[int64]pricecache.Entry, items *catalog.Catalog, now time.Time) []AggregatedDrop {
	out := make([]AggregatedDrop, 0, len(s.Drops))
	for id, qty := range s.Drops {
		row := AggregatedDrop{ItemID: id, Quantity: qty}
		if items != nil {
			if it, ok := items.Get(id); ok {
				row.Item = &it
			}
		}
		if e, ok := prices[id]; ok {
			updated := e.UpdatedAt
			row.UnitPrice = e.Price
			row.PriceUpdatedAt = &updated
			row.PriceIsStale = e.Stale(now)
		}
		row.TotalValue = row.UnitPrice * float64(qty)
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalValue != out[j].TotalValue {
			return out[i].TotalValue > out[j].TotalValue
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out
}
