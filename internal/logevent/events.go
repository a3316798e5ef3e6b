// Package logevent defines the events extracted from the game log: item
// pickups, auction price searches and map transitions.
package logevent

import (
	"fmt"
	"time"
)

// DefaultCurrencyID is the currency assumed for a price response that does
// not name one (Flame Elementium).
const DefaultCurrencyID int64 = 100300

// Event is a single decoded log event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      any // type-specific payload
}

// EventType identifies the kind of log event.
type EventType int

const (
	EventItemDrop EventType = iota
	EventPriceSearch
	EventMapChange
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventItemDrop:
		return "item_drop"
	case EventPriceSearch:
		return "price_search"
	case EventMapChange:
		return "map_change"
	default:
		return "unknown"
	}
}

// MapEventKind says whether a scene transition enters a map or returns to
// the hideout.
type MapEventKind int

const (
	EnterMap MapEventKind = iota
	ExitToHideout
)

func (k MapEventKind) String() string {
	switch k {
	case EnterMap:
		return "enter_map"
	case ExitToHideout:
		return "exit_to_hideout"
	default:
		return "unknown"
	}
}

// ItemDropData is the payload for EventItemDrop.
type ItemDropData struct {
	ItemID   int64 `json:"item_id"`
	Quantity int32 `json:"quantity"`
	PageID   int32 `json:"page_id"`
	SlotID   int32 `json:"slot_id"`
}

// PriceSearchData is the payload for EventPriceSearch.
type PriceSearchData struct {
	ItemID        int64     `json:"item_id"`
	Prices        []float64 `json:"prices"`
	CurrencyID    int64     `json:"currency_id"`
	CorrelationID int32     `json:"correlation_id"`
}

// MapChangeData is the payload for EventMapChange.
type MapChangeData struct {
	Kind      MapEventKind `json:"kind"`
	SceneName string       `json:"scene_name"`
}

// NewItemDrop builds an EventItemDrop.
func NewItemDrop(ts time.Time, d ItemDropData) Event {
	return Event{Type: EventItemDrop, Timestamp: ts, Data: d}
}

// NewPriceSearch builds an EventPriceSearch.
func NewPriceSearch(ts time.Time, d PriceSearchData) Event {
	return Event{Type: EventPriceSearch, Timestamp: ts, Data: d}
}

// NewMapChange builds an EventMapChange.
func NewMapChange(ts time.Time, d MapChangeData) Event {
	return Event{Type: EventMapChange, Timestamp: ts, Data: d}
}

// ItemDrop returns the drop payload if ev is an item drop.
func (ev Event) ItemDrop() (ItemDropData, bool) {
	if ev.Type != EventItemDrop {
		return ItemDropData{}, false
	}
	d, ok := ev.Data.(ItemDropData)
	return d, ok
}

// PriceSearch returns the price payload if ev is a price search.
func (ev Event) PriceSearch() (PriceSearchData, bool) {
	if ev.Type != EventPriceSearch {
		return PriceSearchData{}, false
	}
	d, ok := ev.Data.(PriceSearchData)
	return d, ok
}

// MapChange returns the map payload if ev is a map change.
func (ev Event) MapChange() (MapChangeData, bool) {
	if ev.Type != EventMapChange {
		return MapChangeData{}, false
	}
	d, ok := ev.Data.(MapChangeData)
	return d, ok
}

// WithPrices returns a copy of a price search event carrying the given
// prices and currency. Other event types are returned unchanged.
func (ev Event) WithPrices(prices []float64, currencyID int64) Event {
	d, ok := ev.PriceSearch()
	if !ok {
		return ev
	}
	d.Prices = prices
	d.CurrencyID = currencyID
	ev.Data = d
	return ev
}

// String renders a short one-line description for logs.
func (ev Event) String() string {
	switch d := ev.Data.(type) {
	case ItemDropData:
		return fmt.Sprintf("%s item=%d qty=%d slot=%d/%d", ev.Type, d.ItemID, d.Quantity, d.PageID, d.SlotID)
	case PriceSearchData:
		return fmt.Sprintf("%s item=%d prices=%d currency=%d", ev.Type, d.ItemID, len(d.Prices), d.CurrencyID)
	case MapChangeData:
		return fmt.Sprintf("%s %s %s", ev.Type, d.Kind, d.SceneName)
	}
	return ev.Type.String()
}
