package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"tlifarm/internal/catalog"
	"tlifarm/internal/logevent"
	"tlifarm/internal/logparser"
	"tlifarm/internal/pricecache"
)

var (
	// ErrNoActiveSession is returned by commands that need a running session.
	ErrNoActiveSession = errors.New("no active session")

	// ErrStreamClosed is returned by Run when the event channel is closed,
	// which means the tailer stopped.
	ErrStreamClosed = errors.New("event stream closed")
)

// Result describes what applying one event changed.
type Result struct {
	// ItemID is the item a drop or price update was about.
	ItemID int64
	// Counted is set when a drop was added to the session.
	Counted bool
	// MapCompleted is set when an exit finished a map.
	MapCompleted bool
	// PriceUpdated is set when a price search refreshed the cache.
	PriceUpdated bool
	Price        pricecache.Entry
}

// Aggregator owns the farm session and the price cache and turns the event
// stream into statistics. All methods are safe for concurrent use.
type Aggregator struct {
	now     func() time.Time
	prices  *pricecache.Cache
	items   *catalog.Catalog
	parser  *logparser.Shared
	onEvent func(logevent.Event, Result)
	debug   bool

	mu      sync.RWMutex
	session FarmSession
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// WithParser attaches the shared parser so that starting a session clears
// in-flight parsing state.
func WithParser(p *logparser.Shared) Option {
	return func(a *Aggregator) {
		a.parser = p
	}
}

// WithPriceCache uses c instead of a fresh cache.
func WithPriceCache(c *pricecache.Cache) Option {
	return func(a *Aggregator) {
		a.prices = c
	}
}

// WithCatalog uses c for item metadata.
func WithCatalog(c *catalog.Catalog) Option {
	return func(a *Aggregator) {
		a.items = c
	}
}

// WithEventHook sets a callback invoked by Run after every event is
// applied. It runs on the Run goroutine without any aggregator lock held.
func WithEventHook(fn func(logevent.Event, Result)) Option {
	return func(a *Aggregator) {
		a.onEvent = fn
	}
}

// WithDebug enables per-event trace logging.
func WithDebug(on bool) Option {
	return func(a *Aggregator) {
		a.debug = on
	}
}

// New creates an Aggregator with no active session.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	if a.prices == nil {
		a.prices = pricecache.New(a.now)
	}
	if a.items == nil {
		a.items = catalog.New()
	}
	return a
}

// Prices returns the price cache owned by the aggregator.
func (a *Aggregator) Prices() *pricecache.Cache { return a.prices }

// Items returns the item catalog.
func (a *Aggregator) Items() *catalog.Catalog { return a.items }

// StartSession replaces the current session with a fresh one and clears
// the parser's slot ledger and pending price requests.
func (a *Aggregator) StartSession(presetID string) (FarmSession, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return FarmSession{}, err
	}

	if a.parser != nil {
		a.parser.Reset()
	}

	a.mu.Lock()
	if a.session.Active() {
		log.Printf("session: replacing active session %s", a.session.ID)
	}
	a.session = FarmSession{
		ID:        id.String(),
		PresetID:  presetID,
		StartedAt: a.now(),
		Drops:     make(map[int64]int32),
	}
	s := a.session.clone()
	a.mu.Unlock()

	log.Printf("session: started %s", s.ID)
	return s, nil
}

// EndSession captures the final statistics and the session itself, then
// resets to an inactive session.
func (a *Aggregator) EndSession() (SessionStats, FarmSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.session.Active() {
		return SessionStats{}, FarmSession{}, ErrNoActiveSession
	}
	var st SessionStats
	a.prices.View(func(entries map[int64]pricecache.Entry, now time.Time) {
		st = computeStats(&a.session, entries, now)
	})
	ended := a.session
	a.session = FarmSession{}

	log.Printf("session: ended %s after %ds, %d maps, %d items", ended.ID, st.DurationSec, st.MapsCompleted, st.TotalItems)
	return st, ended, nil
}

// IsActive reports whether a session is running.
func (a *Aggregator) IsActive() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session.Active()
}

// Session returns a copy of the current session.
func (a *Aggregator) Session() FarmSession {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session.clone()
}

// Apply folds one event into the aggregator. Events that do not apply (no
// session, duplicates, empty price lists) are ignored.
func (a *Aggregator) Apply(ev logevent.Event) Result {
	var res Result
	switch ev.Type {
	case logevent.EventItemDrop:
		if d, ok := ev.ItemDrop(); ok {
			res.ItemID = d.ItemID
			res.Counted = a.AddDrop(d.ItemID, d.Quantity)
		}
	case logevent.EventMapChange:
		if d, ok := ev.MapChange(); ok {
			res.MapCompleted = a.HandleMapChange(ev.Timestamp, d)
		}
	case logevent.EventPriceSearch:
		d, ok := ev.PriceSearch()
		if !ok {
			break
		}
		res.ItemID = d.ItemID
		price, ok := pricecache.SelectMarketPrice(d.Prices)
		if !ok {
			break
		}
		e, err := a.UpdatePrice(d.ItemID, price)
		if err != nil {
			log.Printf("session: %v", err)
			break
		}
		res.PriceUpdated = true
		res.Price = e
	}
	if a.debug {
		log.Printf("session: applied %s: %+v", ev, res)
	}
	return res
}

// AddDrop adds qty of itemID to the running session. It reports whether
// the drop was counted.
func (a *Aggregator) AddDrop(itemID int64, qty int32) bool {
	if qty <= 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.session.Active() {
		return false
	}
	a.session.addDrop(itemID, qty)
	return true
}

// MergeDropCounts adds externally tallied quantities to the running
// session. Non-positive quantities are skipped.
func (a *Aggregator) MergeDropCounts(counts map[int64]int32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.session.Active() {
		return ErrNoActiveSession
	}
	for id, qty := range counts {
		if qty > 0 {
			a.session.addDrop(id, qty)
		}
	}
	return nil
}

// HandleMapChange runs the deduplicating map state machine. It reports
// whether the event completed a map.
func (a *Aggregator) HandleMapChange(ts time.Time, d logevent.MapChangeData) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session.applyMapChange(ts, d)
}

// HandleMapEnter marks the session as on a map without deduplication.
func (a *Aggregator) HandleMapEnter(ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session.Active() {
		a.session.enterMap(ts)
	}
}

// HandleMapExit counts a completed map without deduplication.
func (a *Aggregator) HandleMapExit(ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session.Active() {
		a.session.exitMap(ts)
	}
}

// UpdatePrice stores price for itemID stamped with the current time.
func (a *Aggregator) UpdatePrice(itemID int64, price float64) (pricecache.Entry, error) {
	return a.prices.Update(itemID, price)
}

// LoadItemsCache merges item metadata into the catalog.
func (a *Aggregator) LoadItemsCache(items []catalog.ItemInfo) {
	a.items.Load(items)
}

// Stats returns a snapshot of the running session. An inactive session
// yields zero stats.
func (a *Aggregator) Stats() SessionStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var st SessionStats
	a.prices.View(func(entries map[int64]pricecache.Entry, now time.Time) {
		st = computeStats(&a.session, entries, now)
	})
	return st
}

// AggregatedDrops lists the session's drops with prices and item info,
// highest total value first.
func (a *Aggregator) AggregatedDrops() []AggregatedDrop {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []AggregatedDrop
	a.prices.View(func(entries map[int64]pricecache.Entry, now time.Time) {
		out = aggregateDrops(&a.session, entries, a.items, now)
	})
	return out
}

// DropsFor aggregates the drops of s, typically a session returned by
// EndSession, against the current prices and catalog.
func (a *Aggregator) DropsFor(s FarmSession) []AggregatedDrop {
	var out []AggregatedDrop
	a.prices.View(func(entries map[int64]pricecache.Entry, now time.Time) {
		out = aggregateDrops(&s, entries, a.items, now)
	})
	return out
}

// Run applies events until ctx is cancelled or events is closed. A closed
// channel returns ErrStreamClosed so the owner can restart the tailer.
func (a *Aggregator) Run(ctx context.Context, events <-chan logevent.Event) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return ErrStreamClosed
			}
			res := a.Apply(ev)
			if a.onEvent != nil {
				a.onEvent(ev, res)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
