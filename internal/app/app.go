// Package app wires the log tailer, the session aggregator and their
// persistence and relay collaborators into one running process.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"tlifarm/internal/catalog"
	"tlifarm/internal/config"
	"tlifarm/internal/history"
	"tlifarm/internal/journal"
	"tlifarm/internal/logevent"
	"tlifarm/internal/logparser"
	"tlifarm/internal/pricecache"
	"tlifarm/internal/relay"
	"tlifarm/internal/session"
	"tlifarm/internal/tailer"
)

// ErrLogPathNeeded is returned by Run when no game log is configured.
var ErrLogPathNeeded = errors.New("no game log path configured")

// App is one tlifarm process: a shared parser, the aggregator, the price
// store and the optional journal, history and relay.
type App struct {
	cfg       *config.Config
	now       func() time.Time
	onMap     func(session.SessionStats)
	onTailing func(path string)

	parser  *logparser.Shared
	agg     *session.Aggregator
	store   *pricecache.Store
	journal *journal.Writer
	hub     *relay.Hub

	// unsaved is set while a price change has not reached the store.
	unsaved atomic.Bool

	tailMu sync.Mutex
	tail   *tailer.Tailer

	histMu  sync.Mutex
	history *history.Store
	histErr error
}

// Option configures an App.
type Option func(*App)

// WithClock replaces time.Now for the aggregator and the price cache.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		a.now = now
	}
}

// WithMapCompleted sets a callback invoked with fresh statistics every time
// a map is completed.
func WithMapCompleted(fn func(session.SessionStats)) Option {
	return func(a *App) {
		a.onMap = fn
	}
}

// WithTailStarted sets a callback invoked by Run once the log is open and
// before any of its events are applied.
func WithTailStarted(fn func(path string)) Option {
	return func(a *App) {
		a.onTailing = fn
	}
}

// New builds the App from cfg. Persisted prices are merged into the cache
// and the item catalog is loaded when configured. A corrupt price cache is
// logged and ignored; a broken catalog is an error.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	p := logparser.New()
	p.Location = loc
	p.Debug = cfg.Debug
	a.parser = logparser.NewShared(p)

	prices := pricecache.New(a.now)
	a.store = pricecache.NewStore(cfg.PriceCachePath())
	if n, err := a.store.LoadInto(prices); err != nil {
		log.Printf("pricecache: warning: %v", err)
	} else if n > 0 {
		log.Printf("pricecache: loaded %d prices from %s", n, a.store.Path())
	}

	items := catalog.New()
	if path := cfg.Items.CatalogPath; path != "" {
		n, err := items.LoadFile(path)
		if err != nil {
			return nil, err
		}
		log.Printf("catalog: loaded %d items from %s", n, path)
	}

	a.agg = session.New(
		session.WithClock(a.now),
		session.WithParser(a.parser),
		session.WithPriceCache(prices),
		session.WithCatalog(items),
		session.WithEventHook(a.handleEvent),
		session.WithDebug(cfg.Debug),
	)

	if cfg.Journal.Enabled {
		a.journal = journal.NewWriter(cfg.JournalDir(), journal.WithCompression(cfg.Journal.Compress))
	}
	a.hub = relay.NewHub(a.agg, cfg.StatsPerSecond())
	return a, nil
}

// Aggregator returns the session aggregator.
func (a *App) Aggregator() *session.Aggregator { return a.agg }

// Run tails logPath, or the configured log when logPath is empty, and
// applies its events until ctx is cancelled. The relay is served for the
// duration when an address is configured. If the log cannot be opened,
// relay clients are told a path is needed.
func (a *App) Run(ctx context.Context, logPath string) error {
	path := logPath
	if path == "" {
		path = a.cfg.LogPath
	}
	if path == "" {
		a.hub.PublishLogPathNeeded(ErrLogPathNeeded.Error())
		return ErrLogPathNeeded
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	if addr := a.cfg.Relay.Addr; addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.hub.Serve(ctx, addr); err != nil {
				log.Printf("relay: %v", err)
			}
		}()
	}

	t := tailer.New(path, a.parser, a.tailerOptions()...)
	events, err := t.Start(ctx)
	if err != nil {
		a.hub.PublishLogPathNeeded(err.Error())
		return err
	}
	a.setTailer(t)
	defer func() {
		t.Stop()
		a.setTailer(nil)
	}()
	if a.onTailing != nil {
		a.onTailing(path)
	}

	err = a.agg.Run(ctx, events)
	if errors.Is(err, session.ErrStreamClosed) {
		if terr := t.Err(); terr != nil {
			return fmt.Errorf("tailer stopped: %w", terr)
		}
		return nil
	}
	return err
}

func (a *App) setTailer(t *tailer.Tailer) {
	a.tailMu.Lock()
	a.tail = t
	a.tailMu.Unlock()
}

// Tailer returns the active tailer, or nil when Run is not following a log.
func (a *App) Tailer() *tailer.Tailer {
	a.tailMu.Lock()
	defer a.tailMu.Unlock()
	return a.tail
}

func (a *App) tailerOptions() []tailer.Option {
	opts := []tailer.Option{tailer.WithDebug(a.cfg.Debug)}
	if d := a.cfg.Tail.PollInterval; d > 0 {
		opts = append(opts, tailer.WithPollInterval(d))
	}
	if n := a.cfg.Tail.WarmupBytes; n > 0 {
		opts = append(opts, tailer.WithWarmupBytes(n))
	}
	if n := a.cfg.Tail.QueueSize; n > 0 {
		opts = append(opts, tailer.WithQueueSize(n))
	}
	return opts
}

// handleEvent runs after the aggregator applied ev.
func (a *App) handleEvent(ev logevent.Event, res session.Result) {
	if a.journal != nil {
		if err := a.journal.Append(ev); err != nil {
			log.Printf("journal: %v", err)
		}
	}

	if res.PriceUpdated {
		a.savePrices()
		a.hub.PublishPrice(res.ItemID, res.Price)
		a.hub.PublishStats(false)
		return
	}

	a.hub.PublishEvent(ev)
	switch {
	case res.MapCompleted:
		st := a.agg.Stats()
		a.hub.PublishStats(true)
		if a.onMap != nil {
			a.onMap(st)
		}
	case res.Counted:
		a.hub.PublishStats(false)
	}
}

func (a *App) savePrices() {
	if err := a.persistPrices(); err != nil {
		log.Printf("pricecache: warning: %v", err)
	}
}

// persistPrices merges the cache with the store. On failure the change is
// retried by Close.
func (a *App) persistPrices() error {
	if err := a.store.SaveFrom(a.agg.Prices()); err != nil {
		a.unsaved.Store(true)
		return err
	}
	a.unsaved.Store(false)
	return nil
}

// StartSession starts a fresh farm session.
func (a *App) StartSession(presetID string) (session.FarmSession, error) {
	fs, err := a.agg.StartSession(presetID)
	if err != nil {
		return fs, err
	}
	a.hub.PublishStats(true)
	return fs, nil
}

// Summary is the outcome of an ended or replayed session.
type Summary struct {
	Session session.FarmSession
	Stats   session.SessionStats
	Drops   []session.AggregatedDrop
}

// EndSession ends the running session and records it in the history
// database. A history failure is logged; the summary is still returned.
func (a *App) EndSession(ctx context.Context) (Summary, error) {
	st, fs, err := a.agg.EndSession()
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Session: fs, Stats: st, Drops: a.agg.DropsFor(fs)}

	if h, err := a.historyStore(); err != nil {
		log.Printf("history: warning: %v", err)
	} else if err := h.Record(ctx, fs, st, a.now()); err != nil {
		log.Printf("history: warning: %v", err)
	}
	a.hub.PublishStats(true)
	return sum, nil
}

// UpdatePrice sets a price by hand, persists the cache and relays the
// change.
func (a *App) UpdatePrice(itemID int64, price float64) (pricecache.Entry, error) {
	e, err := a.agg.UpdatePrice(itemID, price)
	if err != nil {
		return e, err
	}
	if err := a.persistPrices(); err != nil {
		return e, err
	}
	a.hub.PublishPrice(itemID, e)
	return e, nil
}

// ImportPrices merges samples into the cache, a sample winning only when
// it is newer than what is held, and persists the result. It returns how
// many entries changed.
func (a *App) ImportPrices(samples []pricecache.Sample) (int, error) {
	n := a.agg.Prices().MergeRemote(samples)
	if n == 0 {
		return 0, nil
	}
	if err := a.persistPrices(); err != nil {
		return n, err
	}
	return n, nil
}

// ImportPricesFile reads a JSON array of {item_id, price, updated_at}
// samples and imports it.
func (a *App) ImportPricesFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var samples []pricecache.Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return a.ImportPrices(samples)
}

// Prices returns a copy of the cached prices.
func (a *App) Prices() map[int64]pricecache.Entry {
	return a.agg.Prices().Snapshot()
}

// LoadItemsCache merges item metadata into the catalog.
func (a *App) LoadItemsCache(items []catalog.ItemInfo) {
	a.agg.LoadItemsCache(items)
}

// Stats returns the running session's statistics.
func (a *App) Stats() session.SessionStats { return a.agg.Stats() }

// Drops returns the running session's aggregated drops.
func (a *App) Drops() []session.AggregatedDrop { return a.agg.AggregatedDrops() }

// History lists recorded sessions, newest first.
func (a *App) History(ctx context.Context, limit int) ([]history.Record, error) {
	h, err := a.historyStore()
	if err != nil {
		return nil, err
	}
	return h.List(ctx, limit)
}

// historyStore opens the database on first use.
func (a *App) historyStore() (*history.Store, error) {
	a.histMu.Lock()
	defer a.histMu.Unlock()
	if a.history == nil && a.histErr == nil {
		a.history, a.histErr = history.Open(a.cfg.HistoryDBPath())
	}
	return a.history, a.histErr
}

// Close retries a failed price save and closes the journal and history.
// An App that only read prices leaves the file alone.
func (a *App) Close() error {
	var errs []error
	if a.unsaved.Load() {
		if err := a.persistPrices(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.histMu.Lock()
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			errs = append(errs, err)
		}
		a.history = nil
	}
	a.histMu.Unlock()
	a.hub.Close()
	return errors.Join(errs...)
}
