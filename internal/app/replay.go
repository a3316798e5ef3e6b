package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"tlifarm/internal/journal"
	"tlifarm/internal/logevent"
	"tlifarm/internal/logparser"
	"tlifarm/internal/pricecache"
	"tlifarm/internal/session"
	"tlifarm/internal/tailer"
)

// ReplaySummary is the outcome of an offline replay.
type ReplaySummary struct {
	Summary
	Lines  int
	Events int
}

// logClock reports the newest timestamp seen in the replayed events, so
// session durations and price staleness follow the log instead of the
// wall clock.
type logClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *logClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *logClock) advance(ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts.After(c.t) {
		c.t = ts
	}
}

type replayer struct {
	clock  *logClock
	agg    *session.Aggregator
	events int
}

// newReplayer builds an aggregator isolated from the live one. It starts
// from the persisted prices but never writes them back.
func (a *App) newReplayer() *replayer {
	clock := &logClock{}
	prices := pricecache.New(clock.now)
	prices.MergePersisted(a.agg.Prices().Snapshot())
	return &replayer{
		clock: clock,
		agg: session.New(
			session.WithClock(clock.now),
			session.WithPriceCache(prices),
			session.WithCatalog(a.agg.Items()),
			session.WithDebug(a.cfg.Debug),
		),
	}
}

// apply starts the session at the first timestamped event.
func (r *replayer) apply(ev logevent.Event) error {
	r.events++
	if !ev.Timestamp.IsZero() {
		r.clock.advance(ev.Timestamp)
	}
	if !r.agg.IsActive() && !r.clock.now().IsZero() {
		if _, err := r.agg.StartSession("replay"); err != nil {
			return err
		}
	}
	r.agg.Apply(ev)
	return nil
}

func (r *replayer) finish() (Summary, error) {
	st, fs, err := r.agg.EndSession()
	if errors.Is(err, session.ErrNoActiveSession) {
		return Summary{}, nil
	}
	if err != nil {
		return Summary{}, err
	}
	return Summary{Session: fs, Stats: st, Drops: r.agg.DropsFor(fs)}, nil
}

// ReplayLog runs a whole game log through a fresh parser and a session
// spanning the log's timestamps.
func (a *App) ReplayLog(r io.Reader) (ReplaySummary, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return ReplaySummary{}, err
	}
	rp := a.newReplayer()
	p := logparser.New()
	p.Location = loc
	p.Debug = a.cfg.Debug
	p.Now = rp.clock.now

	lines, err := tailer.Replay(r, logparser.NewShared(p), rp.apply)
	if err != nil {
		return ReplaySummary{Lines: lines}, err
	}
	sum, err := rp.finish()
	return ReplaySummary{Summary: sum, Lines: lines, Events: rp.events}, err
}

// ReplayLogFile opens path and replays it.
func (a *App) ReplayLogFile(path string) (ReplaySummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplaySummary{}, err
	}
	defer f.Close()
	return a.ReplayLog(f)
}

// ReplayJournal applies the events recorded in a journal file. When path
// is a directory, every journal file in it is replayed oldest first as one
// session.
func (a *App) ReplayJournal(path string) (ReplaySummary, error) {
	files := []string{path}
	if fi, err := os.Stat(path); err != nil {
		return ReplaySummary{}, err
	} else if fi.IsDir() {
		if files, err = journal.Files(path); err != nil {
			return ReplaySummary{}, err
		}
		if len(files) == 0 {
			return ReplaySummary{}, fmt.Errorf("no journal files in %s", path)
		}
	}

	rp := a.newReplayer()
	for _, f := range files {
		events, err := journal.ReadFile(f)
		if err != nil {
			return ReplaySummary{}, err
		}
		for _, ev := range events {
			if err := rp.apply(ev); err != nil {
				return ReplaySummary{}, err
			}
		}
	}
	sum, err := rp.finish()
	return ReplaySummary{Summary: sum, Events: rp.events}, err
}
