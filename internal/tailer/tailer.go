// Package tailer follows the game log as it grows and publishes the events
// the parser finds in it.
package tailer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tlifarm/internal/logevent"
	"tlifarm/internal/logparser"
)

const (
	DefaultPollInterval = 50 * time.Millisecond
	DefaultWarmupBytes  = 1 << 20
	DefaultQueueSize    = 1000
	DefaultErrorPause   = time.Second
)

var (
	// ErrQueueFull means the consumer stopped draining events. The tailer
	// stops when it happens.
	ErrQueueFull = errors.New("event queue full")

	// ErrAlreadyRunning is returned by Start on a running tailer.
	ErrAlreadyRunning = errors.New("tailer already running")
)

// Tailer reads lines appended to a log file, feeds them to a shared
// parser and publishes the resulting events on a bounded channel.
type Tailer struct {
	path         string
	parser       *logparser.Shared
	pollInterval time.Duration
	warmupBytes  int64
	queueSize    int
	errorPause   time.Duration
	debug        bool

	offset    atomic.Int64
	rotations atomic.Int64
	running   atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Option configures a Tailer.
type Option func(*Tailer)

// WithPollInterval sets how long to sleep at end of file.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tailer) {
		if d > 0 {
			t.pollInterval = d
		}
	}
}

// WithWarmupBytes sets how much of the existing log is replayed into the
// parser's slot ledger on start. Zero disables warm-up.
func WithWarmupBytes(n int64) Option {
	return func(t *Tailer) {
		if n >= 0 {
			t.warmupBytes = n
		}
	}
}

// WithQueueSize sets the event channel capacity.
func WithQueueSize(n int) Option {
	return func(t *Tailer) {
		if n > 0 {
			t.queueSize = n
		}
	}
}

// WithErrorPause sets the back-off after a read error.
func WithErrorPause(d time.Duration) Option {
	return func(t *Tailer) {
		if d > 0 {
			t.errorPause = d
		}
	}
}

// WithDebug logs every published event.
func WithDebug(on bool) Option {
	return func(t *Tailer) {
		t.debug = on
	}
}

// New creates a Tailer for path. A nil parser gets a private one.
func New(path string, parser *logparser.Shared, opts ...Option) *Tailer {
	if parser == nil {
		parser = logparser.NewShared(nil)
	}
	t := &Tailer{
		path:         path,
		parser:       parser,
		pollInterval: DefaultPollInterval,
		warmupBytes:  DefaultWarmupBytes,
		queueSize:    DefaultQueueSize,
		errorPause:   DefaultErrorPause,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Path returns the file being tailed.
func (t *Tailer) Path() string { return t.path }

// Start opens the log, warms the parser up from its tail and starts
// following it from the current end of file. The returned channel is
// closed when the tailer stops. An open failure is returned directly and
// no stream is started.
func (t *Tailer) Start(ctx context.Context) (<-chan logevent.Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running.Load() {
		return nil, ErrAlreadyRunning
	}

	f, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	if err := t.warmup(f); err != nil {
		log.Printf("tailer: warm-up skipped: %v", err)
	}
	pos, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("seek log end: %w", err)
	}
	t.offset.Store(pos)
	log.Printf("tailer: following %s from offset %d", t.path, pos)

	ctx, cancel := context.WithCancel(ctx)
	events := make(chan logevent.Event, t.queueSize)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.err = nil
	t.running.Store(true)

	go t.run(ctx, f, events, t.done)
	return events, nil
}

// Stop asks the read loop to exit and waits for it. An in-flight price
// block is discarded.
func (t *Tailer) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the read loop is active.
func (t *Tailer) Running() bool { return t.running.Load() }

// Offset returns the number of bytes of the current file consumed so far.
func (t *Tailer) Offset() int64 { return t.offset.Load() }

// Rotations returns how many times the file was seen to shrink and was
// reopened.
func (t *Tailer) Rotations() int64 { return t.rotations.Load() }

// Err returns why the read loop stopped, or nil if it was stopped on
// request or is still running.
func (t *Tailer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// warmup replays the last warmupBytes of f into the parser's ledger so
// the first pickup of an already stacked item is measured against a known
// baseline.
func (t *Tailer) warmup(f *os.File) error {
	if t.warmupBytes == 0 {
		return nil
	}
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	start := max(0, fi.Size()-t.warmupBytes)
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return err
	}

	r := bufio.NewReader(io.LimitReader(f, fi.Size()-start))
	if start > 0 {
		// Most likely cut mid-line.
		if _, err := r.ReadString('\n'); err != nil {
			return nil
		}
	}
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			lines = append(lines, trimEOL(line))
		}
		if err != nil {
			break
		}
	}
	t.parser.WarmupLines(lines)
	log.Printf("tailer: warm-up read %d lines", len(lines))
	return nil
}

func (t *Tailer) run(ctx context.Context, f *os.File, events chan<- logevent.Event, done chan struct{}) {
	err := t.loop(ctx, f, events)
	if err != nil {
		log.Printf("tailer: stopped: %v", err)
	} else {
		log.Printf("tailer: stopped")
	}

	t.mu.Lock()
	t.err = err
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.mu.Unlock()
	t.running.Store(false)
	close(events)
	close(done)
}

func (t *Tailer) loop(ctx context.Context, f *os.File, events chan<- logevent.Event) error {
	defer func() { f.Close() }()

	r := bufio.NewReader(f)
	var partial strings.Builder
	proc := newLineProcessor(t.parser, func(ev logevent.Event) error {
		return t.publish(ev, events)
	})

	for {
		if ctx.Err() != nil {
			return nil
		}

		chunk, err := r.ReadString('\n')
		if chunk != "" {
			t.offset.Add(int64(len(chunk)))
		}
		if err == nil {
			line := chunk
			if partial.Len() > 0 {
				partial.WriteString(chunk)
				line = partial.String()
				partial.Reset()
			}
			if err := proc.handle(trimEOL(line)); err != nil {
				return err
			}
			continue
		}

		// No newline yet: keep what we have for the next read.
		partial.WriteString(chunk)

		if !errors.Is(err, io.EOF) {
			log.Printf("tailer: read error: %v", err)
			if !sleep(ctx, t.errorPause) {
				return nil
			}
			continue
		}

		if !sleep(ctx, t.pollInterval) {
			return nil
		}

		fi, err := os.Stat(t.path)
		if err != nil || fi.Size() >= t.offset.Load() {
			continue
		}
		nf, err := os.Open(t.path)
		if err != nil {
			log.Printf("tailer: reopen after rotation: %v", err)
			continue
		}
		f.Close()
		f = nf
		r.Reset(f)
		partial.Reset()
		proc.reset()
		t.offset.Store(0)
		t.parser.Reset()
		n := t.rotations.Add(1)
		log.Printf("tailer: log rotated (%d), reading from start", n)
	}
}

func (t *Tailer) publish(ev logevent.Event, events chan<- logevent.Event) error {
	select {
	case events <- ev:
		if t.debug {
			log.Printf("tailer: event %s", ev)
		}
		return nil
	default:
		log.Printf("tailer: warning: event queue full (%d), consumer stalled", cap(events))
		return ErrQueueFull
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func trimEOL(s string) string {
	return strings.TrimRight(s, "\r\n")
}
