// Package journal keeps a durable record of the events read from the game
// log: one JSON line per event in a daily file, optionally zstd
// compressed. Journals can be replayed offline with ReadFile.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"tlifarm/internal/logevent"
)

const (
	filePrefix    = "events"
	plainExt      = ".jsonl"
	compressedExt = ".jsonl.zst"
)

// Writer appends events to the journal directory. It is safe for
// concurrent use.
type Writer struct {
	dir      string
	compress bool
	now      func() time.Time

	mu     sync.Mutex
	curDay string
	f      *os.File
	enc    *zstd.Encoder
	w      *bufio.Writer
}

// Option configures a Writer.
type Option func(*Writer)

// WithCompression writes .jsonl.zst files instead of plain JSONL.
func WithCompression(on bool) Option {
	return func(w *Writer) {
		w.compress = on
	}
}

// WithClock replaces time.Now for picking the daily file.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

// NewWriter creates a Writer for dir. Files are created lazily on the
// first Append.
func NewWriter(dir string, opts ...Option) *Writer {
	w := &Writer{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Append JSON-encodes ev and writes it as a single line.
func (w *Writer) Append(ev logevent.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	day := w.now().Format("2006-01-02")
	if day != w.curDay {
		if err := w.rotateLocked(day); err != nil {
			return err
		}
	}
	if _, err := w.w.Write(data); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	if w.enc != nil {
		// Push a complete block so a crash loses at most the last event.
		return w.enc.Flush()
	}
	return nil
}

// Path returns the file currently being written, or "" before the first
// Append.
func (w *Writer) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return ""
	}
	return w.f.Name()
}

// Close flushes and closes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) rotateLocked(day string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}
	path := w.pathForDay(day)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	var out io.Writer = f
	if w.compress {
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("create zstd encoder: %w", err)
		}
		w.enc = enc
		out = enc
	}
	w.f = f
	w.w = bufio.NewWriterSize(out, 64*1024)
	w.curDay = day
	return nil
}

func (w *Writer) closeLocked() error {
	var err error
	if w.w != nil {
		err = w.w.Flush()
	}
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
		w.enc = nil
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	w.w = nil
	w.curDay = ""
	return err
}

func (w *Writer) pathForDay(day string) string {
	ext := plainExt
	if w.compress {
		ext = compressedExt
	}
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s%s", filePrefix, day, ext))
}

// ReadFile reads every event from a journal file. Compression is detected
// from the extension. Malformed lines are skipped.
func ReadFile(path string) ([]logevent.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open zstd journal: %w", err)
		}
		defer dec.Close()
		r = dec
	}
	return readEvents(r)
}

// Files lists the journal files in dir, oldest first.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix+"-") {
			continue
		}
		if strings.HasSuffix(name, plainExt) || strings.HasSuffix(name, compressedExt) {
			out = append(out, filepath.Join(dir, name))
		}
	}
	// ReadDir sorts by name and names embed the date.
	return out, nil
}

func readEvents(r io.Reader) ([]logevent.Event, error) {
	var events []logevent.Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev logevent.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue // skip malformed lines
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}
