package pricecache

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const fileVersion = 2

// cacheFile is the on-disk layout (version 2).
type cacheFile struct {
	Version int              `json:"version"`
	Prices  map[string]Entry `json:"prices"`
}

// Store reads and writes the price cache file. Writes go through a temp
// file and a rename. A mutex serializes writers within the process and a
// lock file serializes processes.
type Store struct {
	path string
	lock *flock.Flock
	now  func() time.Time

	mu sync.Mutex
}

// NewStore creates a Store for path. The lock lives next to it as
// <path>.lock.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
		now:  time.Now,
	}
}

// Path returns the cache file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the cache file. A missing file yields an empty map. Files in
// the legacy layout ({"<id>": price}) are accepted and stamped with the
// current time.
func (s *Store) Load() (map[int64]Entry, error) {
	return s.load(s.now())
}

// load reads the file, stamping legacy entries with legacyAt.
func (s *Store) load(legacyAt time.Time) (map[int64]Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[int64]Entry{}, nil
		}
		return nil, fmt.Errorf("read price cache: %w", err)
	}

	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err == nil && cf.Version > 0 {
		return decodeEntries(cf.Prices)
	}

	var legacy map[string]float64
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("decode price cache %s: %w", s.path, err)
	}
	out := make(map[int64]Entry, len(legacy))
	for k, p := range legacy {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil || !Valid(p) {
			continue
		}
		out[id] = Entry{Price: p, UpdatedAt: legacyAt}
	}
	return out, nil
}

// Save merges entries into the file, keeping the newer of the two for
// every item, and drops invalid prices. Entries written by another
// process since the last load are therefore kept.
func (s *Store) Save(entries map[int64]Entry) error {
	_, err := s.save(entries)
	return err
}

// save writes the merge of entries and the file and returns what it wrote.
func (s *Store) save(entries map[int64]Entry) (map[int64]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create price cache dir: %w", err)
	}
	if err := s.lock.Lock(); err != nil {
		return nil, fmt.Errorf("lock price cache: %w", err)
	}
	defer s.lock.Unlock() //nolint:errcheck // unlock failure leaves the lock to the OS

	// Legacy entries carry no timestamp; anything held in memory wins.
	merged, err := s.load(time.Time{})
	if err != nil {
		log.Printf("pricecache: warning: overwriting unreadable cache: %v", err)
		merged = make(map[int64]Entry, len(entries))
	}
	for id, e := range entries {
		if !Valid(e.Price) {
			continue
		}
		if cur, ok := merged[id]; ok && !e.UpdatedAt.After(cur.UpdatedAt) {
			continue
		}
		merged[id] = e
	}

	cf := cacheFile{Version: fileVersion, Prices: make(map[string]Entry, len(merged))}
	for id, e := range merged {
		cf.Prices[strconv.FormatInt(id, 10)] = e
	}
	data, err := json.Marshal(cf)
	if err != nil {
		return nil, fmt.Errorf("marshal price cache: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("write price cache: %w", err)
	}
	_, werr := tmp.Write(data)
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Chmod(tmp.Name(), 0o644)
	}
	if werr != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("write price cache: %w", werr)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("replace price cache: %w", err)
	}
	return merged, nil
}

// LoadInto reads the file and merges it into c without overwriting
// entries already in memory. It returns the number of entries added.
func (s *Store) LoadInto(c *Cache) (int, error) {
	entries, err := s.Load()
	if err != nil {
		return 0, err
	}
	return c.MergePersisted(entries), nil
}

// SaveFrom persists a snapshot of c and pulls back any entry the file
// holds that is newer than c's.
func (s *Store) SaveFrom(c *Cache) error {
	merged, err := s.save(c.Snapshot())
	if err != nil {
		return err
	}
	samples := make([]Sample, 0, len(merged))
	for id, e := range merged {
		samples = append(samples, Sample{ItemID: id, Price: e.Price, Timestamp: e.UpdatedAt})
	}
	c.MergeRemote(samples)
	return nil
}

func decodeEntries(raw map[string]Entry) (map[int64]Entry, error) {
	out := make(map[int64]Entry, len(raw))
	for k, e := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("price cache key %q: %w", k, err)
		}
		if Valid(e.Price) {
			out[id] = e
		}
	}
	return out, nil
}
