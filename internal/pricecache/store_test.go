package pricecache

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prices_cache.json")
	s := NewStore(path)

	ts := time.Date(2026, 1, 12, 11, 0, 0, 0, time.UTC)
	err := s.Save(map[int64]Entry{
		100200: {Price: 1.25, UpdatedAt: ts},
		100300: {Price: -1, UpdatedAt: ts},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 (invalid price dropped)", len(got))
	}
	e := got[100200]
	if e.Price != 1.25 || !e.UpdatedAt.Equal(ts) {
		t.Errorf("entry = %+v", e)
	}
	if tmps, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp")); len(tmps) != 0 {
		t.Errorf("temp files left behind: %v", tmps)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing.json"))
	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestStore_LoadLegacy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices_cache.json")
	if err := os.WriteFile(path, []byte(`{"100200": 2.5, "5": 0, "bad": 1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore(path)
	s.now = func() time.Time { return now }

	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if e := got[100200]; e.Price != 2.5 || !e.UpdatedAt.Equal(now) {
		t.Errorf("entry = %+v", e)
	}
}

func TestStore_LoadIntoKeepsMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices_cache.json")
	s := NewStore(path)
	if err := s.Save(map[int64]Entry{1: {Price: 10, UpdatedAt: time.Now()}, 2: {Price: 20, UpdatedAt: time.Now()}}); err != nil {
		t.Fatal(err)
	}

	c := New(nil)
	if _, err := c.Update(1, 1); err != nil {
		t.Fatal(err)
	}
	added, err := s.LoadInto(c)
	if err != nil {
		t.Fatalf("load into: %v", err)
	}
	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}
	if e, _ := c.Get(1); e.Price != 1 {
		t.Errorf("in-memory price overwritten: %+v", e)
	}
}

func TestStore_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices_cache.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(path).Load(); err == nil {
		t.Fatal("expected error for corrupt file")
	}
}

func TestStore_SaveKeepsNewerEntriesFromOtherWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices_cache.json")
	old := time.Date(2026, 1, 12, 11, 0, 0, 0, time.UTC)
	newer := old.Add(time.Minute)

	// Two processes that each loaded the file before the other wrote.
	setter := NewStore(path)
	watcher := NewStore(path)
	if err := setter.Save(map[int64]Entry{42: {Price: 9.5, UpdatedAt: newer}, 7: {Price: 3, UpdatedAt: newer}}); err != nil {
		t.Fatal(err)
	}
	if err := watcher.Save(map[int64]Entry{7: {Price: 1, UpdatedAt: old}, 8: {Price: 2, UpdatedAt: old}}); err != nil {
		t.Fatal(err)
	}

	got, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries = %+v, want 3", got)
	}
	if got[42].Price != 9.5 {
		t.Errorf("item 42 = %+v, want kept from the other writer", got[42])
	}
	if got[7].Price != 3 {
		t.Errorf("item 7 = %+v, want the newer price 3", got[7])
	}
	if got[8].Price != 2 {
		t.Errorf("item 8 = %+v", got[8])
	}
}

func TestStore_SaveFromPullsNewerEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices_cache.json")
	ts := time.Date(2026, 1, 12, 11, 0, 0, 0, time.UTC)
	if err := NewStore(path).Save(map[int64]Entry{42: {Price: 9.5, UpdatedAt: ts}}); err != nil {
		t.Fatal(err)
	}

	c := New(func() time.Time { return ts.Add(-time.Hour) })
	if _, err := c.Update(7, 1); err != nil {
		t.Fatal(err)
	}
	if err := NewStore(path).SaveFrom(c); err != nil {
		t.Fatalf("save from: %v", err)
	}
	if e, ok := c.Get(42); !ok || e.Price != 9.5 {
		t.Errorf("item 42 = %+v, %v; want pulled from file", e, ok)
	}
}

func TestStore_SaveOverCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices_cache.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path)
	if err := s.Save(map[int64]Entry{1: {Price: 1, UpdatedAt: time.Now()}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("entries = %+v", got)
	}
}

func TestStore_ConcurrentSaves(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prices_cache.json")
	s := NewStore(path)
	base := time.Date(2026, 1, 12, 11, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	errs := make(chan error, 16*20)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				errs <- s.Save(map[int64]Entry{int64(g): {Price: float64(i + 1), UpdatedAt: base.Add(time.Duration(i) * time.Second)}})
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 16 {
		t.Fatalf("len = %d, want 16", len(got))
	}
	for g := int64(0); g < 16; g++ {
		if got[g].Price != 20 {
			t.Errorf("item %d = %+v, want the last price 20", g, got[g])
		}
	}
	if tmps, _ := filepath.Glob(filepath.Join(dir, "*.tmp")); len(tmps) != 0 {
		t.Errorf("temp files left behind: %v", tmps)
	}
}
