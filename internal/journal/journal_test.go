package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tlifarm/internal/logevent"
)

func sampleEvents() []logevent.Event {
	ts := time.Date(2026, 1, 12, 11, 34, 7, 799e6, time.UTC)
	return []logevent.Event{
		logevent.NewItemDrop(ts, logevent.ItemDropData{ItemID: 100200, Quantity: 25, PageID: 102, SlotID: 1}),
		logevent.NewPriceSearch(ts.Add(time.Second), logevent.PriceSearchData{ItemID: 100200, Prices: []float64{1.5, 2.5}, CurrencyID: 100300, CorrelationID: 4006}),
		logevent.NewMapChange(ts.Add(2*time.Second), logevent.MapChangeData{Kind: logevent.ExitToHideout, SceneName: "/Game/Art/Maps/x"}),
	}
}

func fixedClock() time.Time {
	return time.Date(2026, 1, 12, 23, 0, 0, 0, time.UTC)
}

func TestWriter_RoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "zstd"
		}
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			w := NewWriter(dir, WithCompression(compress), WithClock(fixedClock))
			assert.Empty(t, w.Path())

			want := sampleEvents()
			for _, ev := range want {
				require.NoError(t, w.Append(ev))
			}
			path := w.Path()
			require.NoError(t, w.Close())

			if compress {
				assert.True(t, strings.HasSuffix(path, "events-2026-01-12.jsonl.zst"), path)
			} else {
				assert.True(t, strings.HasSuffix(path, "events-2026-01-12.jsonl"), path)
			}

			got, err := ReadFile(path)
			require.NoError(t, err)
			require.Len(t, got, len(want))
			for i := range want {
				assert.Equal(t, want[i].Type, got[i].Type)
				assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp))
				assert.Equal(t, want[i].Data, got[i].Data)
			}
		})
	}
}

func TestWriter_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	events := sampleEvents()

	w := NewWriter(dir, WithCompression(true), WithClock(fixedClock))
	require.NoError(t, w.Append(events[0]))
	require.NoError(t, w.Close())

	// A second process run appends another zstd frame to the same file.
	w = NewWriter(dir, WithCompression(true), WithClock(fixedClock))
	require.NoError(t, w.Append(events[1]))
	path := w.Path()
	require.NoError(t, w.Close())

	got, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, logevent.EventItemDrop, got[0].Type)
	assert.Equal(t, logevent.EventPriceSearch, got[1].Type)
}

func TestWriter_RotatesDaily(t *testing.T) {
	dir := t.TempDir()
	now := fixedClock()
	w := NewWriter(dir, WithClock(func() time.Time { return now }))
	events := sampleEvents()

	require.NoError(t, w.Append(events[0]))
	now = now.Add(2 * time.Hour)
	require.NoError(t, w.Append(events[1]))
	require.NoError(t, w.Close())

	files, err := Files(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "events-2026-01-12.jsonl", filepath.Base(files[0]))
	assert.Equal(t, "events-2026-01-13.jsonl", filepath.Base(files[1]))
}

func TestReadFile_SkipsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events-2026-01-12.jsonl")
	content := strings.Join([]string{
		`{"type":"map_change","timestamp":"2026-01-12T11:00:00Z","data":{"kind":"enter_map","scene_name":"/Game/Art/Maps/a"}}`,
		`not json`,
		`{"type":"bogus","timestamp":"2026-01-12T11:00:00Z"}`,
		``,
		`{"type":"item_drop","timestamp":"2026-01-12T11:00:01Z","data":{"item_id":7,"quantity":2,"page_id":1,"slot_id":3}}`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	d, ok := got[1].ItemDrop()
	require.True(t, ok)
	assert.Equal(t, int64(7), d.ItemID)
}

func TestFiles_MissingDir(t *testing.T) {
	files, err := Files(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, files)
}
