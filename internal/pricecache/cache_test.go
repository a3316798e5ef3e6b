package pricecache

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestUpdate_RejectsInvalid(t *testing.T) {
	c := New(nil)
	for _, p := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := c.Update(1, p)
		assert.True(t, errors.Is(err, ErrInvalidPrice), "price %v", p)
	}
	assert.Equal(t, 0, c.Len())
}

func TestUpdate_Overwrites(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New(fixedClock(now))
	_, err := c.Update(7, 1.0)
	require.NoError(t, err)
	_, err = c.Update(7, 2.5)
	require.NoError(t, err)

	e, ok := c.Get(7)
	require.True(t, ok)
	assert.Equal(t, 2.5, e.Price)
	assert.Equal(t, now, e.UpdatedAt)
}

func TestMergeRemote_StrictlyNewerWins(t *testing.T) {
	T := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New(fixedClock(T))
	c.MergePersisted(map[int64]Entry{1: {Price: 12.5, UpdatedAt: T}})

	n := c.MergeRemote([]Sample{{ItemID: 1, Price: 9.0, Timestamp: T.Add(-10 * time.Second)}})
	assert.Equal(t, 0, n)
	e, _ := c.Get(1)
	assert.Equal(t, 12.5, e.Price)

	n = c.MergeRemote([]Sample{{ItemID: 1, Price: 9.0, Timestamp: T}})
	assert.Equal(t, 0, n, "equal timestamps keep the local entry")

	n = c.MergeRemote([]Sample{{ItemID: 1, Price: 9.0, Timestamp: T.Add(10 * time.Second)}})
	assert.Equal(t, 1, n)
	e, _ = c.Get(1)
	assert.Equal(t, 9.0, e.Price)
	assert.Equal(t, T.Add(10*time.Second), e.UpdatedAt)
}

func TestMergeRemote_SkipsInvalidAndAddsUnknown(t *testing.T) {
	c := New(nil)
	n := c.MergeRemote([]Sample{
		{ItemID: 1, Price: math.NaN(), Timestamp: time.Now()},
		{ItemID: 2, Price: 3, Timestamp: time.Now()},
	})
	assert.Equal(t, 1, n)
	_, ok := c.Get(1)
	assert.False(t, ok)
}

func TestMergePersisted_NeverOverwrites(t *testing.T) {
	c := New(nil)
	_, err := c.Update(1, 5)
	require.NoError(t, err)

	added := c.MergePersisted(map[int64]Entry{
		1: {Price: 99, UpdatedAt: time.Now().Add(time.Hour)},
		2: {Price: 4, UpdatedAt: time.Now()},
	})
	assert.Equal(t, 1, added)
	e, _ := c.Get(1)
	assert.Equal(t, 5.0, e.Price)
}

func TestSelectMarketPrice(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		want   float64
		ok     bool
	}{
		{name: "unsorted five", prices: []float64{5, 1, 3, 2, 4}, want: 2, ok: true},
		{name: "single", prices: []float64{7}, want: 7, ok: true},
		{name: "two picks min", prices: []float64{9, 8}, want: 8, ok: true},
		{name: "filters junk", prices: []float64{math.NaN(), -1, 0, 4, math.Inf(1)}, want: 4, ok: true},
		{name: "eleven", prices: []float64{11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1}, want: 3, ok: true},
		{name: "empty", prices: nil, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectMarketPrice(tt.prices)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
