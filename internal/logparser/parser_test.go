package logparser

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tlifarm/internal/logevent"
)

const (
	pickStart = "[2026.01.12-11.34.07:700][980]GameLog: Display: [Game] ItemChange@ ProtoName=PickItems start"
	pickEnd   = "[2026.01.12-11.34.07:900][980]GameLog: Display: [Game] ItemChange@ ProtoName=PickItems end"
)

func bagLine(page, slot int, item int64, num int) string {
	return fmt.Sprintf("[2026.01.12-11.34.07:799][980]GameLog: Display: [Game] BagMgr@:Modfy BagItem PageId = %d SlotId = %d ConfigBaseId = %d Num = %d",
		page, slot, item, num)
}

func mapLine(from, to string) string {
	return fmt.Sprintf("[2026.01.12-11.40.00:000][100]GameLog: Display: [Game] PageApplyBase@ _UpdateGameEnd: LastSceneName = World'/Game/Art/Maps/%s' NextSceneName = World'/Game/Art/Maps/%s'",
		from, to)
}

func requireDrop(t *testing.T, ev logevent.Event, ok bool) logevent.ItemDropData {
	t.Helper()
	require.True(t, ok, "expected an event")
	d, isDrop := ev.ItemDrop()
	require.True(t, isDrop, "expected an item drop, got %v", ev.Type)
	return d
}

func TestParseLine_FirstSightingCountsOne(t *testing.T) {
	p := New()
	p.ParseLine(pickStart)

	ev, ok := p.ParseLine(bagLine(102, 1, 100200, 50))
	d := requireDrop(t, ev, ok)
	assert.Equal(t, int64(100200), d.ItemID)
	assert.Equal(t, int32(1), d.Quantity)
	assert.Equal(t, int32(102), d.PageID)
	assert.Equal(t, int32(1), d.SlotID)
}

func TestParseLine_FirstSightingEmptySlot(t *testing.T) {
	p := New()
	p.ParseLine(pickStart)

	_, ok := p.ParseLine(bagLine(102, 2, 100200, 0))
	assert.False(t, ok)

	qty, seen := p.SlotQuantity(SlotKey{PageID: 102, SlotID: 2})
	assert.True(t, seen)
	assert.Equal(t, int32(0), qty)

	// Known slot now: 0 -> 3 is a real delta.
	ev, ok := p.ParseLine(bagLine(102, 2, 100200, 3))
	d := requireDrop(t, ev, ok)
	assert.Equal(t, int32(3), d.Quantity)
}

func TestParseLine_DeltaSequence(t *testing.T) {
	tests := []struct {
		name  string
		quant []int
		want  []int32 // 0 = no event
	}{
		{name: "growing stack", quant: []int{50, 75, 80}, want: []int32{1, 25, 5}},
		{name: "consumption ignored", quant: []int{10, 4, 6}, want: []int32{1, 0, 2}},
		{name: "unchanged", quant: []int{5, 5}, want: []int32{1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New()
			p.ParseLine(pickStart)
			for i, q := range tt.quant {
				ev, ok := p.ParseLine(bagLine(102, 1, 100200, q))
				if tt.want[i] == 0 {
					assert.False(t, ok, "step %d", i)
					continue
				}
				d := requireDrop(t, ev, ok)
				assert.Equal(t, tt.want[i], d.Quantity, "step %d", i)
			}
			qty, _ := p.SlotQuantity(SlotKey{PageID: 102, SlotID: 1})
			assert.Equal(t, int32(tt.quant[len(tt.quant)-1]), qty, "ledger tracks the last quantity")
		})
	}
}

func TestParseLine_OutsidePickBlockIgnored(t *testing.T) {
	p := New()
	_, ok := p.ParseLine(bagLine(102, 1, 100200, 50))
	assert.False(t, ok)

	_, seen := p.SlotQuantity(SlotKey{PageID: 102, SlotID: 1})
	assert.False(t, seen, "lines outside PickItems must not touch the ledger")

	p.ParseLine(pickStart)
	p.ParseLine(pickEnd)
	_, ok = p.ParseLine(bagLine(102, 1, 100200, 60))
	assert.False(t, ok)
}

func TestParseLine_Timestamp(t *testing.T) {
	p := New()
	p.Location = time.UTC
	p.ParseLine(pickStart)
	ev, ok := p.ParseLine(bagLine(102, 1, 1, 1))
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 12, 11, 34, 7, 799e6, time.UTC), ev.Timestamp)
}

func TestParseLine_TimestampFallsBackToClock(t *testing.T) {
	fixed := time.Date(2030, 5, 5, 5, 5, 5, 0, time.UTC)
	p := New()
	p.Now = func() time.Time { return fixed }
	p.ParseLine(pickStart)
	ev, ok := p.ParseLine("BagMgr@:Modfy BagItem PageId = 1 SlotId = 1 ConfigBaseId = 5 Num = 2")
	require.True(t, ok)
	assert.Equal(t, fixed, ev.Timestamp)
}

func TestWarmup_EstablishesBaselineWithoutEvents(t *testing.T) {
	p := New()
	for _, l := range []string{
		pickStart,
		bagLine(102, 1, 100200, 40),
		bagLine(102, 1, 100200, 50),
	} {
		p.WarmupLine(l)
	}
	qty, seen := p.SlotQuantity(SlotKey{PageID: 102, SlotID: 1})
	require.True(t, seen)
	assert.Equal(t, int32(50), qty)

	// The final baseline line seen again live is not a drop.
	p.ParseLine(pickStart)
	_, ok := p.ParseLine(bagLine(102, 1, 100200, 50))
	assert.False(t, ok)

	ev, ok := p.ParseLine(bagLine(102, 1, 100200, 57))
	d := requireDrop(t, ev, ok)
	assert.Equal(t, int32(7), d.Quantity)
}

func TestPriceCorrelation(t *testing.T) {
	p := New()
	_, ok := p.ParseLine("[2026.01.12-11.34.07:799][1]GameLog: Display: [Game] ----Socket SendMessage STT----XchgSearchPrice----SynId = 4006")
	assert.False(t, ok)
	_, ok = p.ParseLine("|       | +refer [101010037_15]")
	assert.False(t, ok)
	assert.Equal(t, 1, p.pendingRequests())

	ev, ok := p.ParseLine("[2026.01.12-11.34.08:000][1]GameLog: Display: [Game] ----Socket RecvMessage STT----XchgSearchPrice----SynId = 4006")
	require.True(t, ok)
	d, isPrice := ev.PriceSearch()
	require.True(t, isPrice)
	assert.Equal(t, int64(101010037), d.ItemID)
	assert.Equal(t, int32(4006), d.CorrelationID)
	assert.Empty(t, d.Prices)
	assert.Equal(t, logevent.DefaultCurrencyID, d.CurrencyID)

	// Consumed exactly once.
	_, ok = p.ParseLine("----Socket RecvMessage STT----XchgSearchPrice----SynId = 4006")
	assert.False(t, ok)
	assert.Equal(t, 0, p.pendingRequests())
}

func TestPriceCorrelation_MissIgnored(t *testing.T) {
	p := New()
	_, ok := p.ParseLine("----Socket RecvMessage STT----XchgSearchPrice----SynId = 1")
	assert.False(t, ok)

	// A refer with no preceding send is not remembered.
	p.ParseLine("+refer [200029]")
	assert.Equal(t, 0, p.pendingRequests())
}

func TestParsePriceBlock(t *testing.T) {
	lines := []string{
		"----Socket RecvMessage STT----XchgSearchPrice----SynId = 4006",
		"|  +unitPrices+1 [1.5]",
		"|      | |          +2 [2.25]",
		"|  +currency [100200]",
		"----Socket RecvMessage End----",
	}
	prices, currency := ParsePriceBlock(lines)
	assert.Equal(t, []float64{1.5, 2.25}, prices)
	assert.Equal(t, int64(100200), currency)

	prices, currency = ParsePriceBlock([]string{"nothing here"})
	assert.Empty(t, prices)
	assert.Equal(t, logevent.DefaultCurrencyID, currency)
}

func TestParseLine_MapChange(t *testing.T) {
	tests := []struct {
		name string
		line string
		want logevent.MapEventKind
	}{
		{name: "enter from hideout", line: mapLine("XZ_YuJinZhiXiBiNanSuo200/Hideout", "Map_Rainforest/Map_Rainforest"), want: logevent.EnterMap},
		{name: "exit to hideout", line: mapLine("Map_Rainforest/Map_Rainforest", "XZ_YuJinZhiXiBiNanSuo200/Hideout"), want: logevent.ExitToHideout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := New().ParseLine(tt.line)
			require.True(t, ok)
			d, isMap := ev.MapChange()
			require.True(t, isMap)
			assert.Equal(t, tt.want, d.Kind)
			assert.Contains(t, d.SceneName, "/Game/Art/Maps/")
		})
	}
}

func TestReset_ClearsEverything(t *testing.T) {
	p := New()
	p.ParseLine(pickStart)
	p.ParseLine(bagLine(102, 1, 100200, 50))
	p.ParseLine("----Socket SendMessage STT----XchgSearchPrice----SynId = 9")
	p.ParseLine("+refer [200029]")

	p.Reset()

	_, seen := p.SlotQuantity(SlotKey{PageID: 102, SlotID: 1})
	assert.False(t, seen)
	assert.Equal(t, 0, p.pendingRequests())

	// Block flag cleared: inventory lines are ignored until the next start.
	_, ok := p.ParseLine(bagLine(102, 1, 100200, 80))
	assert.False(t, ok)

	// Correlation memory cleared: a refer no longer attaches to id 9.
	p.ParseLine("+refer [200029]")
	assert.Equal(t, 0, p.pendingRequests())
}

func TestParseTimestamp_Invalid(t *testing.T) {
	_, ok := ParseTimestamp("[2026.02.30-11.34.07:799]", nil)
	assert.False(t, ok)
	_, ok = ParseTimestamp("no timestamp", nil)
	assert.False(t, ok)
}

func TestParseTimestamp_Location(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	ts, ok := ParseTimestamp("[2026.01.12-11.34.07:799]", loc)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 12, 8, 34, 7, 799e6, time.UTC), ts.UTC())
}

func TestShared_ConcurrentAccess(t *testing.T) {
	s := NewShared(nil)
	s.ParseLine(pickStart)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.ParseLine(bagLine(1, i, 7, j))
				if j%10 == 0 {
					s.WarmupLine(bagLine(2, i, 7, j))
				}
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Reset()
	}()
	wg.Wait()

	s.Reset()
	_, seen := s.SlotQuantity(SlotKey{PageID: 1, SlotID: 0})
	assert.False(t, seen)
}
