package tailer

import (
	"errors"
	"strings"
	"testing"

	"tlifarm/internal/logevent"
	"tlifarm/internal/logparser"
)

func TestReplay(t *testing.T) {
	log := strings.Join([]string{
		pickStart + bagLine(1, 0, 100200, 1) + pickEnd,
		"[2026.01.12-11.34.07:799][1]GameLog: Display: [Game] ----Socket SendMessage STT----XchgSearchPrice----SynId = 7\n",
		"|       | +refer [100200]\n",
		"[2026.01.12-11.34.08:000][1]GameLog: Display: [Game] ----Socket RecvMessage STT----XchgSearchPrice----SynId = 7\n",
		"|  +unitPrices+1 [3]\n",
		"[2026.01.12-11.34.08:001][1]GameLog: Display: [Game] ----Socket RecvMessage End----\n",
		mapLine("next"),
	}, "")

	var got []logevent.Event
	n, err := Replay(strings.NewReader(log), logparser.NewShared(nil), func(ev logevent.Event) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if n != 9 {
		t.Errorf("lines = %d, want 9", n)
	}
	if len(got) != 3 {
		t.Fatalf("events = %v", got)
	}
	if d, ok := got[0].ItemDrop(); !ok || d.ItemID != 100200 || d.Quantity != 1 {
		t.Errorf("first event = %v", got[0])
	}
	if d, ok := got[1].PriceSearch(); !ok || len(d.Prices) != 1 || d.Prices[0] != 3 {
		t.Errorf("second event = %v", got[1])
	}
	if got[2].Type != logevent.EventMapChange {
		t.Errorf("third event = %v", got[2])
	}
}

func TestReplay_NoTrailingNewline(t *testing.T) {
	var got int
	n, err := Replay(strings.NewReader(strings.TrimSuffix(mapLine("x"), "\n")), logparser.NewShared(nil), func(logevent.Event) error {
		got++
		return nil
	})
	if err != nil || n != 1 || got != 1 {
		t.Fatalf("n = %d, events = %d, err = %v", n, got, err)
	}
}

func TestReplay_EmitErrorStops(t *testing.T) {
	stop := errors.New("stop")
	log := mapLine("a") + mapLine("b")
	calls := 0
	_, err := Replay(strings.NewReader(log), logparser.NewShared(nil), func(logevent.Event) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("err = %v, want stop", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
