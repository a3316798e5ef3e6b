// Package logparser turns single game log lines into logevent.Events.
//
// The grammar is stateful: inventory changes only count inside a PickItems
// block, price responses are matched to the request that preceded them, and
// drop quantities are deltas against the last quantity seen in each slot.
package logparser

import (
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"tlifarm/internal/logevent"
)

// HideoutScene identifies the player's hideout in a NextSceneName path.
const HideoutScene = "XZ_YuJinZhiXiBiNanSuo200"

var (
	// [2026.01.12-11.34.07:799]
	timestampRe = regexp.MustCompile(`\[(\d{4})\.(\d{2})\.(\d{2})-(\d{2})\.(\d{2})\.(\d{2}):(\d{3})\]`)

	pickStartRe = regexp.MustCompile(`ItemChange@ ProtoName=PickItems start`)
	pickEndRe   = regexp.MustCompile(`ItemChange@ ProtoName=PickItems end`)

	// BagMgr@:Modfy BagItem PageId = 102 SlotId = 1 ConfigBaseId = 100200 Num = 904
	bagModifyRe = regexp.MustCompile(`BagMgr@:Modfy BagItem PageId = (\d+) SlotId = (\d+) ConfigBaseId = (\d+) Num = (\d+)`)

	priceSendRe = regexp.MustCompile(`----Socket SendMessage STT----XchgSearchPrice----SynId = (\d+)`)
	priceRecvRe = regexp.MustCompile(`----Socket RecvMessage STT----XchgSearchPrice----SynId = (\d+)`)

	// +refer [101010037_15] and "|       | +refer [200029]": only the leading id counts.
	priceReferRe = regexp.MustCompile(`\+refer \[(\d+)`)

	priceUnitRe     = regexp.MustCompile(`\+unitPrices\+\d+ \[([\d.]+)\]`)
	priceUnitContRe = regexp.MustCompile(`^\s*\|.*\+\d+ \[([\d.]+)\]`)
	priceCurrencyRe = regexp.MustCompile(`\+currency \[(\d+)\]`)

	mapChangeRe = regexp.MustCompile(`PageApplyBase@\s*_UpdateGameEnd:.*NextSceneName\s*=\s*World'(/Game/Art/Maps[^']*)'`)
)

const (
	priceResponseStartMarker = "----Socket RecvMessage STT----XchgSearchPrice"
	priceResponseEndMarker   = "----Socket RecvMessage End----"
)

// SlotKey identifies an inventory slot.
type SlotKey struct {
	PageID int32
	SlotID int32
}

// Parser holds the cross-line state needed to interpret the log. It is not
// safe for concurrent use; see Shared.
type Parser struct {
	// Now supplies the timestamp for lines without a parseable prefix.
	Now func() time.Time
	// Location is the zone the game writes its timestamps in.
	Location *time.Location
	// Debug enables per-line trace logging.
	Debug bool

	ledger      map[SlotKey]int32
	seen        map[SlotKey]struct{}
	inPickBlock bool

	pending     map[int32]int64 // correlation id -> item id
	lastSendID  int32
	hasLastSend bool
}

// New creates a Parser with an empty ledger.
func New() *Parser {
	return &Parser{
		Now:      time.Now,
		Location: time.Local,
		ledger:   make(map[SlotKey]int32),
		seen:     make(map[SlotKey]struct{}),
		pending:  make(map[int32]int64),
	}
}

// ParseLine interprets one line and returns the event it produces, if any.
// Lines the parser does not understand yield no event.
func (p *Parser) ParseLine(line string) (logevent.Event, bool) {
	if pickStartRe.MatchString(line) {
		p.inPickBlock = true
		p.debugf("entered PickItems block")
		return logevent.Event{}, false
	}
	if pickEndRe.MatchString(line) {
		p.inPickBlock = false
		p.debugf("left PickItems block")
		return logevent.Event{}, false
	}

	if p.inPickBlock {
		if ev, ok := p.parseBagModify(line); ok {
			return ev, true
		}
	}

	if m := priceSendRe.FindStringSubmatch(line); m != nil {
		if id, ok := parseInt32(m[1]); ok {
			p.lastSendID = id
			p.hasLastSend = true
			p.debugf("price request sent: correlation=%d", id)
		}
		return logevent.Event{}, false
	}

	if m := priceReferRe.FindStringSubmatch(line); m != nil && p.hasLastSend {
		if itemID, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			p.pending[p.lastSendID] = itemID
			p.debugf("price request item: correlation=%d item=%d", p.lastSendID, itemID)
		}
	}

	if ev, ok := p.parsePriceRecv(line); ok {
		return ev, true
	}

	return p.parseMapChange(line)
}

// WarmupLine records slot baselines from a historical line without emitting
// events or requiring PickItems context.
func (p *Parser) WarmupLine(line string) {
	m := bagModifyRe.FindStringSubmatch(line)
	if m == nil {
		return
	}
	pageID, ok1 := parseInt32(m[1])
	slotID, ok2 := parseInt32(m[2])
	qty, ok3 := parseInt32(m[4])
	if !ok1 || !ok2 || !ok3 {
		return
	}
	key := SlotKey{PageID: pageID, SlotID: slotID}
	p.ledger[key] = qty
	p.seen[key] = struct{}{}
}

// Reset clears the ledger, pending price requests and block state.
func (p *Parser) Reset() {
	clear(p.ledger)
	clear(p.seen)
	clear(p.pending)
	p.inPickBlock = false
	p.lastSendID = 0
	p.hasLastSend = false
}

// SlotQuantity returns the baseline recorded for a slot and whether the
// slot has been seen.
func (p *Parser) SlotQuantity(key SlotKey) (int32, bool) {
	if _, ok := p.seen[key]; !ok {
		return 0, false
	}
	return p.ledger[key], true
}

// pendingRequests reports how many price requests await a response.
func (p *Parser) pendingRequests() int {
	return len(p.pending)
}

func (p *Parser) parseBagModify(line string) (logevent.Event, bool) {
	m := bagModifyRe.FindStringSubmatch(line)
	if m == nil {
		return logevent.Event{}, false
	}
	pageID, ok1 := parseInt32(m[1])
	slotID, ok2 := parseInt32(m[2])
	itemID, err := strconv.ParseInt(m[3], 10, 64)
	qty, ok3 := parseInt32(m[4])
	if !ok1 || !ok2 || err != nil || !ok3 {
		return logevent.Event{}, false
	}

	key := SlotKey{PageID: pageID, SlotID: slotID}
	if _, seen := p.seen[key]; !seen {
		// The quantity held before tracking started is unknown; count the
		// first sighting as a single pickup and diff from here on.
		p.seen[key] = struct{}{}
		p.ledger[key] = qty
		if qty <= 0 {
			p.debugf("initialized empty slot %v (item=%d)", key, itemID)
			return logevent.Event{}, false
		}
		p.debugf("first sighting of slot %v baseline=%d item=%d, counting 1", key, qty, itemID)
		return logevent.NewItemDrop(p.timestamp(line), logevent.ItemDropData{
			ItemID:   itemID,
			Quantity: 1,
			PageID:   pageID,
			SlotID:   slotID,
		}), true
	}

	delta := qty - p.ledger[key]
	p.ledger[key] = qty
	if delta <= 0 {
		p.debugf("skipping non-pickup: item=%d delta=%d", itemID, delta)
		return logevent.Event{}, false
	}

	p.debugf("item picked up: item=%d qty=%d page=%d slot=%d", itemID, delta, pageID, slotID)
	return logevent.NewItemDrop(p.timestamp(line), logevent.ItemDropData{
		ItemID:   itemID,
		Quantity: delta,
		PageID:   pageID,
		SlotID:   slotID,
	}), true
}

func (p *Parser) parsePriceRecv(line string) (logevent.Event, bool) {
	m := priceRecvRe.FindStringSubmatch(line)
	if m == nil {
		return logevent.Event{}, false
	}
	id, ok := parseInt32(m[1])
	if !ok {
		return logevent.Event{}, false
	}
	itemID, ok := p.pending[id]
	if !ok {
		return logevent.Event{}, false
	}
	delete(p.pending, id)

	p.debugf("price response received: correlation=%d item=%d", id, itemID)
	// Prices follow on the next lines; see ParsePriceBlock.
	return logevent.NewPriceSearch(p.timestamp(line), logevent.PriceSearchData{
		ItemID:        itemID,
		Prices:        []float64{},
		CurrencyID:    logevent.DefaultCurrencyID,
		CorrelationID: id,
	}), true
}

func (p *Parser) parseMapChange(line string) (logevent.Event, bool) {
	m := mapChangeRe.FindStringSubmatch(line)
	if m == nil {
		return logevent.Event{}, false
	}
	scene := m[1]

	// Classify by the destination only: the hideout also shows up as
	// LastSceneName when leaving it.
	kind := logevent.EnterMap
	if strings.Contains(scene, HideoutScene) {
		kind = logevent.ExitToHideout
	}
	p.debugf("map change: %s -> %s", kind, scene)
	return logevent.NewMapChange(p.timestamp(line), logevent.MapChangeData{
		Kind:      kind,
		SceneName: scene,
	}), true
}

// ParsePriceBlock extracts unit prices and the currency from the lines of a
// price response block.
func ParsePriceBlock(lines []string) ([]float64, int64) {
	prices := []float64{}
	currency := logevent.DefaultCurrencyID
	for _, line := range lines {
		if ms := priceUnitRe.FindAllStringSubmatch(line, -1); ms != nil {
			for _, m := range ms {
				if v, err := strconv.ParseFloat(m[1], 64); err == nil {
					prices = append(prices, v)
				}
			}
		} else if m := priceUnitContRe.FindStringSubmatch(line); m != nil {
			// Later entries of the list drop the unitPrices prefix.
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				prices = append(prices, v)
			}
		}
		if m := priceCurrencyRe.FindStringSubmatch(line); m != nil {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				currency = id
			}
		}
	}
	return prices, currency
}

// IsPriceResponseStart reports whether line opens a multi-line price
// response.
func IsPriceResponseStart(line string) bool {
	return strings.Contains(line, priceResponseStartMarker)
}

// IsPriceResponseEnd reports whether line closes a price response.
func IsPriceResponseEnd(line string) bool {
	return strings.Contains(line, priceResponseEndMarker)
}

// ParseTimestamp reads the bracketed prefix of a log line in loc. A nil
// loc means UTC.
func ParseTimestamp(line string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	m := timestampRe.FindStringSubmatch(line)
	if m == nil {
		return time.Time{}, false
	}
	var v [7]int
	for i := range v {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return time.Time{}, false
		}
		v[i] = n
	}
	if v[1] < 1 || v[1] > 12 || v[2] < 1 || v[2] > 31 || v[3] > 23 || v[4] > 59 || v[5] > 59 {
		return time.Time{}, false
	}
	ts := time.Date(v[0], time.Month(v[1]), v[2], v[3], v[4], v[5], v[6]*int(time.Millisecond), loc)
	if ts.Day() != v[2] {
		// time.Date normalizes Feb 30 into March.
		return time.Time{}, false
	}
	return ts, true
}

func (p *Parser) timestamp(line string) time.Time {
	if ts, ok := ParseTimestamp(line, p.Location); ok {
		return ts
	}
	return p.Now()
}

func (p *Parser) debugf(format string, args ...any) {
	if p.Debug {
		log.Printf("logparser: "+format, args...)
	}
}

func parseInt32(s string) (int32, bool) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(n), true
}
