package logparser

import (
	"sync"
	"time"

	"tlifarm/internal/logevent"
)

// Shared guards a single Parser with a mutex. The tailer and the session
// command surface hold the same *Shared so that starting a session clears
// the state the tailer is using.
type Shared struct {
	mu sync.Mutex
	p  *Parser
}

// NewShared wraps p. A nil p gets a fresh Parser.
func NewShared(p *Parser) *Shared {
	if p == nil {
		p = New()
	}
	return &Shared{p: p}
}

// ParseLine runs Parser.ParseLine under the lock.
func (s *Shared) ParseLine(line string) (logevent.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.ParseLine(line)
}

// WarmupLine runs Parser.WarmupLine under the lock.
func (s *Shared) WarmupLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.WarmupLine(line)
}

// WarmupLines feeds several historical lines while holding the lock once.
func (s *Shared) WarmupLines(lines []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range lines {
		s.p.WarmupLine(line)
	}
}

// Reset clears all parser state.
func (s *Shared) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.Reset()
}

// SlotQuantity reports the recorded baseline for a slot.
func (s *Shared) SlotQuantity(key SlotKey) (int32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.SlotQuantity(key)
}

// SetDebug toggles per-line trace logging.
func (s *Shared) SetDebug(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.Debug = on
}

// SetLocation sets the zone used to read log timestamps.
func (s *Shared) SetLocation(loc *time.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.Location = loc
}

// ParsePriceBlock extracts prices from a buffered response block. It holds
// no parser state and takes no lock.
func (s *Shared) ParsePriceBlock(lines []string) ([]float64, int64) {
	return ParsePriceBlock(lines)
}
