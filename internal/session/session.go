// Package session folds log events into a running farm session and
// computes point-in-time statistics for it.
package session

import (
	"time"

	"tlifarm/internal/logevent"
)

// duplicateWindow bounds how close two identical map events must be for the
// second to be discarded as a repeat. Gaps are compared in whole seconds, so
// anything under three seconds counts.
const duplicateWindow = 3 * time.Second

// FarmSession is the unit of aggregation. The zero value is an inactive
// session.
type FarmSession struct {
	ID        string    `json:"id,omitempty"`
	PresetID  string    `json:"preset_id,omitempty"`
	StartedAt time.Time `json:"started_at"`

	MapsCompleted int32 `json:"maps_completed"`
	TotalMapSec   int64 `json:"total_map_sec"`

	OnMap             bool      `json:"on_map"`
	CurrentMapStarted time.Time `json:"current_map_started,omitempty"`

	// Last accepted map event, for deduplication.
	HasLastMapEvent bool                  `json:"has_last_map_event"`
	LastMapKind     logevent.MapEventKind `json:"last_map_kind"`
	LastMapAt       time.Time             `json:"last_map_at,omitempty"`
	LastMapScene    string                `json:"last_map_scene,omitempty"`

	// Drops maps item id to the quantity picked up this session.
	Drops map[int64]int32 `json:"drops"`
}

// Active reports whether the session has been started.
func (s *FarmSession) Active() bool {
	return !s.StartedAt.IsZero()
}

func (s FarmSession) clone() FarmSession {
	out := s
	out.Drops = make(map[int64]int32, len(s.Drops))
	for id, q := range s.Drops {
		out.Drops[id] = q
	}
	return out
}

func (s *FarmSession) addDrop(itemID int64, qty int32) int32 {
	if s.Drops == nil {
		s.Drops = make(map[int64]int32)
	}
	s.Drops[itemID] += qty
	return s.Drops[itemID]
}

// applyMapChange runs the map state machine for one event. It returns true
// when the event completed a map.
func (s *FarmSession) applyMapChange(ts time.Time, d logevent.MapChangeData) bool {
	if !s.Active() {
		return false
	}

	// The log sometimes writes the same transition twice.
	if s.HasLastMapEvent && s.LastMapKind == d.Kind && s.LastMapScene == d.SceneName {
		if absDuration(ts.Sub(s.LastMapAt)) < duplicateWindow {
			return false
		}
	}

	// Second exit without an enter in between: still in the hideout.
	if d.Kind == logevent.ExitToHideout && s.HasLastMapEvent && s.LastMapKind == logevent.ExitToHideout {
		s.LastMapAt = ts
		s.LastMapScene = d.SceneName
		return false
	}

	completed := false
	switch d.Kind {
	case logevent.EnterMap:
		s.enterMap(ts)
	case logevent.ExitToHideout:
		s.exitMap(ts)
		completed = true
	}

	s.HasLastMapEvent = true
	s.LastMapKind = d.Kind
	s.LastMapAt = ts
	s.LastMapScene = d.SceneName
	return completed
}

func (s *FarmSession) enterMap(ts time.Time) {
	if s.OnMap {
		return
	}
	s.OnMap = true
	s.CurrentMapStarted = ts
}

// exitMap counts a completed map. Without an observed enter (session
// started mid-map) the map is timed from the session start.
func (s *FarmSession) exitMap(ts time.Time) {
	started := s.CurrentMapStarted
	if started.IsZero() {
		started = s.StartedAt
	}
	s.MapsCompleted++
	if secs := wholeSeconds(ts.Sub(started)); secs > 0 {
		s.TotalMapSec += secs
	}
	s.OnMap = false
	s.CurrentMapStarted = time.Time{}
}

func wholeSeconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
