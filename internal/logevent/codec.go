package logevent

import (
	"encoding/json"
	"fmt"
	"time"
)

// --- Wire format ---

// envelope is the JSON representation of an Event, shared by the journal
// and the relay.
type envelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

var stringToEventType = map[string]EventType{
	EventItemDrop.String():    EventItemDrop,
	EventPriceSearch.String(): EventPriceSearch,
	EventMapChange.String():   EventMapChange,
}

// MarshalText encodes the kind by name.
func (k MapEventKind) MarshalText() ([]byte, error) {
	switch k {
	case EnterMap, ExitToHideout:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("unknown map event kind %d", int(k))
	}
}

// UnmarshalText decodes a kind name.
func (k *MapEventKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "enter_map":
		*k = EnterMap
	case "exit_to_hideout":
		*k = ExitToHideout
	default:
		return fmt.Errorf("unknown map event kind %q", string(b))
	}
	return nil
}

// MarshalJSON encodes the event as a {type, timestamp, data} envelope.
func (ev Event) MarshalJSON() ([]byte, error) {
	env := envelope{
		Type:      ev.Type.String(),
		Timestamp: ev.Timestamp,
	}
	if ev.Data != nil {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s data: %w", env.Type, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes an envelope produced by MarshalJSON.
func (ev *Event) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	evType, ok := stringToEventType[env.Type]
	if !ok {
		return fmt.Errorf("unknown event type: %s", env.Type)
	}
	out := Event{Type: evType, Timestamp: env.Timestamp}
	if len(env.Data) > 0 {
		data, err := unmarshalData(evType, env.Data)
		if err != nil {
			return fmt.Errorf("unmarshal data for %s: %w", env.Type, err)
		}
		out.Data = data
	}
	*ev = out
	return nil
}

func unmarshalData(evType EventType, raw json.RawMessage) (any, error) {
	switch evType {
	case EventItemDrop:
		var d ItemDropData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case EventPriceSearch:
		var d PriceSearchData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case EventMapChange:
		var d MapChangeData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("no payload type for %s", evType)
	}
}
