package game

import (
	"encoding/json"
	"time"
)

// EventType classifies activity journal records.
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeJoin
	EventTypeLeave
	EventTypePlace
	EventTypeClear
	EventTypeEvict
	EventTypeReset
)

// EventVersion for backwards compatibility of journal readers
const EventVersion uint8 = 1

// Event is one activity journal record.
type Event struct {
	Version   uint8           `json:"version"`
	Type      EventType       `json:"type"`
	Name      string          `json:"name"`
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`
	PlayerID  string          `json:"playerId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventTypeJoin:
		return "join"
	case EventTypeLeave:
		return "leave"
	case EventTypePlace:
		return "place"
	case EventTypeClear:
		return "clear"
	case EventTypeEvict:
		return "evict"
	case EventTypeReset:
		return "reset"
	default:
		return "unknown"
	}
}

// JoinPayload records a join and whether it replaced another session.
type JoinPayload struct {
	Username string `json:"username"`
	Replaced bool   `json:"replaced,omitempty"`
}

// PlacePayload records a single placement.
type PlacePayload struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color string `json:"color"`
}

// ClearPayload records a dynamite or grid reset.
type ClearPayload struct {
	Removed int     `json:"removed"`
	Cost    float64 `json:"cost,omitempty"`
}

// EncodePayload marshals a payload to JSON bytes
func EncodePayload(payload interface{}) json.RawMessage {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, playerID string, payload interface{}) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Name:      eventType.String(),
		Timestamp: time.Now().UnixNano(),
		PlayerID:  playerID,
		Payload:   EncodePayload(payload),
	}
}
