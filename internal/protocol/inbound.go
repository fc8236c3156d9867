package protocol

import (
	"encoding/json"
	"fmt"
	"math"
)

// Inbound message types.
const (
	TypeJoin         = "join"
	TypePlacePixel   = "placePixel"
	TypeUseDynamite  = "useDynamite"
	TypeUpdateColor  = "updateColor"
	TypeUpdatePlayer = "updatePlayer"
	TypePlayerStats  = "playerStats" // legacy alias of updatePlayer
	TypePong         = "pong"
)

// Event is one decoded client message. The set of implementations is closed:
// Join, PlacePixel, UseDynamite, UpdateColor, UpdateStats, Pong and Unknown.
type Event interface {
	Action() string
	isEvent()
}

// Join binds the connection to a participant. Nil fields take server defaults.
type Join struct {
	PlayerID string
	Username *string
	Tokens   *float64
	Level    *int
	Energy   *int
	Color    *string
}

// PlacePixel paints one cell.
type PlacePixel struct {
	PlayerID string
	X, Y     int
	Color    string
}

// UseDynamite spends currency to clear all of the sender's cells.
type UseDynamite struct {
	PlayerID string
}

// UpdateColor changes the sender's display color.
type UpdateColor struct {
	PlayerID string
	Color    string
}

// UpdateStats overwrites the sender's client-reported numbers.
type UpdateStats struct {
	PlayerID string
	Tokens   float64
	Level    int
	Energy   int
}

// Pong answers an application ping.
type Pong struct{}

// Unknown is any message whose type is not recognised. It is ignored.
type Unknown struct {
	Type string
}

func (Join) Action() string        { return TypeJoin }
func (PlacePixel) Action() string  { return TypePlacePixel }
func (UseDynamite) Action() string { return TypeUseDynamite }
func (UpdateColor) Action() string { return TypeUpdateColor }
func (UpdateStats) Action() string { return TypeUpdatePlayer }
func (Pong) Action() string        { return TypePong }
func (u Unknown) Action() string   { return u.Type }

func (Join) isEvent()        {}
func (PlacePixel) isEvent()  {}
func (UseDynamite) isEvent() {}
func (UpdateColor) isEvent() {}
func (UpdateStats) isEvent() {}
func (Pong) isEvent()        {}
func (Unknown) isEvent()     {}

// DecodeError reports a message that could not be turned into an Event.
// Type is empty when the frame was not a JSON object.
type DecodeError struct {
	Type   string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("decode message: %s", e.Reason)
	}
	return fmt.Sprintf("decode %s: %s", e.Type, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// wireMessage is the union of every inbound field. Pointers distinguish
// absent from zero.
type wireMessage struct {
	Type     string   `json:"type"`
	PlayerID *string  `json:"playerId"`
	Username *string  `json:"username"`
	Tokens   *float64 `json:"tokens"`
	Level    *float64 `json:"level"`
	Energy   *float64 `json:"energy"`
	Color    *string  `json:"color"`
	X        *float64 `json:"x"`
	Y        *float64 `json:"y"`
}

// Decode parses one frame into exactly one Event variant. Known types with
// missing or malformed required fields return a *DecodeError carrying the
// type, so the caller can reject the action.
func Decode(raw []byte) (Event, error) {
	var m wireMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &DecodeError{Reason: "malformed json", Err: err}
	}

	switch m.Type {
	case TypeJoin:
		id, err := requireString(m.Type, "playerId", m.PlayerID)
		if err != nil {
			return nil, err
		}
		ev := Join{PlayerID: id, Username: m.Username, Tokens: m.Tokens, Color: m.Color}
		if m.Level != nil {
			lvl, err := integral(m.Type, "level", *m.Level)
			if err != nil {
				return nil, err
			}
			ev.Level = &lvl
		}
		if m.Energy != nil {
			en, err := integral(m.Type, "energy", *m.Energy)
			if err != nil {
				return nil, err
			}
			ev.Energy = &en
		}
		return ev, nil

	case TypePlacePixel:
		id, err := requireString(m.Type, "playerId", m.PlayerID)
		if err != nil {
			return nil, err
		}
		x, err := requireInt(m.Type, "x", m.X)
		if err != nil {
			return nil, err
		}
		y, err := requireInt(m.Type, "y", m.Y)
		if err != nil {
			return nil, err
		}
		color, err := requireString(m.Type, "color", m.Color)
		if err != nil {
			return nil, err
		}
		return PlacePixel{PlayerID: id, X: x, Y: y, Color: color}, nil

	case TypeUseDynamite:
		id, err := requireString(m.Type, "playerId", m.PlayerID)
		if err != nil {
			return nil, err
		}
		return UseDynamite{PlayerID: id}, nil

	case TypeUpdateColor:
		id, err := requireString(m.Type, "playerId", m.PlayerID)
		if err != nil {
			return nil, err
		}
		color, err := requireString(m.Type, "color", m.Color)
		if err != nil {
			return nil, err
		}
		return UpdateColor{PlayerID: id, Color: color}, nil

	case TypeUpdatePlayer, TypePlayerStats:
		id, err := requireString(TypeUpdatePlayer, "playerId", m.PlayerID)
		if err != nil {
			return nil, err
		}
		if m.Tokens == nil || math.IsNaN(*m.Tokens) {
			return nil, &DecodeError{Type: TypeUpdatePlayer, Reason: "missing tokens"}
		}
		level, err := requireInt(TypeUpdatePlayer, "level", m.Level)
		if err != nil {
			return nil, err
		}
		energy, err := requireInt(TypeUpdatePlayer, "energy", m.Energy)
		if err != nil {
			return nil, err
		}
		return UpdateStats{PlayerID: id, Tokens: *m.Tokens, Level: level, Energy: energy}, nil

	case TypePong:
		return Pong{}, nil

	default:
		return Unknown{Type: m.Type}, nil
	}
}

func requireString(typ, field string, v *string) (string, error) {
	if v == nil || *v == "" {
		return "", &DecodeError{Type: typ, Reason: "missing " + field}
	}
	return *v, nil
}

func requireInt(typ, field string, v *float64) (int, error) {
	if v == nil {
		return 0, &DecodeError{Type: typ, Reason: "missing " + field}
	}
	return integral(typ, field, *v)
}

// integral rejects fractional or out-of-range numbers.
func integral(typ, field string, f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, &DecodeError{Type: typ, Reason: field + " must be an integer"}
	}
	return int(f), nil
}
