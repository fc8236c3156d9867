package game

import (
	"math"
	"time"
)

// Rules are the economy parameters the registry enforces.
type Rules struct {
	LevelThreshold float64 // Tokens per level
	MaxLevel       int
	MaxEnergy      int
}

// DefaultRules is the standard economy.
var DefaultRules = Rules{
	LevelThreshold: 100,
	MaxLevel:       100,
	MaxEnergy:      100,
}

// LevelFor derives the level from a token balance:
// floor(tokens/threshold)+1, capped at MaxLevel.
func (r Rules) LevelFor(tokens float64) int {
	level := int(math.Floor(tokens/r.LevelThreshold)) + 1
	return r.clampLevel(level)
}

func (r Rules) clampLevel(level int) int {
	if level < 1 {
		return 1
	}
	if r.MaxLevel > 0 && level > r.MaxLevel {
		return r.MaxLevel
	}
	return level
}

func (r Rules) clampEnergy(energy int) int {
	if energy < 0 {
		return 0
	}
	if energy > r.MaxEnergy {
		return r.MaxEnergy
	}
	return energy
}

func clampTokens(tokens float64) float64 {
	if math.IsNaN(tokens) || tokens < 0 {
		return 0
	}
	if math.IsInf(tokens, 1) {
		return math.MaxFloat64
	}
	return tokens
}

// Stats are the mutable, client-visible numbers of a participant.
type Stats struct {
	Username string
	Tokens   float64
	Level    int
	Energy   int
	Color    string
}

// Participant is a connected player's server-side record. Registry methods
// hand out copies; mutating one does not affect the registry.
type Participant struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Tokens     float64   `json:"tokens"`
	Level      int       `json:"level"`
	Energy     int       `json:"energy"`
	Color      string    `json:"color"`
	JoinedAt   time.Time `json:"joinedAt"`
	LastActive time.Time `json:"lastActive"`
	ConnID     string    `json:"-"`

	seq uint64 // join order, used as the leaderboard tie-break
}

// Seq returns the join sequence number.
func (p Participant) Seq() uint64 {
	return p.seq
}

// Summary is the roster projection sent in playerList and initialData.
type Summary struct {
	Username string  `json:"username"`
	Tokens   float64 `json:"tokens"`
	Level    int     `json:"level"`
	Color    string  `json:"color"`
}

// Summary projects the participant for the roster.
func (p Participant) Summary() Summary {
	return Summary{
		Username: p.Username,
		Tokens:   p.Tokens,
		Level:    p.Level,
		Color:    p.Color,
	}
}

// Roster builds the id -> summary mapping broadcast to clients.
func Roster(ps []Participant) map[string]Summary {
	out := make(map[string]Summary, len(ps))
	for _, p := range ps {
		out[p.ID] = p.Summary()
	}
	return out
}
