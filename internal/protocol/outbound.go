package protocol

import (
	"encoding/json"
	"errors"

	"pixel-battle/internal/game"
)

// Outbound message types.
const (
	TypeInitialData       = "initialData"
	TypeWelcome           = "welcome"
	TypePixelPlaced       = "pixelPlaced"
	TypePixelsReset       = "pixelsReset"
	TypePlayerList        = "playerList"
	TypeLeaderboard       = "leaderboard"
	TypeStats             = "playerStats"
	TypeEnergyUpdate      = "energyUpdate"
	TypePlayerColorUpdate = "playerColorUpdate"
	TypePlayerLeft        = "playerLeft"
	TypeSessionReplaced   = "sessionReplaced"
	TypeActionRejected    = "actionRejected"
	TypeGridReset         = "gridReset"
	TypePing              = "ping"
)

// Rejection reasons.
const (
	ReasonNotFound             = "not_found"
	ReasonOutOfBounds          = "out_of_bounds"
	ReasonInsufficientResource = "insufficient_resource"
	ReasonInvalid              = "invalid"
)

// Leave reasons.
const (
	LeftDisconnect = "disconnect"
	LeftIdle       = "idle"
	LeftReplaced   = "replaced"
)

type InitialData struct {
	Type        string                    `json:"type"`
	Pixels      map[game.CellID]game.Cell `json:"pixels"`
	Players     map[string]game.Summary   `json:"players"`
	Leaderboard []game.LeaderboardEntry   `json:"leaderboard"`
	TopThree    []game.LeaderboardEntry   `json:"topThree"`
	MapWidth    int                       `json:"mapWidth"`
	MapHeight   int                       `json:"mapHeight"`
}

type Welcome struct {
	Type     string  `json:"type"`
	PlayerID string  `json:"playerId"`
	Username string  `json:"username"`
	Tokens   float64 `json:"tokens"`
	Level    int     `json:"level"`
	Energy   int     `json:"energy"`
	Color    string  `json:"color"`
}

type PixelPlaced struct {
	Type       string      `json:"type"`
	PixelID    game.CellID `json:"pixelId"`
	X          int         `json:"x"`
	Y          int         `json:"y"`
	Color      string      `json:"color"`
	PlayerID   string      `json:"playerId"`
	PlayerName string      `json:"playerName"`
}

type PixelsReset struct {
	Type       string `json:"type"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Count      int    `json:"count"`
}

type PlayerList struct {
	Type        string                  `json:"type"`
	Players     map[string]game.Summary `json:"players"`
	OnlineCount int                     `json:"onlineCount"`
}

type Leaderboard struct {
	Type        string                  `json:"type"`
	Leaderboard []game.LeaderboardEntry `json:"leaderboard"`
	TopThree    []game.LeaderboardEntry `json:"topThree"`
	Timestamp   int64                   `json:"timestamp"`
}

type PlayerStats struct {
	Type   string  `json:"type"`
	Tokens float64 `json:"tokens"`
	Level  int     `json:"level"`
	Energy int     `json:"energy"`
}

type EnergyUpdate struct {
	Type   string `json:"type"`
	Energy int    `json:"energy"`
}

type PlayerColorUpdate struct {
	Type     string `json:"type"`
	PlayerID string `json:"playerId"`
	Color    string `json:"color"`
	Username string `json:"username"`
}

type PlayerLeft struct {
	Type     string `json:"type"`
	PlayerID string `json:"playerId"`
	Username string `json:"username"`
	Reason   string `json:"reason"`
}

type SessionReplaced struct {
	Type     string `json:"type"`
	PlayerID string `json:"playerId"`
}

type ActionRejected struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Reason string `json:"reason"`
}

type GridReset struct {
	Type    string `json:"type"`
	Removed int    `json:"removed"`
}

type Ping struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func NewInitialData(pixels map[game.CellID]game.Cell, players []game.Participant, board []game.LeaderboardEntry, size int) InitialData {
	return InitialData{
		Type:        TypeInitialData,
		Pixels:      pixels,
		Players:     game.Roster(players),
		Leaderboard: nonNil(board),
		TopThree:    nonNil(game.TopThree(board)),
		MapWidth:    size,
		MapHeight:   size,
	}
}

func NewWelcome(p game.Participant) Welcome {
	return Welcome{
		Type:     TypeWelcome,
		PlayerID: p.ID,
		Username: p.Username,
		Tokens:   p.Tokens,
		Level:    p.Level,
		Energy:   p.Energy,
		Color:    p.Color,
	}
}

func NewPixelPlaced(c game.Cell) PixelPlaced {
	return PixelPlaced{
		Type:       TypePixelPlaced,
		PixelID:    game.CellKey(c.X, c.Y),
		X:          c.X,
		Y:          c.Y,
		Color:      c.Color,
		PlayerID:   c.PlayerID,
		PlayerName: c.PlayerName,
	}
}

func NewPixelsReset(p game.Participant, count int) PixelsReset {
	return PixelsReset{Type: TypePixelsReset, PlayerID: p.ID, PlayerName: p.Username, Count: count}
}

func NewPlayerList(players []game.Participant) PlayerList {
	return PlayerList{Type: TypePlayerList, Players: game.Roster(players), OnlineCount: len(players)}
}

func NewLeaderboard(board []game.LeaderboardEntry, ts int64) Leaderboard {
	return Leaderboard{
		Type:        TypeLeaderboard,
		Leaderboard: nonNil(board),
		TopThree:    nonNil(game.TopThree(board)),
		Timestamp:   ts,
	}
}

func NewPlayerStats(p game.Participant) PlayerStats {
	return PlayerStats{Type: TypeStats, Tokens: p.Tokens, Level: p.Level, Energy: p.Energy}
}

func NewEnergyUpdate(energy int) EnergyUpdate {
	return EnergyUpdate{Type: TypeEnergyUpdate, Energy: energy}
}

func NewPlayerColorUpdate(p game.Participant) PlayerColorUpdate {
	return PlayerColorUpdate{Type: TypePlayerColorUpdate, PlayerID: p.ID, Color: p.Color, Username: p.Username}
}

func NewPlayerLeft(p game.Participant, reason string) PlayerLeft {
	return PlayerLeft{Type: TypePlayerLeft, PlayerID: p.ID, Username: p.Username, Reason: reason}
}

func NewSessionReplaced(playerID string) SessionReplaced {
	return SessionReplaced{Type: TypeSessionReplaced, PlayerID: playerID}
}

func NewActionRejected(action, reason string) ActionRejected {
	return ActionRejected{Type: TypeActionRejected, Action: action, Reason: reason}
}

func NewGridReset(removed int) GridReset {
	return GridReset{Type: TypeGridReset, Removed: removed}
}

func NewPing(ts int64) Ping {
	return Ping{Type: TypePing, Timestamp: ts}
}

// Encode marshals an outbound envelope.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// ReasonFor maps a domain or decode error to a rejection reason.
func ReasonFor(err error) string {
	switch {
	case errors.Is(err, game.ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, game.ErrOutOfBounds):
		return ReasonOutOfBounds
	case errors.Is(err, game.ErrInsufficientResource):
		return ReasonInsufficientResource
	default:
		return ReasonInvalid
	}
}

// nonNil keeps empty boards encoding as [] rather than null.
func nonNil(entries []game.LeaderboardEntry) []game.LeaderboardEntry {
	if entries == nil {
		return []game.LeaderboardEntry{}
	}
	return entries
}
