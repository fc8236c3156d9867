// Package session is the per-connection protocol layer. It decodes client
// events, applies them to the canvas and participant stores, and fans the
// resulting deltas out through a Transport.
package session

import (
	"errors"
	"log"
	"sync"
	"time"

	"pixel-battle/internal/game"
	"pixel-battle/internal/protocol"
)

// Transport delivers encoded envelopes. Implementations must not block:
// a slow connection drops messages instead of stalling the gateway.
type Transport interface {
	Send(connID string, msg []byte) bool
	Broadcast(msg []byte)
	Close(connID string)
}

// Observer receives gateway counters. The api package backs it with
// Prometheus.
type Observer interface {
	EventHandled(action, outcome string)
	PixelPlaced()
	Evicted(n int)
	StateChanged(cells, participants int)
}

// Event outcomes reported to the Observer.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeInvalid  = "invalid"
	OutcomeIgnored  = "ignored"
)

type nopObserver struct{}

func (nopObserver) EventHandled(string, string) {}
func (nopObserver) PixelPlaced()                {}
func (nopObserver) Evicted(int)                 {}
func (nopObserver) StateChanged(int, int)       {}

// Config holds the gameplay numbers the gateway applies.
type Config struct {
	PixelReward    float64
	DynamiteCost   float64
	DefaultEnergy  int
	DefaultColor   string
	RegenAmount    int
	MaxEnergy      int
	ActivityWindow time.Duration
	IdleTimeout    time.Duration
	Debug          bool
}

// DefaultConfig returns the standard economy.
func DefaultConfig() Config {
	return Config{
		PixelReward:    0.1,
		DynamiteCost:   100,
		DefaultEnergy:  100,
		DefaultColor:   "#ff4444",
		RegenAmount:    10,
		MaxEnergy:      100,
		ActivityWindow: 5 * time.Minute,
		IdleTimeout:    5 * time.Minute,
	}
}

// Deps are the stores and sinks a Gateway drives. Journal and Observer are
// optional.
type Deps struct {
	Grid      *game.Grid
	Registry  *game.Registry
	Ranking   *game.Ranking
	Transport Transport
	Journal   *game.EventLog
	Observer  Observer
}

type connState uint8

const (
	stateOpen connState = iota + 1
	stateJoined
)

// Gateway serialises every state mutation behind one lock. Handlers that
// touch both the grid and the registry are therefore atomic, and deltas
// are enqueued inside the lock so clients see them in mutation order.
type Gateway struct {
	mu sync.Mutex

	grid      *game.Grid
	registry  *game.Registry
	ranking   *game.Ranking
	transport Transport
	journal   *game.EventLog
	observer  Observer

	cfg   Config
	conns map[string]connState
	now   func() time.Time
}

// NewGateway wires a gateway over the given stores.
func NewGateway(deps Deps, cfg Config) *Gateway {
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if cfg.MaxEnergy <= 0 {
		cfg.MaxEnergy = deps.Registry.Rules().MaxEnergy
	}
	if cfg.DefaultColor == "" {
		cfg.DefaultColor = DefaultConfig().DefaultColor
	}
	return &Gateway{
		grid:      deps.Grid,
		registry:  deps.Registry,
		ranking:   deps.Ranking,
		transport: deps.Transport,
		journal:   deps.Journal,
		observer:  deps.Observer,
		cfg:       cfg,
		conns:     make(map[string]connState),
		now:       time.Now,
	}
}

// Open registers a freshly upgraded connection and sends it the bootstrap
// payload. The connection is not joined yet.
func (g *Gateway) Open(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.conns[connID] = stateOpen
	g.send(connID, protocol.NewInitialData(
		g.grid.Snapshot(),
		g.registry.Snapshot(),
		g.ranking.Last(0),
		g.grid.Size(),
	))
}

// Close forgets a connection and removes the participant bound to it.
// Calling it twice, or for a connection whose participant was already
// replaced or evicted, is a no-op beyond bookkeeping.
func (g *Gateway) Close(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.conns[connID]; !ok {
		return
	}
	delete(g.conns, connID)

	p, removed := g.registry.RemoveByConnection(connID)
	if !removed {
		return
	}

	log.Printf("👋 %s left (%d online)", p.Username, g.registry.Len())
	g.record(game.EventTypeLeave, p.ID, nil)
	g.broadcast(protocol.NewPlayerLeft(p, protocol.LeftDisconnect))
	g.broadcastRoster()
}

// Handle decodes and applies one inbound frame. The transport calls it from
// the connection's single read goroutine, so a connection's events are
// applied in arrival order.
func (g *Gateway) Handle(connID string, raw []byte) {
	ev, err := protocol.Decode(raw)

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.conns[connID]; !ok {
		return
	}

	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) && de.Type != "" {
			g.reject(connID, de.Type, err)
			return
		}
		g.observer.EventHandled("malformed", OutcomeInvalid)
		if g.cfg.Debug {
			log.Printf("⚠️ Dropping frame from %s: %v", connID, err)
		}
		return
	}

	switch e := ev.(type) {
	case protocol.Join:
		g.handleJoin(connID, e)
	case protocol.PlacePixel:
		g.handlePlacePixel(connID, e)
	case protocol.UseDynamite:
		g.handleUseDynamite(connID, e)
	case protocol.UpdateColor:
		g.handleUpdateColor(connID, e)
	case protocol.UpdateStats:
		g.handleUpdateStats(connID, e)
	case protocol.Pong:
		g.observer.EventHandled(protocol.TypePong, OutcomeOK)
	case protocol.Unknown:
		g.observer.EventHandled("unknown", OutcomeIgnored)
		if g.cfg.Debug {
			log.Printf("📨 Ignoring %q from %s", e.Type, connID)
		}
	}
}

// Connections returns how many connections the gateway tracks.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// bound returns the participant bound to connID, provided its id matches
// the one the client claims.
func (g *Gateway) bound(connID, playerID string) (game.Participant, error) {
	p, ok := g.registry.ByConnection(connID)
	if !ok || p.ID != playerID {
		return game.Participant{}, game.ErrNotFound
	}
	return p, nil
}

func (g *Gateway) reject(connID, action string, err error) {
	reason := protocol.ReasonFor(err)
	outcome := OutcomeRejected
	if reason == protocol.ReasonInvalid {
		outcome = OutcomeInvalid
	}
	g.observer.EventHandled(action, outcome)
	if g.cfg.Debug {
		log.Printf("🚫 %s from %s rejected: %v", action, connID, err)
	}
	g.send(connID, protocol.NewActionRejected(action, reason))
}

func (g *Gateway) send(connID string, msg any) {
	b, err := protocol.Encode(msg)
	if err != nil {
		log.Printf("❌ Encode for %s failed: %v", connID, err)
		return
	}
	g.transport.Send(connID, b)
}

func (g *Gateway) broadcast(msg any) {
	b, err := protocol.Encode(msg)
	if err != nil {
		log.Printf("❌ Encode broadcast failed: %v", err)
		return
	}
	g.transport.Broadcast(b)
}

// broadcastRoster sends the participant list and a fresh leaderboard.
func (g *Gateway) broadcastRoster() {
	g.broadcast(protocol.NewPlayerList(g.registry.Snapshot()))
	g.broadcastLeaderboard()
}

func (g *Gateway) broadcastLeaderboard() {
	board := g.ranking.Recompute(g.registry)
	g.broadcast(protocol.NewLeaderboard(board, g.now().UnixMilli()))
	g.observer.StateChanged(g.grid.Len(), g.registry.Len())
}

func (g *Gateway) record(t game.EventType, playerID string, payload any) {
	if g.journal == nil {
		return
	}
	g.journal.Record(t, playerID, payload)
}
