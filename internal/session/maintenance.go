package session

import (
	"log"

	"pixel-battle/internal/game"
	"pixel-battle/internal/protocol"
)

// Periodic jobs. Each takes the gateway lock so it never interleaves with a
// half-applied handler.

// RegenerateEnergy tops up recently active participants and tells each
// changed one its new energy. It returns how many changed.
func (g *Gateway) RegenerateEnergy() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	changed := g.registry.RegenerateEnergy(g.cfg.RegenAmount, g.cfg.MaxEnergy, g.cfg.ActivityWindow)
	for _, p := range changed {
		g.send(p.ConnID, protocol.NewEnergyUpdate(p.Energy))
	}
	return len(changed)
}

// EvictIdle removes participants idle past the timeout. Their connections
// stay open and may join again.
func (g *Gateway) EvictIdle() []game.Participant {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := g.registry.EvictIdle(g.cfg.IdleTimeout)
	if len(removed) == 0 {
		return nil
	}

	for _, p := range removed {
		if _, ok := g.conns[p.ConnID]; ok {
			g.conns[p.ConnID] = stateOpen
		}
		log.Printf("💤 Evicted idle player %s", p.Username)
		g.record(game.EventTypeEvict, p.ID, nil)
		g.broadcast(protocol.NewPlayerLeft(p, protocol.LeftIdle))
	}
	g.observer.Evicted(len(removed))
	g.broadcastRoster()
	return removed
}

// SnapshotForPersist returns a copy of the grid if it changed since the
// last call. The dirty flag is consumed; call MarkDirty if the write fails.
func (g *Gateway) SnapshotForPersist() (map[game.CellID]game.Cell, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.grid.TakeDirty() {
		return nil, false
	}
	return g.grid.Snapshot(), true
}

// MarkDirty re-flags the grid so the next persist cycle retries.
func (g *Gateway) MarkDirty() {
	g.grid.MarkDirty()
}

// ResetGrid clears every cell and tells all clients.
func (g *Gateway) ResetGrid() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := g.grid.ClearAll()
	log.Printf("🧹 Grid reset, %d pixels cleared", removed)
	g.record(game.EventTypeReset, "", game.ClearPayload{Removed: removed})
	g.broadcast(protocol.NewGridReset(removed))
	g.observer.StateChanged(g.grid.Len(), g.registry.Len())
	return removed
}

// Status is the read-only summary served over HTTP.
type Status struct {
	Status      string                  `json:"status"`
	Players     int                     `json:"players"`
	Pixels      int                     `json:"pixels"`
	GridSize    int                     `json:"gridSize"`
	Connections int                     `json:"connections"`
	Leaderboard []game.LeaderboardEntry `json:"leaderboard"`
}

// Status reports counts and the top n of the last leaderboard.
func (g *Gateway) Status(n int) Status {
	return Status{
		Status:      "online",
		Players:     g.registry.Len(),
		Pixels:      g.grid.Len(),
		GridSize:    g.grid.Size(),
		Connections: g.Connections(),
		Leaderboard: g.ranking.Last(n),
	}
}

// Pixels returns a copy of every placed cell.
func (g *Gateway) Pixels() map[game.CellID]game.Cell {
	return g.grid.Snapshot()
}

// Leaderboard returns the top n of the last computed leaderboard.
func (g *Gateway) Leaderboard(n int) []game.LeaderboardEntry {
	return g.ranking.Last(n)
}
