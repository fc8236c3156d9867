package session

import (
	"fmt"
	"log"
	"math/rand"

	"pixel-battle/internal/game"
	"pixel-battle/internal/protocol"
)

// All handlers run with g.mu held.

func (g *Gateway) handleJoin(connID string, e protocol.Join) {
	stats := g.joinStats(e)
	res := g.registry.Join(e.PlayerID, connID, stats)
	g.conns[connID] = stateJoined

	if old := res.SupersededConn; old != "" {
		g.send(old, protocol.NewSessionReplaced(e.PlayerID))
		if _, ok := g.conns[old]; ok {
			g.conns[old] = stateOpen
		}
		g.transport.Close(old)
		log.Printf("🔁 %s reconnected, closing previous session", res.Participant.Username)
	}
	if prev := res.PreviousID; prev != "" {
		g.broadcast(protocol.NewPlayerLeft(game.Participant{ID: prev}, protocol.LeftReplaced))
	}

	p := res.Participant
	log.Printf("🎨 %s joined (%d online)", p.Username, g.registry.Len())
	g.record(game.EventTypeJoin, p.ID, game.JoinPayload{Username: p.Username, Replaced: res.SupersededConn != ""})
	g.observer.EventHandled(protocol.TypeJoin, OutcomeOK)

	g.send(connID, protocol.NewWelcome(p))
	g.broadcastRoster()
}

// joinStats fills absent join fields with server defaults.
func (g *Gateway) joinStats(e protocol.Join) game.Stats {
	stats := game.Stats{
		Username: fmt.Sprintf("Player%d", rand.Intn(1000)),
		Tokens:   0,
		Level:    1,
		Energy:   g.cfg.DefaultEnergy,
		Color:    g.cfg.DefaultColor,
	}
	if e.Username != nil && *e.Username != "" {
		stats.Username = *e.Username
	}
	if e.Tokens != nil {
		stats.Tokens = *e.Tokens
	}
	if e.Level != nil {
		stats.Level = *e.Level
	}
	if e.Energy != nil {
		stats.Energy = *e.Energy
	}
	if e.Color != nil && *e.Color != "" {
		stats.Color = *e.Color
	}
	return stats
}

func (g *Gateway) handlePlacePixel(connID string, e protocol.PlacePixel) {
	p, err := g.bound(connID, e.PlayerID)
	if err != nil {
		g.reject(connID, e.Action(), err)
		return
	}
	if p.Energy <= 0 {
		g.reject(connID, e.Action(), game.ErrInsufficientResource)
		return
	}

	if _, err := g.grid.Place(e.X, e.Y, e.Color, p.ID, p.Username); err != nil {
		g.reject(connID, e.Action(), err)
		return
	}
	p, err = g.registry.UpdateOnPlacement(p.ID, g.cfg.PixelReward)
	if err != nil {
		// Unreachable under g.mu.
		g.reject(connID, e.Action(), err)
		return
	}

	cell, _ := g.grid.Get(e.X, e.Y)
	g.record(game.EventTypePlace, p.ID, game.PlacePayload{X: e.X, Y: e.Y, Color: e.Color})
	g.observer.EventHandled(e.Action(), OutcomeOK)
	g.observer.PixelPlaced()

	g.broadcast(protocol.NewPixelPlaced(cell))
	g.send(connID, protocol.NewPlayerStats(p))
	g.broadcastLeaderboard()
}

func (g *Gateway) handleUseDynamite(connID string, e protocol.UseDynamite) {
	p, err := g.bound(connID, e.PlayerID)
	if err != nil {
		g.reject(connID, e.Action(), err)
		return
	}
	p, err = g.registry.SpendCurrency(p.ID, g.cfg.DynamiteCost)
	if err != nil {
		g.reject(connID, e.Action(), err)
		return
	}

	removed := g.grid.ClearByOwner(p.ID)
	log.Printf("💥 %s used dynamite, %d pixels cleared", p.Username, removed)
	g.record(game.EventTypeClear, p.ID, game.ClearPayload{Removed: removed, Cost: g.cfg.DynamiteCost})
	g.observer.EventHandled(e.Action(), OutcomeOK)

	g.broadcast(protocol.NewPixelsReset(p, removed))
	g.send(connID, protocol.NewPlayerStats(p))
	g.broadcastLeaderboard()
}

func (g *Gateway) handleUpdateColor(connID string, e protocol.UpdateColor) {
	if _, err := g.bound(connID, e.PlayerID); err != nil {
		g.reject(connID, e.Action(), err)
		return
	}
	p, err := g.registry.SetColor(e.PlayerID, e.Color)
	if err != nil {
		g.reject(connID, e.Action(), err)
		return
	}

	g.observer.EventHandled(e.Action(), OutcomeOK)
	g.broadcast(protocol.NewPlayerColorUpdate(p))
	g.broadcastLeaderboard()
}

func (g *Gateway) handleUpdateStats(connID string, e protocol.UpdateStats) {
	if _, err := g.bound(connID, e.PlayerID); err != nil {
		g.reject(connID, e.Action(), err)
		return
	}
	if _, err := g.registry.SetStats(e.PlayerID, e.Tokens, e.Level, e.Energy); err != nil {
		g.reject(connID, e.Action(), err)
		return
	}

	g.observer.EventHandled(e.Action(), OutcomeOK)
	g.broadcastLeaderboard()
}
