package game

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry owns the connected participants and the participant <-> connection
// index. Every method is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Participant
	byConn map[string]string // connection id -> participant id
	rules  Rules
	seq    uint64
	now    func() time.Time
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithClock replaces the time source.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty registry enforcing the given rules.
func NewRegistry(rules Rules, opts ...RegistryOption) *Registry {
	if rules.LevelThreshold <= 0 {
		rules.LevelThreshold = DefaultRules.LevelThreshold
	}
	if rules.MaxEnergy <= 0 {
		rules.MaxEnergy = DefaultRules.MaxEnergy
	}
	r := &Registry{
		byID:   make(map[string]*Participant),
		byConn: make(map[string]string),
		rules:  rules,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rules returns the economy rules in force.
func (r *Registry) Rules() Rules {
	return r.rules
}

// JoinResult describes what a join replaced.
type JoinResult struct {
	Participant Participant

	// SupersededConn is the connection previously bound to the same
	// participant id. The caller must close it.
	SupersededConn string

	// PreviousID is the participant this connection was bound to before,
	// when it re-joins under a different id. That record has been removed.
	PreviousID string
}

// Join inserts or replaces the participant keyed by id and binds it to connID.
// Stats are clamped to legal ranges.
func (r *Registry) Join(id, connID string, stats Stats) JoinResult {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var res JoinResult

	if prevID, ok := r.byConn[connID]; ok && prevID != id {
		delete(r.byID, prevID)
		res.PreviousID = prevID
	}

	if old, ok := r.byID[id]; ok && old.ConnID != connID {
		delete(r.byConn, old.ConnID)
		res.SupersededConn = old.ConnID
	}

	r.seq++
	p := &Participant{
		ID:         id,
		Username:   stats.Username,
		Tokens:     clampTokens(stats.Tokens),
		Level:      r.rules.clampLevel(stats.Level),
		Energy:     r.rules.clampEnergy(stats.Energy),
		Color:      stats.Color,
		JoinedAt:   now,
		LastActive: now,
		ConnID:     connID,
		seq:        r.seq,
	}
	r.byID[id] = p
	r.byConn[connID] = id

	res.Participant = *p
	return res
}

// Get looks up a participant by id.
func (r *Registry) Get(id string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// ByConnection looks up the participant bound to a connection.
func (r *Registry) ByConnection(connID string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byConn[connID]
	if !ok {
		return Participant{}, false
	}
	return *r.byID[id], true
}

// Len returns the number of participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Snapshot returns copies of all participants in join order.
func (r *Registry) Snapshot() []Participant {
	r.mu.RLock()
	out := make([]Participant, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, *p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// UpdateOnPlacement credits a placed pixel: tokens += reward, energy -= 1,
// level recomputed without ever going down.
func (r *Registry) UpdateOnPlacement(id string, reward float64) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return Participant{}, fmt.Errorf("placement by %q: %w", id, ErrNotFound)
	}
	if p.Energy <= 0 {
		return *p, fmt.Errorf("placement by %q: no energy: %w", id, ErrInsufficientResource)
	}

	p.Tokens = clampTokens(p.Tokens + reward)
	p.Energy--
	if lvl := r.rules.LevelFor(p.Tokens); lvl > p.Level {
		p.Level = lvl
	}
	p.LastActive = r.now()
	return *p, nil
}

// SpendCurrency deducts amount from the participant's tokens. Nothing is
// deducted when the balance is too low.
func (r *Registry) SpendCurrency(id string, amount float64) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return Participant{}, fmt.Errorf("spend by %q: %w", id, ErrNotFound)
	}
	if p.Tokens < amount {
		return *p, fmt.Errorf("spend %.1f by %q with %.1f: %w", amount, id, p.Tokens, ErrInsufficientResource)
	}

	p.Tokens = clampTokens(p.Tokens - amount)
	p.LastActive = r.now()
	return *p, nil
}

// SetColor overwrites the display color.
func (r *Registry) SetColor(id, color string) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return Participant{}, fmt.Errorf("set color of %q: %w", id, ErrNotFound)
	}
	p.Color = color
	p.LastActive = r.now()
	return *p, nil
}

// SetStats overwrites client-reported numbers, clamped to legal ranges.
func (r *Registry) SetStats(id string, tokens float64, level, energy int) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return Participant{}, fmt.Errorf("set stats of %q: %w", id, ErrNotFound)
	}
	p.Tokens = clampTokens(tokens)
	p.Level = r.rules.clampLevel(level)
	p.Energy = r.rules.clampEnergy(energy)
	p.LastActive = r.now()
	return *p, nil
}

// Remove deletes a participant. Removing an absent id is a no-op.
func (r *Registry) Remove(id string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

// RemoveByConnection deletes the participant bound to connID, if any.
func (r *Registry) RemoveByConnection(connID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byConn[connID]
	if !ok {
		return Participant{}, false
	}
	return r.removeLocked(id)
}

func (r *Registry) removeLocked(id string) (Participant, bool) {
	p, ok := r.byID[id]
	if !ok {
		return Participant{}, false
	}
	delete(r.byID, id)
	if r.byConn[p.ConnID] == id {
		delete(r.byConn, p.ConnID)
	}
	return *p, true
}

// RegenerateEnergy raises energy by amount (clamped to limit) for every
// participant active within window. Idle participants are skipped.
// It returns the participants whose energy changed.
func (r *Registry) RegenerateEnergy(amount, limit int, window time.Duration) []Participant {
	if limit <= 0 || limit > r.rules.MaxEnergy {
		limit = r.rules.MaxEnergy
	}
	now := r.now()

	r.mu.Lock()
	var changed []Participant
	for _, p := range r.byID {
		if p.Energy >= limit || now.Sub(p.LastActive) >= window {
			continue
		}
		p.Energy += amount
		if p.Energy > limit {
			p.Energy = limit
		}
		changed = append(changed, *p)
	}
	r.mu.Unlock()

	sort.Slice(changed, func(i, j int) bool { return changed[i].seq < changed[j].seq })
	return changed
}

// EvictIdle removes every participant idle for longer than timeout and
// returns them.
func (r *Registry) EvictIdle(timeout time.Duration) []Participant {
	now := r.now()

	r.mu.Lock()
	var removed []Participant
	for id, p := range r.byID {
		if now.Sub(p.LastActive) > timeout {
			if gone, ok := r.removeLocked(id); ok {
				removed = append(removed, gone)
			}
		}
	}
	r.mu.Unlock()

	sort.Slice(removed, func(i, j int) bool { return removed[i].seq < removed[j].seq })
	return removed
}
