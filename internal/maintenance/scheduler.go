// Package maintenance runs the periodic jobs of a live canvas: snapshot
// persistence, energy regeneration and idle eviction.
package maintenance

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"pixel-battle/internal/game"
)

// ErrPersistInFlight is returned by PersistNow while another write runs.
var ErrPersistInFlight = errors.New("persist already in flight")

// Gateway is the slice of the session gateway the jobs drive. Every method
// takes the gateway's mutation lock.
type Gateway interface {
	SnapshotForPersist() (map[game.CellID]game.Cell, bool)
	MarkDirty()
	RegenerateEnergy() int
	EvictIdle() []game.Participant
}

// Store writes a grid snapshot.
type Store interface {
	Save(cells map[game.CellID]game.Cell) error
}

// Observer receives job results. Optional.
type Observer interface {
	Persisted(cells int, took time.Duration, err error)
}

// Intervals configures the three tickers. A non-positive interval disables
// that job.
type Intervals struct {
	Persist    time.Duration
	Regenerate time.Duration
	Evict      time.Duration
}

// DefaultIntervals returns the production cadence.
func DefaultIntervals() Intervals {
	return Intervals{
		Persist:    30 * time.Second,
		Regenerate: 30 * time.Second,
		Evict:      time.Minute,
	}
}

// Scheduler owns the job goroutines.
type Scheduler struct {
	gw       Gateway
	store    Store
	observer Observer
	every    Intervals

	inFlight atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a stopped scheduler. observer may be nil.
func New(gw Gateway, store Store, every Intervals, observer Observer) *Scheduler {
	return &Scheduler{
		gw:       gw,
		store:    store,
		observer: observer,
		every:    every,
	}
}

// Start launches the jobs. They run until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.loop(ctx, s.every.Persist, func() {
		if err := s.PersistNow(); err != nil && !errors.Is(err, ErrPersistInFlight) {
			log.Printf("⚠️ Persist failed: %v", err)
		}
	})
	s.loop(ctx, s.every.Regenerate, func() {
		if n := s.gw.RegenerateEnergy(); n > 0 {
			log.Printf("⚡ Energy regenerated for %d players", n)
		}
	})
	s.loop(ctx, s.every.Evict, func() {
		s.gw.EvictIdle()
	})

	log.Printf("🕒 Maintenance started (persist %v, regen %v, evict %v)",
		s.every.Persist, s.every.Regenerate, s.every.Evict)
}

func (s *Scheduler) loop(ctx context.Context, every time.Duration, job func()) {
	if every <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				job()
			}
		}
	}()
}

// Stop ends the jobs, waits for them, then flushes the grid one last time.
func (s *Scheduler) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		err = s.PersistNow()
	})
	return err
}

// PersistNow writes the grid if it changed since the last successful write.
// The snapshot is taken under the gateway lock; the write happens outside
// it. On failure, or when another write is in flight, the grid stays dirty.
func (s *Scheduler) PersistNow() error {
	if !s.inFlight.CompareAndSwap(false, true) {
		return ErrPersistInFlight
	}
	defer s.inFlight.Store(false)

	cells, dirty := s.gw.SnapshotForPersist()
	if !dirty {
		return nil
	}

	start := time.Now()
	err := s.store.Save(cells)
	took := time.Since(start)
	if s.observer != nil {
		s.observer.Persisted(len(cells), took, err)
	}
	if err != nil {
		s.gw.MarkDirty()
		return err
	}
	log.Printf("💾 Saved %d pixels in %v", len(cells), took.Round(time.Millisecond))
	return nil
}
