package maintenance

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixel-battle/internal/game"
	"pixel-battle/internal/persistence"
	"pixel-battle/internal/session"
)

type fakeGateway struct {
	grid   *game.Grid
	regens atomic.Int32
	evicts atomic.Int32
}

func (f *fakeGateway) SnapshotForPersist() (map[game.CellID]game.Cell, bool) {
	if !f.grid.TakeDirty() {
		return nil, false
	}
	return f.grid.Snapshot(), true
}

func (f *fakeGateway) MarkDirty()            { f.grid.MarkDirty() }
func (f *fakeGateway) RegenerateEnergy() int { f.regens.Add(1); return 0 }
func (f *fakeGateway) EvictIdle() []game.Participant {
	f.evicts.Add(1)
	return nil
}

type fakeStore struct {
	mu    sync.Mutex
	saves []int
	fail  bool
	block chan struct{}
}

func (s *fakeStore) Save(cells map[game.CellID]game.Cell) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.saves = append(s.saves, len(cells))
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

type recordingObserver struct {
	mu     sync.Mutex
	errors int
	ok     int
}

func (o *recordingObserver) Persisted(_ int, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.errors++
	} else {
		o.ok++
	}
}

func TestPersistOnlyWhenDirty(t *testing.T) {
	gw := &fakeGateway{grid: game.NewGrid(10)}
	store := &fakeStore{}
	s := New(gw, store, Intervals{}, nil)

	require.NoError(t, s.PersistNow())
	assert.Equal(t, 0, store.count(), "clean grid is not written")

	gw.grid.Place(1, 1, "#fff", "a", "")
	require.NoError(t, s.PersistNow())
	require.NoError(t, s.PersistNow())
	assert.Equal(t, []int{1}, store.saves)
}

func TestPersistFailureKeepsGridDirty(t *testing.T) {
	gw := &fakeGateway{grid: game.NewGrid(10)}
	store := &fakeStore{fail: true}
	obs := &recordingObserver{}
	s := New(gw, store, Intervals{}, obs)

	gw.grid.Place(1, 1, "#fff", "a", "")
	require.Error(t, s.PersistNow())
	assert.Equal(t, 1, obs.errors)

	store.fail = false
	require.NoError(t, s.PersistNow())
	assert.Equal(t, []int{1}, store.saves, "the failed snapshot is retried")
	assert.Equal(t, 1, obs.ok)
}

func TestPersistSkipsWhileInFlight(t *testing.T) {
	gw := &fakeGateway{grid: game.NewGrid(10)}
	store := &fakeStore{block: make(chan struct{})}
	s := New(gw, store, Intervals{}, nil)

	gw.grid.Place(1, 1, "#fff", "a", "")
	done := make(chan error)
	go func() { done <- s.PersistNow() }()

	require.Eventually(t, func() bool { return s.inFlight.Load() }, time.Second, time.Millisecond)

	gw.grid.Place(2, 2, "#fff", "a", "")
	assert.ErrorIs(t, s.PersistNow(), ErrPersistInFlight)

	close(store.block)
	require.NoError(t, <-done)

	// The second placement is still pending
	store.block = nil
	require.NoError(t, s.PersistNow())
	assert.Equal(t, []int{1, 2}, store.saves)
}

func TestTickersRunJobs(t *testing.T) {
	gw := &fakeGateway{grid: game.NewGrid(10)}
	store := &fakeStore{}
	s := New(gw, store, Intervals{
		Persist:    5 * time.Millisecond,
		Regenerate: 5 * time.Millisecond,
		Evict:      5 * time.Millisecond,
	}, nil)

	s.Start(context.Background())
	gw.grid.Place(1, 1, "#fff", "a", "")

	require.Eventually(t, func() bool {
		return gw.regens.Load() >= 2 && gw.evicts.Load() >= 2 && store.count() >= 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "Stop is idempotent")
}

func TestStopFlushesPendingChanges(t *testing.T) {
	gw := &fakeGateway{grid: game.NewGrid(10)}
	store := &fakeStore{}
	s := New(gw, store, Intervals{Persist: time.Hour}, nil)

	s.Start(context.Background())
	gw.grid.Place(1, 1, "#fff", "a", "")
	gw.grid.Place(2, 1, "#fff", "a", "")

	require.NoError(t, s.Stop())
	assert.Equal(t, []int{2}, store.saves)
}

func TestContextCancelStopsLoops(t *testing.T) {
	gw := &fakeGateway{grid: game.NewGrid(10)}
	s := New(gw, &fakeStore{}, Intervals{Regenerate: time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	require.Eventually(t, func() bool { return gw.regens.Load() > 0 }, time.Second, time.Millisecond)
	cancel()
	s.wg.Wait()

	n := gw.regens.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, gw.regens.Load())
}

func TestEndToEndWithGatewayAndFileStore(t *testing.T) {
	grid := game.NewGrid(game.DefaultGridSize)
	reg := game.NewRegistry(game.DefaultRules)
	gw := session.NewGateway(session.Deps{
		Grid:      grid,
		Registry:  reg,
		Ranking:   game.NewRanking(100),
		Transport: nopTransport{},
	}, session.DefaultConfig())

	path := filepath.Join(t.TempDir(), "pixels.json")
	store := persistence.NewFileStore(path)
	s := New(gw, store, Intervals{}, nil)

	gw.Open("c1")
	gw.Handle("c1", []byte(`{"type":"join","playerId":"A","username":"Ann"}`))
	gw.Handle("c1", []byte(`{"type":"placePixel","playerId":"A","x":4,"y":2,"color":"#abcdef"}`))
	require.NoError(t, s.Stop())

	cells, err := store.Load()
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.Equal(t, "Ann", cells["4,2"].PlayerName)
}

type nopTransport struct{}

func (nopTransport) Send(string, []byte) bool { return true }
func (nopTransport) Broadcast([]byte)         {}
func (nopTransport) Close(string)             {}
