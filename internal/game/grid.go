package game

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultGridSize is the side length of the shared canvas.
const DefaultGridSize = 250

// CellID is the canonical "x,y" key of a cell.
type CellID string

// CellKey builds the canonical identifier for a coordinate.
func CellKey(x, y int) CellID {
	return CellID(strconv.Itoa(x) + "," + strconv.Itoa(y))
}

// ParseCellID splits an "x,y" key back into coordinates.
func ParseCellID(id CellID) (x, y int, err error) {
	xs, ys, ok := strings.Cut(string(id), ",")
	if !ok {
		return 0, 0, fmt.Errorf("cell id %q: missing separator", id)
	}
	if x, err = strconv.Atoi(strings.TrimSpace(xs)); err != nil {
		return 0, 0, fmt.Errorf("cell id %q: %w", id, err)
	}
	if y, err = strconv.Atoi(strings.TrimSpace(ys)); err != nil {
		return 0, 0, fmt.Errorf("cell id %q: %w", id, err)
	}
	return x, y, nil
}

// Cell is one placed pixel. The JSON layout is also the snapshot file layout.
type Cell struct {
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Color      string `json:"color"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName,omitempty"`
	Timestamp  int64  `json:"timestamp"` // Unix milliseconds
}

// Grid is the authoritative cell store. Writes are last-writer-wins.
type Grid struct {
	mu    sync.RWMutex
	size  int
	cells map[CellID]Cell
	dirty atomic.Bool
	now   func() time.Time
}

// NewGrid creates an empty square grid of the given side length.
func NewGrid(size int) *Grid {
	if size <= 0 {
		size = DefaultGridSize
	}
	return &Grid{
		size:  size,
		cells: make(map[CellID]Cell),
		now:   time.Now,
	}
}

// Size returns the side length.
func (g *Grid) Size() int {
	return g.size
}

// InBounds reports whether (x, y) lies on the grid.
func (g *Grid) InBounds(x, y int) bool {
	return x >= 0 && x < g.size && y >= 0 && y < g.size
}

// Place writes a cell, replacing whatever occupied the coordinate.
// Color and owner are not validated here.
func (g *Grid) Place(x, y int, color, ownerID, ownerName string) (CellID, error) {
	if !g.InBounds(x, y) {
		return "", fmt.Errorf("place (%d,%d): %w", x, y, ErrOutOfBounds)
	}

	id := CellKey(x, y)
	cell := Cell{
		X:          x,
		Y:          y,
		Color:      color,
		PlayerID:   ownerID,
		PlayerName: ownerName,
		Timestamp:  g.now().UnixMilli(),
	}

	g.mu.Lock()
	g.cells[id] = cell
	g.mu.Unlock()

	g.dirty.Store(true)
	return id, nil
}

// Get returns the cell at a coordinate.
func (g *Grid) Get(x, y int) (Cell, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.cells[CellKey(x, y)]
	return c, ok
}

// ClearByOwner removes every cell owned by ownerID and returns the count.
func (g *Grid) ClearByOwner(ownerID string) int {
	g.mu.Lock()
	removed := 0
	for id, c := range g.cells {
		if c.PlayerID == ownerID {
			delete(g.cells, id)
			removed++
		}
	}
	g.mu.Unlock()

	if removed > 0 {
		g.dirty.Store(true)
	}
	return removed
}

// ClearAll empties the grid and returns how many cells were removed.
func (g *Grid) ClearAll() int {
	g.mu.Lock()
	removed := len(g.cells)
	g.cells = make(map[CellID]Cell)
	g.mu.Unlock()

	g.dirty.Store(true)
	return removed
}

// Snapshot returns a point-in-time copy of every cell.
func (g *Grid) Snapshot() map[CellID]Cell {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[CellID]Cell, len(g.cells))
	for id, c := range g.cells {
		out[id] = c
	}
	return out
}

// Len returns the number of occupied cells.
func (g *Grid) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.cells)
}

// Load replaces the grid contents with persisted cells. Entries with a
// malformed key or an off-grid coordinate are skipped. The key is
// authoritative for the coordinate. Load does not mark the grid dirty.
func (g *Grid) Load(cells map[CellID]Cell) (loaded, skipped int) {
	next := make(map[CellID]Cell, len(cells))
	for id, c := range cells {
		x, y, err := ParseCellID(id)
		if err != nil || !g.InBounds(x, y) {
			skipped++
			continue
		}
		c.X, c.Y = x, y
		next[CellKey(x, y)] = c
	}

	g.mu.Lock()
	g.cells = next
	g.mu.Unlock()

	return len(next), skipped
}

// TakeDirty reports whether the grid changed since the last call and clears
// the flag.
func (g *Grid) TakeDirty() bool {
	return g.dirty.Swap(false)
}

// MarkDirty flags the grid for the next persistence cycle.
func (g *Grid) MarkDirty() {
	g.dirty.Store(true)
}
