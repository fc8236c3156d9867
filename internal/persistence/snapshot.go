// Package persistence stores the grid as a single flat snapshot file.
package persistence

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"pixel-battle/internal/game"
)

// FileStore reads and writes the grid snapshot at Path. A path ending in
// ".zst" is zstd-compressed; anything else is plain JSON.
//
// The document is one JSON object keyed by "x,y". Values are cell objects;
// bare color strings from older files are accepted on load.
type FileStore struct {
	Path string
}

// NewFileStore returns a store for path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (s *FileStore) compressed() bool {
	return strings.HasSuffix(s.Path, ".zst")
}

// Load reads the snapshot. A missing file yields an empty map and no error.
func (s *FileStore) Load() (map[game.CellID]game.Cell, error) {
	f, err := os.Open(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[game.CellID]game.Cell{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", s.Path, err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReaderSize(f, 256*1024)
	if s.compressed() {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader %s: %w", s.Path, err)
		}
		defer dec.Close()
		r = dec
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", s.Path, err)
	}
	cells, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", s.Path, err)
	}
	return cells, nil
}

// Save replaces the snapshot atomically: the document is written to a
// temporary file in the same directory, synced, then renamed over Path.
func (s *FileStore) Save(cells map[game.CellID]game.Cell) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := s.encodeTo(tmp, cells); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		os.Remove(tmpName)
		committed = true
		return fmt.Errorf("rename snapshot: %w", err)
	}
	committed = true
	return nil
}

// Quarantine renames an unreadable snapshot out of the way so the next Save
// does not destroy it. It returns the new path.
func (s *FileStore) Quarantine(now time.Time) (string, error) {
	dst := fmt.Sprintf("%s.bad-%s", s.Path, now.UTC().Format("20060102T150405"))
	if err := os.Rename(s.Path, dst); err != nil {
		return "", fmt.Errorf("quarantine snapshot: %w", err)
	}
	return dst, nil
}

func (s *FileStore) encodeTo(w io.Writer, cells map[game.CellID]game.Cell) error {
	bw := bufio.NewWriterSize(w, 256*1024)

	if !s.compressed() {
		if err := Encode(bw, cells); err != nil {
			return err
		}
		return bw.Flush()
	}

	enc, err := zstd.NewWriter(bw, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if err := Encode(enc, cells); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return bw.Flush()
}

// Encode writes cells as an indented JSON object keyed by cell id.
func Encode(w io.Writer, cells map[game.CellID]game.Cell) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(cells)
}

// Decode parses a snapshot document. Entries whose value is a bare string
// are treated as color-only cells from the legacy layout. Coordinates are
// filled from the key when the value lacks them; the grid validates keys on
// load.
func Decode(data []byte) (map[game.CellID]game.Cell, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return map[game.CellID]game.Cell{}, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	cells := make(map[game.CellID]game.Cell, len(raw))
	for key, value := range raw {
		var cell game.Cell
		value = bytes.TrimSpace(value)
		if len(value) > 0 && value[0] == '"' {
			if err := json.Unmarshal(value, &cell.Color); err != nil {
				return nil, fmt.Errorf("cell %s: %w", key, err)
			}
		} else if err := json.Unmarshal(value, &cell); err != nil {
			return nil, fmt.Errorf("cell %s: %w", key, err)
		}
		cells[game.CellID(key)] = cell
	}
	return cells, nil
}
