package game

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	EventBufferSize      = 1024                   // Pending events before drops
	MaxEventsPerSec      = 2000                   // Global rate limit
	MaxEventsPerPlayer   = 50                     // Per-player rate limit per second
	BatchFlushSize       = 64                     // Events per batch write
	BatchFlushInterval   = 200 * time.Millisecond // How often to flush
	PlayerLimiterCleanup = 5 * time.Minute        // Cleanup interval for player limiters
)

// EventLog is the activity journal: a bounded, rate-limited, append-only
// JSONL writer. Emit never blocks; a full buffer drops the event.
type EventLog struct {
	events chan Event

	// Rate limiting keeps one noisy participant from flooding the disk
	globalLimiter  *rate.Limiter
	playerLimiters sync.Map // map[string]*playerLimiterEntry

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	out   io.WriteCloser
	outMu sync.Mutex
	seq   atomic.Uint64
	clock func() time.Time

	droppedCount atomic.Uint64
	totalCount   atomic.Uint64
}

// playerLimiterEntry tracks per-player rate limiting
type playerLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64 // unix nano
}

// NewEventLog creates an idle journal. Emit is a no-op until Start.
func NewEventLog() *EventLog {
	return &EventLog{
		events:        make(chan Event, EventBufferSize),
		globalLimiter: rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		stopChan:      make(chan struct{}),
		clock:         time.Now,
	}
}

// Start opens filePath for append and launches the writer.
func (el *EventLog) Start(filePath string) error {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	el.StartWriter(file)
	return nil
}

// StartWriter launches the writer against an arbitrary sink.
func (el *EventLog) StartWriter(w io.WriteCloser) {
	if el.running.Swap(true) {
		return
	}
	el.out = w

	el.writerWg.Add(2)
	go el.writerLoop()
	go el.cleanupLoop()
}

// Stop flushes pending events and closes the sink.
func (el *EventLog) Stop() {
	el.stopOnce.Do(func() {
		if !el.running.Swap(false) {
			return
		}
		close(el.stopChan)
		el.writerWg.Wait()

		el.outMu.Lock()
		if el.out != nil {
			el.out.Close()
		}
		el.outMu.Unlock()
	})
}

// Emit queues an event. Returns false if the journal is stopped, rate
// limited, or full.
func (el *EventLog) Emit(event Event) bool {
	if !el.running.Load() {
		return false
	}

	if event.PlayerID != "" && !el.getPlayerLimiter(event.PlayerID).Allow() {
		el.droppedCount.Add(1)
		return false
	}
	if !el.globalLimiter.Allow() {
		el.droppedCount.Add(1)
		return false
	}

	event.Sequence = el.seq.Add(1)
	select {
	case el.events <- event:
		el.totalCount.Add(1)
		return true
	default:
		el.droppedCount.Add(1)
		return false
	}
}

// Record builds and emits an event in one call.
func (el *EventLog) Record(eventType EventType, playerID string, payload interface{}) bool {
	return el.Emit(NewEvent(eventType, playerID, payload))
}

func (el *EventLog) getPlayerLimiter(playerID string) *rate.Limiter {
	now := el.clock().UnixNano()
	if entry, ok := el.playerLimiters.Load(playerID); ok {
		e := entry.(*playerLimiterEntry)
		e.lastUsed.Store(now)
		return e.limiter
	}

	entry := &playerLimiterEntry{
		limiter: rate.NewLimiter(MaxEventsPerPlayer, MaxEventsPerPlayer/5),
	}
	entry.lastUsed.Store(now)
	actual, _ := el.playerLimiters.LoadOrStore(playerID, entry)
	return actual.(*playerLimiterEntry).limiter
}

func (el *EventLog) writerLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, BatchFlushSize)
	for {
		select {
		case <-el.stopChan:
			for {
				batch = el.collectBatch(batch[:0])
				if len(batch) == 0 {
					return
				}
				el.flushBatch(batch)
			}
		case <-ticker.C:
			batch = el.collectBatch(batch[:0])
			if len(batch) > 0 {
				el.flushBatch(batch)
			}
		}
	}
}

func (el *EventLog) cleanupLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(PlayerLimiterCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-el.stopChan:
			return
		case <-ticker.C:
			el.cleanupPlayerLimiters()
		}
	}
}

func (el *EventLog) cleanupPlayerLimiters() {
	cutoff := el.clock().Add(-PlayerLimiterCleanup).UnixNano()
	el.playerLimiters.Range(func(key, value interface{}) bool {
		if value.(*playerLimiterEntry).lastUsed.Load() < cutoff {
			el.playerLimiters.Delete(key)
		}
		return true
	})
}

// collectBatch drains up to BatchFlushSize queued events without blocking.
func (el *EventLog) collectBatch(batch []Event) []Event {
	for len(batch) < BatchFlushSize {
		select {
		case e := <-el.events:
			batch = append(batch, e)
		default:
			return batch
		}
	}
	return batch
}

// flushBatch writes events as newline-delimited JSON.
func (el *EventLog) flushBatch(batch []Event) {
	el.outMu.Lock()
	defer el.outMu.Unlock()

	if el.out == nil {
		return
	}

	w := bufio.NewWriter(el.out)
	enc := json.NewEncoder(w)
	for _, event := range batch {
		if err := enc.Encode(event); err != nil {
			el.droppedCount.Add(1)
		}
	}
	w.Flush()
}

// GetStats returns journal counters.
func (el *EventLog) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"total":   el.totalCount.Load(),
		"dropped": el.droppedCount.Load(),
		"pending": len(el.events),
		"running": el.running.Load(),
	}
}

// GetDroppedCount returns the number of dropped events
func (el *EventLog) GetDroppedCount() uint64 {
	return el.droppedCount.Load()
}

// GetTotalCount returns the number of accepted events
func (el *EventLog) GetTotalCount() uint64 {
	return el.totalCount.Load()
}
