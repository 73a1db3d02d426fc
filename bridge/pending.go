package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/canvasbridge/contracts"
)

// ResolveFunc receives the peer's result for a command
type ResolveFunc func(result json.RawMessage)

// RejectFunc receives the terminal error for a command
type RejectFunc func(err error)

// pendingEntry tracks one in-flight command until it settles
type pendingEntry struct {
	id      string
	cmdType string
	sentAt  time.Time
	resolve ResolveFunc
	reject  RejectFunc
	timer   Timer
}

// PendingTable correlates in-flight command ids with their continuations.
// Each registered entry settles exactly once; continuations run outside the lock.
type PendingTable struct {
	entries map[string]*pendingEntry
	mu      sync.Mutex
	clock   Clock
	logger  *slog.Logger
}

// NewPendingTable creates an empty correlation table
func NewPendingTable(clock Clock, logger *slog.Logger) *PendingTable {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PendingTable{
		entries: make(map[string]*pendingEntry),
		clock:   clock,
		logger:  logger,
	}
}

// Register adds a pending entry and starts its timeout. When the timeout fires
// the entry is removed and rejected with a *contracts.TimeoutError.
func (t *PendingTable) Register(id, cmdType string, resolve ResolveFunc, reject RejectFunc, timeout time.Duration) error {
	if resolve == nil || reject == nil {
		return fmt.Errorf("resolve and reject cannot be nil")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[id]; exists {
		t.logger.Error("command id already pending", "id", id, "type", cmdType)
		return fmt.Errorf("%w: %s", contracts.ErrDuplicateCommandID, id)
	}

	entry := &pendingEntry{
		id:      id,
		cmdType: cmdType,
		sentAt:  t.clock.Now(),
		resolve: resolve,
		reject:  reject,
	}
	t.entries[id] = entry

	// The callback blocks on t.mu until this method returns, so entry.timer is set
	entry.timer = t.clock.AfterFunc(timeout, func() {
		t.expire(entry, timeout)
	})

	return nil
}

// Resolve settles a pending entry with the peer's result. It returns false when
// the id is unknown or already settled.
func (t *PendingTable) Resolve(id string, result json.RawMessage) bool {
	entry, ok := t.take(id)
	if !ok {
		t.logger.Warn("discarding response for unknown command", "id", id)
		return false
	}
	entry.resolve(result)
	return true
}

// Reject settles a pending entry with an error. It returns false when the id
// is unknown or already settled.
func (t *PendingTable) Reject(id string, err error) bool {
	entry, ok := t.take(id)
	if !ok {
		t.logger.Warn("discarding rejection for unknown command", "id", id, "error", err)
		return false
	}
	entry.reject(err)
	return true
}

// Drain rejects every pending entry with err and returns how many were rejected
func (t *PendingTable) Drain(err error) int {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*pendingEntry)
	t.mu.Unlock()

	for _, entry := range entries {
		entry.timer.Stop()
		entry.reject(err)
	}
	return len(entries)
}

// Len returns the number of in-flight commands
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// CommandType returns the type of a pending command
func (t *PendingTable) CommandType(id string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[id]
	if !ok {
		return "", false
	}
	return entry.cmdType, true
}

// take removes an entry and cancels its timer
func (t *PendingTable) take(id string) (*pendingEntry, bool) {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if ok {
		entry.timer.Stop()
	}
	return entry, ok
}

// expire rejects an entry whose timeout fired, unless it already settled
func (t *PendingTable) expire(entry *pendingEntry, timeout time.Duration) {
	t.mu.Lock()
	current, ok := t.entries[entry.id]
	if !ok || current != entry {
		t.mu.Unlock()
		return
	}
	delete(t.entries, entry.id)
	t.mu.Unlock()

	t.logger.Warn("command timed out",
		"id", entry.id,
		"type", entry.cmdType,
		"timeout", timeout)

	entry.reject(&contracts.TimeoutError{
		Type:    entry.cmdType,
		ID:      entry.id,
		Timeout: timeout,
	})
}
