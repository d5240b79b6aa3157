// Package resourcepool gates concurrent script executions against a global
// memory budget and concurrency limit. It is independent of the query
// drivers: ad-hoc queries never pass through it, only scripts that run as
// separate worker processes with real memory footprints.
package resourcepool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"querygate/internal/config"
	"querygate/internal/domain"
)

// Slot is one unit of granted script-execution capacity. It exists from
// grant until release.
type Slot struct {
	RequestID   string
	MemoryUnits int
	StartTime   time.Time
}

// grantResult is delivered to exactly one waiter when its request resolves.
type grantResult struct {
	slot *Slot
	err  error
}

// waiter is a queued request awaiting a slot. It is removed on grant, on
// explicit cancellation, or on deadline expiry, whichever occurs first.
type waiter struct {
	requestID string
	units     int
	enqueued  time.Time
	ready     chan grantResult
	timer     *time.Timer
	resolved  bool // guarded by Manager.mu
}

// Manager enforces the script execution budget. Acquire blocks the caller
// until a slot is granted, the queue timeout fires, the context is canceled,
// or the pool is cleaned up. Queued requests are served strictly FIFO: a
// later request never acquires a slot while an earlier one is still waiting.
type Manager struct {
	cfg    config.ScriptPoolConfig
	logger *slog.Logger

	mu         sync.Mutex
	slots      map[string]*Slot
	memoryUsed int
	queue      []*waiter
}

// NewManager creates a Manager with the given limits.
func NewManager(cfg config.ScriptPoolConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		slots:  make(map[string]*Slot),
	}
}

// Acquire requests an execution slot for memoryUnits megabytes, defaulting
// the hint when it is zero or negative. The call resolves when a slot is
// granted, the queue timeout fires, ctx is canceled, or Cleanup rejects the
// queue.
func (m *Manager) Acquire(ctx context.Context, requestID string, memoryUnits int) (*Slot, error) {
	if memoryUnits <= 0 {
		memoryUnits = m.cfg.MemoryDefaultMB
	}
	if memoryUnits > m.cfg.MemoryBudgetMB {
		return nil, domain.ErrValidation(
			"script requests %d MB, exceeding the total budget of %d MB", memoryUnits, m.cfg.MemoryBudgetMB)
	}

	m.mu.Lock()
	if _, exists := m.slots[requestID]; exists {
		m.mu.Unlock()
		return nil, domain.ErrValidation("request %q already holds an execution slot", requestID)
	}

	// The fast path only applies when nobody is waiting; a request that fits
	// must not jump ahead of a queued earlier one.
	if len(m.queue) == 0 && m.canGrant(memoryUnits) {
		slot := m.grant(requestID, memoryUnits)
		m.mu.Unlock()
		return slot, nil
	}

	w := &waiter{
		requestID: requestID,
		units:     memoryUnits,
		enqueued:  time.Now(),
		ready:     make(chan grantResult, 1),
	}
	w.timer = time.AfterFunc(m.cfg.QueueTimeout, func() { m.expire(w) })
	m.queue = append(m.queue, w)
	queued := len(m.queue)
	m.mu.Unlock()

	m.logger.Debug("script request queued", "request_id", requestID, "memory_mb", memoryUnits, "queue_len", queued)

	select {
	case res := <-w.ready:
		return res.slot, res.err
	case <-ctx.Done():
		m.withdraw(w)
		// A grant may have raced the cancellation; hand it back if so.
		select {
		case res := <-w.ready:
			if res.slot != nil {
				m.Release(res.slot.RequestID)
			}
		default:
		}
		return nil, ctx.Err()
	}
}

// Release frees the slot held by requestID and re-evaluates the wait queue
// head-first. Releasing an unknown id logs a warning and is a no-op: a slow
// worker can race a timeout-driven caller abort, so double-release must not
// crash.
func (m *Manager) Release(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.slots[requestID]
	if !ok {
		m.logger.Warn("release of unknown execution slot", "request_id", requestID)
		return
	}
	delete(m.slots, requestID)
	m.memoryUsed -= slot.MemoryUnits
	m.grantWaiters()
}

// Status reports the pool's accounting. It never mutates state.
type Status struct {
	Active          int `json:"active"`
	Queued          int `json:"queued"`
	MemoryUsedMB    int `json:"memory_used_mb"`
	MemoryBudgetMB  int `json:"memory_budget_mb"`
	MaxConcurrent   int `json:"max_concurrent"`
	SlotsAvailable  int `json:"slots_available"`
	MemoryAvailable int `json:"memory_available_mb"`
}

// Status returns a snapshot of active slots, queue depth, and remaining
// capacity.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Active:          len(m.slots),
		Queued:          len(m.queue),
		MemoryUsedMB:    m.memoryUsed,
		MemoryBudgetMB:  m.cfg.MemoryBudgetMB,
		MaxConcurrent:   m.cfg.MaxConcurrent,
		SlotsAvailable:  m.cfg.MaxConcurrent - len(m.slots),
		MemoryAvailable: m.cfg.MemoryBudgetMB - m.memoryUsed,
	}
}

// Cleanup rejects every queued request with a shutdown error, clears all
// slots, and resets memory accounting. Safe to call repeatedly, including
// with an empty queue.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.queue {
		if w.resolved {
			continue
		}
		w.resolved = true
		w.timer.Stop()
		w.ready <- grantResult{err: domain.ErrPoolShutdown("resource pool shut down while request %q was queued", w.requestID)}
	}
	m.queue = nil
	m.slots = make(map[string]*Slot)
	m.memoryUsed = 0
}

// canGrant reports whether a request for units fits the current capacity.
// Callers must hold mu.
func (m *Manager) canGrant(units int) bool {
	return len(m.slots) < m.cfg.MaxConcurrent && m.memoryUsed+units <= m.cfg.MemoryBudgetMB
}

// grant creates a live slot. Callers must hold mu.
func (m *Manager) grant(requestID string, units int) *Slot {
	slot := &Slot{RequestID: requestID, MemoryUnits: units, StartTime: time.Now()}
	m.slots[requestID] = slot
	m.memoryUsed += units
	return slot
}

// grantWaiters serves the queue head-first, granting while the head fits.
// The scan is a plain linear pass with head-of-line blocking: a later
// request is never served past a still-waiting earlier one. Callers must
// hold mu.
func (m *Manager) grantWaiters() {
	for len(m.queue) > 0 {
		head := m.queue[0]
		if head.resolved {
			m.queue = m.queue[1:]
			continue
		}
		if !m.canGrant(head.units) {
			return
		}
		m.queue = m.queue[1:]
		head.resolved = true
		head.timer.Stop()
		head.ready <- grantResult{slot: m.grant(head.requestID, head.units)}
	}
}

// expire rejects a waiter whose queue deadline fired.
func (m *Manager) expire(w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w.resolved {
		return
	}
	w.resolved = true
	m.removeWaiter(w)
	waited := time.Since(w.enqueued)
	m.logger.Warn("script request timed out in queue", "request_id", w.requestID, "waited", waited)
	w.ready <- grantResult{err: domain.ErrPoolTimeout(
		"request %q waited %s for an execution slot (limit %s)", w.requestID, waited.Round(time.Millisecond), m.cfg.QueueTimeout)}

	// The expired waiter may have been the head blocking smaller requests
	// behind it.
	m.grantWaiters()
}

// withdraw removes a waiter after caller-side cancellation.
func (m *Manager) withdraw(w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w.resolved {
		return
	}
	w.resolved = true
	w.timer.Stop()
	m.removeWaiter(w)
	m.grantWaiters()
}

// removeWaiter deletes w from the queue. Callers must hold mu.
func (m *Manager) removeWaiter(w *waiter) {
	for i, q := range m.queue {
		if q == w {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}
