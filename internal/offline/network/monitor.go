// Package network tracks whether the remote data service is reachable.
package network

import (
	"errors"
	"sync"
	"time"

	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/driver"
	"go.uber.org/zap"
)

// LastSyncKey storage key of the last successful reconciliation time
const LastSyncKey = "edusoluce:last-sync"

// Listener receives the new status on every online/offline transition
type Listener func(online bool)

// Monitor holds the connectivity signal and notifies listeners on transitions
type Monitor struct {
	mu        sync.Mutex
	online    bool
	listeners map[int]Listener
	nextID    int

	kv     driver.KeyValueDB
	logger *zap.Logger
	now    func() time.Time
}

// NewMonitor create a monitor starting in the given state, kv persists the last sync time
func NewMonitor(kv driver.KeyValueDB, online bool, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		online:    online,
		listeners: make(map[int]Listener),
		kv:        kv,
		logger:    logger,
		now:       time.Now,
	}
}

// IsOnline returns the current signal
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnChange registers listener, the returned function unsubscribes it and may be
// called any number of times
func (m *Monitor) OnChange(listener Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = listener
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// ListenerCount number of registered listeners
func (m *Monitor) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// SetOnline updates the signal, listeners run synchronously and only when the
// value changes
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	m.logger.Info("Network status changed", zap.Bool("network.online", online))
	for _, l := range listeners {
		l(online)
	}
}

// RecordSyncTime stores now as the last successful sync time
func (m *Monitor) RecordSyncTime() {
	ts := m.now().UTC().Format(time.RFC3339Nano)
	if err := m.kv.SetEX(LastSyncKey, ts, 0); err != nil {
		m.logger.Warn("Failed to record sync time", zap.Error(err))
	}
}

// LastSyncTime returns the last recorded sync time, false when none was recorded
func (m *Monitor) LastSyncTime() (time.Time, bool) {
	raw, err := m.kv.Get(LastSyncKey)
	if err != nil {
		if !errors.Is(err, driver.ErrKeyNotFound) {
			m.logger.Warn("Failed to read sync time", zap.Error(err))
		}
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		m.logger.Warn("Discard invalid sync time", zap.String("value", raw), zap.Error(err))
		return time.Time{}, false
	}
	return ts, true
}
