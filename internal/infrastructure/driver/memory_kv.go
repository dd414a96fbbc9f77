package driver

import (
	"sync"
	"time"
)

type memoryEntry struct {
	value    string
	expireAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// MemoryKV in-process KeyValueDB, contents are lost when the process exits
type MemoryKV struct {
	mu    sync.RWMutex
	items map[string]memoryEntry
	now   func() time.Time
}

var _ KeyValueDB = &MemoryKV{}

// NewMemoryKV create an empty MemoryKV
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		items: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

// SetEX implement KeyValueDB
func (m *MemoryKV) SetEX(key string, value string, expiration time.Duration) error {
	entry := memoryEntry{value: value}
	if expiration > 0 {
		entry.expireAt = m.now().Add(expiration)
	}
	m.mu.Lock()
	m.items[key] = entry
	m.mu.Unlock()
	return nil
}

// Get implement KeyValueDB
func (m *MemoryKV) Get(key string) (string, error) {
	m.mu.RLock()
	entry, ok := m.items[key]
	m.mu.RUnlock()
	if !ok || entry.expired(m.now()) {
		return "", ErrKeyNotFound
	}
	return entry.value, nil
}

// Exists implement KeyValueDB
func (m *MemoryKV) Exists(key string) (bool, error) {
	_, err := m.Get(key)
	if err == ErrKeyNotFound {
		return false, nil
	}
	return err == nil, err
}

// Ping implement KeyValueDB
func (m *MemoryKV) Ping() error {
	return nil
}
