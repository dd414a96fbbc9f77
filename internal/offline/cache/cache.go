// Package cache stores whole record collections per user and kind in a key-value
// substrate. Reads never fail, a missing or unreadable entry is an empty collection.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/driver"
	"go.uber.org/zap"
)

// KeyPrefix shared by every cache entry
const KeyPrefix = "edusoluce:"

// Key returns the storage key of a user's collection of kind
func Key(kind, userID string) string {
	return fmt.Sprintf("%s%s:%s", KeyPrefix, kind, userID)
}

// writers to the same key are serialized process wide, collections over the same
// substrate may be created by several hooks
var keyLocks sync.Map

func lockKey(key string) func() {
	v, _ := keyLocks.LoadOrStore(key, new(sync.Mutex))
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Collection typed view over the cache entries of one record kind
type Collection[R any] struct {
	kv       driver.KeyValueDB
	kind     string
	identity func(R) string
	logger   *zap.Logger
}

// NewCollection create a collection of kind, identity returns the merge key of a record
func NewCollection[R any](kv driver.KeyValueDB, kind string, identity func(R) string, logger *zap.Logger) *Collection[R] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collection[R]{
		kv:       kv,
		kind:     kind,
		identity: identity,
		logger:   logger.With(zap.String("cache.kind", kind)),
	}
}

// Kind returns the record kind of the collection
func (c *Collection[R]) Kind() string {
	return c.kind
}

// ReadAll returns the cached records of userID, empty on miss or failure
func (c *Collection[R]) ReadAll(userID string) []R {
	return c.read(Key(c.kind, userID))
}

func (c *Collection[R]) read(key string) []R {
	var records []R
	if !c.load(key, &records) || records == nil {
		return []R{}
	}
	return records
}

// load decodes the entry at key into out, false on miss or failure
func (c *Collection[R]) load(key string, out interface{}) bool {
	raw, err := c.kv.Get(key)
	if errors.Is(err, driver.ErrKeyNotFound) {
		return false
	}
	if err != nil {
		c.logger.Warn("Failed to read cache", zap.String("cache.key", key), zap.Error(err))
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		c.logger.Warn("Discard corrupt cache entry", zap.String("cache.key", key), zap.Error(err))
		return false
	}
	return true
}

// WriteAll replaces the whole collection of userID
func (c *Collection[R]) WriteAll(userID string, records []R) error {
	key := Key(c.kind, userID)
	unlock := lockKey(key)
	defer unlock()
	return c.write(key, records)
}

func (c *Collection[R]) write(key string, records []R) error {
	if records == nil {
		records = []R{}
	}
	return c.store(key, records)
}

func (c *Collection[R]) store(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s cache: %w", c.kind, err)
	}
	if err := c.kv.SetEX(key, string(raw), 0); err != nil {
		return fmt.Errorf("write %s cache: %w", c.kind, err)
	}
	return nil
}

// UpsertOne replaces the cached record sharing rec's identity, or appends rec
func (c *Collection[R]) UpsertOne(userID string, rec R) error {
	key := Key(c.kind, userID)
	unlock := lockKey(key)
	defer unlock()

	records := c.read(key)
	id := c.identity(rec)
	for i := range records {
		if c.identity(records[i]) == id {
			records[i] = rec
			return c.write(key, records)
		}
	}
	return c.write(key, append(records, rec))
}

// PendingKey returns the storage key of the identity keys userID changed locally
// and the remote has not confirmed yet
func PendingKey(kind, userID string) string {
	return fmt.Sprintf("%spending:%s:%s", KeyPrefix, kind, userID)
}

// ReadPending returns the pending identity keys of userID, sorted
func (c *Collection[R]) ReadPending(userID string) []string {
	return c.readPending(PendingKey(c.kind, userID))
}

func (c *Collection[R]) readPending(key string) []string {
	var keys []string
	if !c.load(key, &keys) || keys == nil {
		return []string{}
	}
	return keys
}

// MarkPending adds keys to the pending set of userID
func (c *Collection[R]) MarkPending(userID string, keys ...string) error {
	return c.changePending(userID, func(set map[string]bool) {
		for _, k := range keys {
			set[k] = true
		}
	})
}

// ClearPending removes keys from the pending set of userID
func (c *Collection[R]) ClearPending(userID string, keys ...string) error {
	return c.changePending(userID, func(set map[string]bool) {
		for _, k := range keys {
			delete(set, k)
		}
	})
}

func (c *Collection[R]) changePending(userID string, fn func(map[string]bool)) error {
	key := PendingKey(c.kind, userID)
	unlock := lockKey(key)
	defer unlock()

	set := make(map[string]bool)
	for _, k := range c.readPending(key) {
		set[k] = true
	}
	before := len(set)
	fn(set)
	if len(set) == 0 && before == 0 {
		return nil
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return c.store(key, keys)
}
