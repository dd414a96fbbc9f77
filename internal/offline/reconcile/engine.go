// Package reconcile keeps one user's records of one kind consistent between memory,
// the local cache and the remote service.
//
// Reads come from the cache first and are replaced by the remote snapshot when
// online. Writes are applied to memory and cache before the remote write is
// attempted, records the remote has not seen yet carry a temporary id until a
// remote answer with the same identity replaces them. Every local write stays
// pending until the remote confirms it, pending records survive fetches and are
// pushed again by SyncToServer.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/uuid"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/offline/remote"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/record"
	"go.uber.org/zap"
)

// Phase of the operation in flight
type Phase string

// phases
const (
	PhaseIdle        Phase = "idle"
	PhaseLoading     Phase = "loading"
	PhaseSyncing     Phase = "syncing"
	PhaseOptimistic  Phase = "optimistic-local-write"
	PhaseRemoteWrite Phase = "remote-write"
)

// ErrNoRecords Save was called without records
var ErrNoRecords = errors.New("no records to save")

// ErrClosed the engine was closed
var ErrClosed = errors.New("sync engine closed")

// Kind describes how records of one kind are identified, ordered and modified
type Kind[R any] struct {
	Name string
	// NotFound returned by Update when the key is unknown
	NotFound error
	// Identity merge key, at most one record per identity
	Identity func(R) string
	// Key lookup key of Get and Update
	Key    func(R) string
	ID     func(R) string
	WithID func(R, string) R
	Less   func(a, b R) bool
	// Prepare fills owner, defaults and timestamps of a record about to be saved
	Prepare func(rec R, userID string, now time.Time) R
	// Apply returns rec with fields shallow merged
	Apply func(rec R, fields map[string]interface{}, now time.Time) (R, error)
}

// State snapshot exposed to consumers
type State[R any] struct {
	Records  []R
	Loading  bool
	Syncing  bool
	Offline  bool
	Error    string
	LastSync time.Time
	Phase    Phase
}

// Result outcome of an operation, Err is set when Success is false
type Result[R any] struct {
	Data    []R
	Err     error
	Success bool
}

// Remote the data service as seen by the engine
type Remote[R any] interface {
	Fetch(ctx context.Context, userID string) ([]R, error)
	Write(ctx context.Context, userID string, records []R) ([]R, error)
	Update(ctx context.Context, userID, id string, fields map[string]interface{}) (R, error)
}

// Store the local cache as seen by the engine. The pending set holds the identity
// keys of records changed locally and not confirmed by the remote yet
type Store[R any] interface {
	ReadAll(userID string) []R
	WriteAll(userID string, records []R) error
	UpsertOne(userID string, rec R) error
	ReadPending(userID string) []string
	MarkPending(userID string, keys ...string) error
	ClearPending(userID string, keys ...string) error
}

// Network connectivity signal as seen by the engine
type Network interface {
	IsOnline() bool
	SetOnline(online bool)
	RecordSyncTime()
	LastSyncTime() (time.Time, bool)
}

// Engine reconciles one record kind, the mutex is never held across I/O
type Engine[R any] struct {
	kind    Kind[R]
	store   Store[R]
	remote  Remote[R]
	network Network
	ids     uuid.Generator
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	userID  string
	gen     uint64
	closed  bool
	records []R
	dirty   map[string]bool
	loading bool
	syncing bool
	offline bool
	err     string
	phase   Phase
}

// New create an engine, ids generates the temporary ids of new records
func New[R any](kind Kind[R], store Store[R], rmt Remote[R], network Network, ids uuid.Generator, logger *zap.Logger) *Engine[R] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine[R]{
		kind:    kind,
		store:   store,
		remote:  rmt,
		network: network,
		ids:     ids,
		logger:  logger.With(zap.String("sync.kind", kind.Name)),
		now:     time.Now,
		phase:   PhaseIdle,
		offline: !network.IsOnline(),
		dirty:   make(map[string]bool),
	}
}

// Load binds the engine to userID and populates memory from the cache, no remote call
func (e *Engine[R]) Load(userID string) {
	_, _ = e.begin(userID)
}

// UserID the user the engine is bound to
func (e *Engine[R]) UserID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userID
}

// begin binds the engine to userID, reloading memory and pending keys from the
// cache when the user changes, and returns the generation results must match to
// be applied
func (e *Engine[R]) begin(userID string) (uint64, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrClosed
	}
	if e.userID == userID {
		gen := e.gen
		e.mu.Unlock()
		return gen, nil
	}
	e.mu.Unlock()

	cached := e.store.ReadAll(userID)
	pending := e.store.ReadPending(userID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrClosed
	}
	if e.userID != userID {
		e.gen++
		e.userID = userID
		e.records = e.sorted(cached)
		e.dirty = make(map[string]bool, len(pending))
		for _, k := range pending {
			e.dirty[k] = true
		}
		e.err = ""
		e.loading, e.syncing = false, false
		e.phase = PhaseIdle
	}
	return e.gen, nil
}

// Close drops memory state, results of operations still in flight are discarded
// and later operations fail with ErrClosed
func (e *Engine[R]) Close() {
	e.mu.Lock()
	e.closed = true
	e.gen++
	e.records = nil
	e.dirty = make(map[string]bool)
	e.loading, e.syncing = false, false
	e.err = ""
	e.phase = PhaseIdle
	e.mu.Unlock()
}

// State returns a copy of the current state
func (e *Engine[R]) State() State[R] {
	e.mu.Lock()
	s := State[R]{
		Records: append([]R{}, e.records...),
		Loading: e.loading,
		Syncing: e.syncing,
		Offline: e.offline,
		Error:   e.err,
		Phase:   e.phase,
	}
	e.mu.Unlock()
	s.LastSync, _ = e.network.LastSyncTime()
	return s
}

// Get looks key up in memory
func (e *Engine[R]) Get(key string) (R, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i := e.indexOf(e.kind.Key, key); i >= 0 {
		return e.records[i], true
	}
	var zero R
	return zero, false
}

// Fetch reads the cache and, when online, replaces it with the remote snapshot.
// An empty snapshot never erases cached records, pending local changes are laid
// over the snapshot
func (e *Engine[R]) Fetch(ctx context.Context, userID string) (res Result[R]) {
	gen, err := e.begin(userID)
	if err != nil {
		return Result[R]{Err: err}
	}
	defer e.recoverPanic(gen, "fetch", &res)

	e.set(gen, func() {
		e.loading = true
		e.phase = PhaseLoading
	})
	cached := e.store.ReadAll(userID)
	e.set(gen, func() {
		if len(cached) > 0 {
			e.records = e.sorted(cached)
		} else {
			// cache unavailable, keep what is in memory
			cached = append([]R{}, e.records...)
		}
	})

	if !e.network.IsOnline() {
		e.finish(gen, func() { e.offline = true })
		return Result[R]{Data: e.sorted(cached), Success: true}
	}

	e.set(gen, func() {
		e.syncing = true
		e.phase = PhaseSyncing
	})
	fetched, err := e.remote.Fetch(ctx, userID)
	if err != nil {
		return e.failed(gen, "fetch", err, cached)
	}

	// writes may have landed while the remote was answering
	local := e.store.ReadAll(userID)
	if len(local) == 0 {
		local = cached
	}
	if len(fetched) == 0 && len(local) > 0 {
		e.logger.Warn("Ignore empty remote snapshot", zap.String("user.id", userID), zap.Int("cache.size", len(local)))
		e.finish(gen, func() { e.offline = false; e.err = "" })
		return Result[R]{Data: e.sorted(local), Success: true}
	}

	merged := e.sorted(e.overlay(fetched, local, e.pendingKeys(gen, userID)))
	if err := e.store.WriteAll(userID, merged); err != nil {
		e.logger.Warn("Failed to write cache", zap.Error(err))
	}
	e.network.RecordSyncTime()
	e.finish(gen, func() {
		e.records = merged
		e.offline = false
		e.err = ""
	})
	return Result[R]{Data: merged, Success: true}
}

// Save writes records locally, then remotely when online. Records without an id
// take the id of the record sharing their identity, or a temporary one
func (e *Engine[R]) Save(ctx context.Context, userID string, records ...R) (res Result[R]) {
	gen, err := e.begin(userID)
	if err != nil {
		return Result[R]{Err: err}
	}
	defer e.recoverPanic(gen, "save", &res)

	if len(records) == 0 {
		e.set(gen, func() { e.err = ErrNoRecords.Error() })
		return Result[R]{Err: ErrNoRecords}
	}

	now := e.now().UTC()
	prepared := make([]R, 0, len(records))
	for _, rec := range records {
		rec = e.kind.Prepare(rec, userID, now)
		if e.kind.ID(rec) == "" {
			id, err := e.assignID(rec)
			if err != nil {
				return e.failed(gen, "save", err, nil)
			}
			rec = e.kind.WithID(rec, id)
		}
		prepared = append(prepared, rec)
	}

	e.set(gen, func() {
		e.phase = PhaseOptimistic
		e.upsert(prepared...)
	})
	e.persist(userID, prepared)
	e.mark(gen, userID, prepared)

	if !e.network.IsOnline() {
		e.finish(gen, func() { e.offline = true })
		return Result[R]{Data: prepared, Success: true}
	}
	return e.write(ctx, gen, userID, prepared)
}

// Update shallow merges fields onto the record found by key, locally then remotely.
// A record the remote has not seen yet is written instead of updated
func (e *Engine[R]) Update(ctx context.Context, userID, key string, fields map[string]interface{}) (res Result[R]) {
	gen, err := e.begin(userID)
	if err != nil {
		return Result[R]{Err: err}
	}
	defer e.recoverPanic(gen, "update", &res)

	var (
		updated R
		found   bool
	)
	e.set(gen, func() {
		i := e.indexOf(e.kind.Key, key)
		if i < 0 {
			return
		}
		found = true
		if updated, err = e.kind.Apply(e.records[i], fields, e.now().UTC()); err != nil {
			return
		}
		if e.kind.Identity(updated) != e.kind.Identity(e.records[i]) {
			err = fmt.Errorf("%w: %s %s can not change identity", record.ErrInvalidFields, e.kind.Name, key)
			return
		}
		e.phase = PhaseOptimistic
		e.records[i] = updated
		e.records = e.sorted(e.records)
	})
	if !found {
		err = e.kind.NotFound
	}
	if err != nil {
		e.finish(gen, func() { e.err = err.Error() })
		return Result[R]{Err: err}
	}
	e.persist(userID, []R{updated})
	e.mark(gen, userID, []R{updated})

	if !e.network.IsOnline() {
		e.finish(gen, func() { e.offline = true })
		return Result[R]{Data: []R{updated}, Success: true}
	}
	if uuid.IsTemp(e.kind.ID(updated)) {
		return e.write(ctx, gen, userID, []R{updated})
	}

	e.set(gen, func() {
		e.syncing = true
		e.phase = PhaseRemoteWrite
	})
	stored, err := e.remote.Update(ctx, userID, e.kind.ID(updated), fields)
	if err != nil {
		e.remark(gen, userID, err, []R{updated})
		return e.failed(gen, "update", err, []R{updated})
	}
	e.reconciled(gen, userID, []R{stored})
	return Result[R]{Data: []R{stored}, Success: true}
}

// SyncToServer writes every pending record, and every record still carrying a
// temporary id, in one remote call
func (e *Engine[R]) SyncToServer(ctx context.Context, userID string) (res Result[R]) {
	gen, err := e.begin(userID)
	if err != nil {
		return Result[R]{Err: err}
	}
	defer e.recoverPanic(gen, "sync", &res)

	var pending []R
	e.set(gen, func() {
		for _, rec := range e.records {
			if uuid.IsTemp(e.kind.ID(rec)) || e.dirty[e.kind.Identity(rec)] {
				pending = append(pending, rec)
			}
		}
	})
	if len(pending) == 0 || !e.network.IsOnline() {
		return Result[R]{Success: true}
	}
	e.logger.Debug("Push pending records", zap.String("user.id", userID), zap.Int("sync.count", len(pending)))
	return e.write(ctx, gen, userID, pending)
}

func (e *Engine[R]) write(ctx context.Context, gen uint64, userID string, records []R) Result[R] {
	e.set(gen, func() {
		e.syncing = true
		e.phase = PhaseRemoteWrite
	})
	saved, err := e.remote.Write(ctx, userID, records)
	if err != nil {
		e.remark(gen, userID, err, records)
		return e.failed(gen, "write", err, records)
	}
	e.reconciled(gen, userID, saved)
	return Result[R]{Data: saved, Success: true}
}

// reconciled stores records confirmed by the remote, each replaces the local
// record sharing its identity
func (e *Engine[R]) reconciled(gen uint64, userID string, records []R) {
	e.persist(userID, records)
	e.clear(gen, userID, records)
	e.network.RecordSyncTime()
	e.finish(gen, func() {
		e.upsert(records...)
		e.offline = false
		e.err = ""
	})
}

// failed handles a remote error. An unreachable service means offline and the
// operation succeeds on local state, any other error is reported
func (e *Engine[R]) failed(gen uint64, op string, err error, local []R) Result[R] {
	if errors.Is(err, remote.ErrUnreachable) {
		e.logger.Warn("Remote unreachable, continue offline", zap.String("sync.op", op), zap.Error(err))
		e.network.SetOnline(false)
		e.finish(gen, func() { e.offline = true })
		return Result[R]{Data: local, Success: true}
	}

	e.logger.Warn("Remote operation failed", zap.String("sync.op", op), zap.Error(err))
	e.finish(gen, func() { e.err = err.Error() })
	return Result[R]{Data: local, Err: err}
}

func (e *Engine[R]) recoverPanic(gen uint64, op string, res *Result[R]) {
	r := recover()
	if r == nil {
		return
	}
	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("%v", r)
	}
	err = fmt.Errorf("%s %s: %w", e.kind.Name, op, err)
	e.logger.Error("Recovered from panic", zap.String("sync.op", op), zap.Error(err), zap.Stack("error.stack_trace"))
	e.finish(gen, func() { e.err = err.Error() })
	*res = Result[R]{Err: err}
}

// assignID reuses the id of the record with the same identity, else a temporary id
func (e *Engine[R]) assignID(rec R) (string, error) {
	e.mu.Lock()
	i := e.indexOf(e.kind.Identity, e.kind.Identity(rec))
	var id string
	if i >= 0 {
		id = e.kind.ID(e.records[i])
	}
	e.mu.Unlock()
	if id != "" {
		return id, nil
	}
	return e.ids.Generate()
}

// overlay lays local records over snapshot. A pending local record replaces the
// remote one sharing its identity and takes its id when it only has a temporary
// one, pending or temporary local records unknown to the remote are kept
func (e *Engine[R]) overlay(snapshot, local []R, pending map[string]bool) []R {
	mine := make(map[string]R)
	for _, rec := range local {
		if k := e.kind.Identity(rec); pending[k] {
			mine[k] = rec
		}
	}

	seen := make(map[string]bool, len(snapshot))
	out := make([]R, 0, len(snapshot))
	for _, rec := range snapshot {
		k := e.kind.Identity(rec)
		seen[k] = true
		if m, ok := mine[k]; ok {
			if uuid.IsTemp(e.kind.ID(m)) {
				m = e.kind.WithID(m, e.kind.ID(rec))
			}
			rec = m
		}
		out = append(out, rec)
	}
	for _, rec := range local {
		k := e.kind.Identity(rec)
		if !seen[k] && (pending[k] || uuid.IsTemp(e.kind.ID(rec))) {
			seen[k] = true
			out = append(out, rec)
		}
	}
	return out
}

// pendingKeys union of the stored and in-memory pending sets
func (e *Engine[R]) pendingKeys(gen uint64, userID string) map[string]bool {
	keys := make(map[string]bool)
	for _, k := range e.store.ReadPending(userID) {
		keys[k] = true
	}
	e.set(gen, func() {
		for k := range e.dirty {
			keys[k] = true
		}
	})
	return keys
}

// mark records records as changed locally, kept until the remote confirms them
func (e *Engine[R]) mark(gen uint64, userID string, records []R) {
	if len(records) == 0 {
		return
	}
	keys := e.identities(records)
	e.set(gen, func() {
		for _, k := range keys {
			e.dirty[k] = true
		}
	})
	if err := e.store.MarkPending(userID, keys...); err != nil {
		e.logger.Warn("Failed to write pending keys", zap.String("user.id", userID), zap.Error(err))
	}
}

// remark keeps records pending after an unreachable remote, a concurrent
// confirmation of the same identity may have cleared them
func (e *Engine[R]) remark(gen uint64, userID string, err error, records []R) {
	if errors.Is(err, remote.ErrUnreachable) {
		e.mark(gen, userID, records)
	}
}

// clear drops records confirmed by the remote from the pending set
func (e *Engine[R]) clear(gen uint64, userID string, records []R) {
	if len(records) == 0 {
		return
	}
	keys := e.identities(records)
	e.set(gen, func() {
		for _, k := range keys {
			delete(e.dirty, k)
		}
	})
	if err := e.store.ClearPending(userID, keys...); err != nil {
		e.logger.Warn("Failed to write pending keys", zap.String("user.id", userID), zap.Error(err))
	}
}

func (e *Engine[R]) identities(records []R) []string {
	keys := make([]string, 0, len(records))
	for _, rec := range records {
		keys = append(keys, e.kind.Identity(rec))
	}
	return keys
}

func (e *Engine[R]) persist(userID string, records []R) {
	for _, rec := range records {
		if err := e.store.UpsertOne(userID, rec); err != nil {
			e.logger.Warn("Failed to write cache", zap.String("user.id", userID), zap.Error(err))
			return
		}
	}
}

// set runs fn under the lock when gen is still current
func (e *Engine[R]) set(gen uint64, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen || e.closed {
		return
	}
	phase := e.phase
	fn()
	if e.phase != phase {
		e.logger.Debug("Phase changed", zap.String("user.id", e.userID),
			zap.String("sync.from", string(phase)), zap.String("sync.to", string(e.phase)))
	}
}

// finish runs fn and returns to idle
func (e *Engine[R]) finish(gen uint64, fn func()) {
	e.set(gen, func() {
		fn()
		e.loading, e.syncing = false, false
		e.phase = PhaseIdle
	})
}

// upsert requires the lock
func (e *Engine[R]) upsert(records ...R) {
	for _, rec := range records {
		if i := e.indexOf(e.kind.Identity, e.kind.Identity(rec)); i >= 0 {
			e.records[i] = rec
		} else {
			e.records = append(e.records, rec)
		}
	}
	e.records = e.sorted(e.records)
}

// indexOf requires the lock
func (e *Engine[R]) indexOf(by func(R) string, value string) int {
	for i, rec := range e.records {
		if by(rec) == value {
			return i
		}
	}
	return -1
}

func (e *Engine[R]) sorted(records []R) []R {
	out := append([]R{}, records...)
	sort.SliceStable(out, func(i, j int) bool {
		return e.kind.Less(out[i], out[j])
	})
	return out
}
