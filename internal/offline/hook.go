// Package offline exposes the progress and result sync hooks used by consumers.
//
// A hook is bound to one user when created: it reads the local cache right away,
// fetches from the remote service on demand and pushes records saved offline as
// soon as the network monitor reports the transition back online.
package offline

import (
	"context"
	"sync"

	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/driver"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/uuid"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/offline/cache"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/offline/network"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/offline/reconcile"
	"go.uber.org/zap"
)

// Deps shared by every hook of a process
type Deps struct {
	KV      driver.KeyValueDB
	Monitor *network.Monitor
	// IDs generates temporary ids, a TempGenerator over nanoid when nil
	IDs    uuid.Generator
	Logger *zap.Logger
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d Deps) ids() uuid.Generator {
	if d.IDs == nil {
		return uuid.NewTempGenerator(uuid.NewNanoIDGenerator(21))
	}
	return d.IDs
}

// hook binds an engine to the monitor, an offline to online transition queues one
// SyncToServer pass
type hook[R any] struct {
	engine      *reconcile.Engine[R]
	unsubscribe func()
	trigger     chan struct{}
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	closeOnce   sync.Once
	logger      *zap.Logger
}

func newHook[R any](kind reconcile.Kind[R], userID string, rmt reconcile.Remote[R], deps Deps) *hook[R] {
	logger := deps.logger().With(zap.String("sync.kind", kind.Name), zap.String("user.id", userID))
	store := cache.NewCollection(deps.KV, kind.Name, kind.Identity, logger)

	h := &hook[R]{
		engine:  reconcile.New[R](kind, store, rmt, deps.Monitor, deps.ids(), logger),
		trigger: make(chan struct{}, 1),
		logger:  logger,
	}
	h.engine.Load(userID)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.unsubscribe = deps.Monitor.OnChange(func(online bool) {
		if !online {
			return
		}
		select {
		case h.trigger <- struct{}{}:
		default:
		}
	})

	h.wg.Add(1)
	go h.loop(ctx)
	return h
}

func (h *hook[R]) loop(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.trigger:
			res := h.engine.SyncToServer(ctx, h.engine.UserID())
			if !res.Success {
				h.logger.Warn("Sync after reconnect failed", zap.Error(res.Err))
			}
		}
	}
}

// FetchAll reads the cache then, when online, the remote service
func (h *hook[R]) FetchAll(ctx context.Context, userID string) reconcile.Result[R] {
	return h.engine.Fetch(ctx, userID)
}

// Save writes one or more records, offline saves succeed with temporary ids
func (h *hook[R]) Save(ctx context.Context, userID string, records ...R) reconcile.Result[R] {
	return h.engine.Save(ctx, userID, records...)
}

// Update shallow merges fields onto the record found by key
func (h *hook[R]) Update(ctx context.Context, userID, key string, fields map[string]interface{}) reconcile.Result[R] {
	return h.engine.Update(ctx, userID, key, fields)
}

// SyncToServer pushes records still carrying a temporary id
func (h *hook[R]) SyncToServer(ctx context.Context) reconcile.Result[R] {
	return h.engine.SyncToServer(ctx, h.engine.UserID())
}

// Get in-memory lookup
func (h *hook[R]) Get(key string) (R, bool) {
	return h.engine.Get(key)
}

// State snapshot of records and flags
func (h *hook[R]) State() reconcile.State[R] {
	return h.engine.State()
}

// Close unsubscribes from the monitor and stops background work, results still in
// flight are dropped
func (h *hook[R]) Close() {
	h.closeOnce.Do(func() {
		h.unsubscribe()
		h.cancel()
		h.wg.Wait()
		h.engine.Close()
	})
}
