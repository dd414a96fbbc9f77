package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/driver"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/uuid"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/offline/cache"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/offline/network"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/offline/remote"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Key    string `json:"key"`
	Value  int    `json:"value"`
}

var itemKind = Kind[item]{
	Name:     "items",
	NotFound: record.NotFound("Item"),
	Identity: func(i item) string { return i.Key },
	Key:      func(i item) string { return i.Key },
	ID:       func(i item) string { return i.ID },
	WithID: func(i item, id string) item {
		i.ID = id
		return i
	},
	Less: func(a, b item) bool { return a.Key < b.Key },
	Prepare: func(i item, userID string, _ time.Time) item {
		i.UserID = userID
		return i
	},
	Apply: func(i item, fields map[string]interface{}, _ time.Time) (item, error) {
		return record.Merge(i, fields)
	},
}

// fakeRemote keeps records by key and assigns "r<n>" ids to temporary ones
type fakeRemote struct {
	mu       sync.Mutex
	records  []item
	snapshot *[]item
	err      error
	nextID   int
	writes   [][]item
	updates  []map[string]interface{}
	fetches  int
	release  chan struct{}
	panicMsg string
}

func (f *fakeRemote) Fetch(ctx context.Context, userID string) ([]item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	if f.snapshot != nil {
		return append([]item{}, *f.snapshot...), nil
	}
	return append([]item{}, f.records...), nil
}

func (f *fakeRemote) Write(ctx context.Context, userID string, records []item) ([]item, error) {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.writes = append(f.writes, records)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]item, 0, len(records))
	for _, rec := range records {
		if uuid.IsTemp(rec.ID) {
			f.nextID++
			rec.ID = fmt.Sprintf("r%d", f.nextID)
		}
		replaced := false
		for i := range f.records {
			if f.records[i].Key == rec.Key {
				rec.ID = f.records[i].ID
				f.records[i] = rec
				replaced = true
			}
		}
		if !replaced {
			f.records = append(f.records, rec)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeRemote) Update(ctx context.Context, userID, id string, fields map[string]interface{}) (item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, fields)
	if f.err != nil {
		return item{}, f.err
	}
	for i := range f.records {
		if f.records[i].ID == id {
			merged, err := record.Merge(f.records[i], fields)
			if err != nil {
				return item{}, err
			}
			f.records[i] = merged
			return merged, nil
		}
	}
	return item{}, &remote.StatusError{Code: 404, Title: "Not Found"}
}

type fixture struct {
	kv      *driver.MemoryKV
	monitor *network.Monitor
	remote  *fakeRemote
	store   *cache.Collection[item]
	engine  *Engine[item]
}

func newFixture(online bool) *fixture {
	kv := driver.NewMemoryKV()
	f := &fixture{
		kv:      kv,
		monitor: network.NewMonitor(kv, online, nil),
		remote:  &fakeRemote{},
		store:   cache.NewCollection(kv, itemKind.Name, itemKind.Identity, nil),
	}
	f.engine = f.newEngine()
	return f
}

func (f *fixture) newEngine() *Engine[item] {
	return New[item](itemKind, f.store, f.remote, f.monitor,
		uuid.NewTempGenerator(uuid.NewNanoIDGenerator(10)), nil)
}

func ids(records []item) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestEngine_FetchOfflineUsesCache(t *testing.T) {
	f := newFixture(false)
	require.NoError(t, f.store.WriteAll("u1", []item{{ID: "r2", Key: "b"}, {ID: "r1", Key: "a"}}))

	res := f.engine.Fetch(context.Background(), "u1")
	assert.True(t, res.Success)
	assert.Equal(t, []string{"r1", "r2"}, ids(res.Data))

	state := f.engine.State()
	assert.True(t, state.Offline)
	assert.False(t, state.Loading)
	assert.Equal(t, PhaseIdle, state.Phase)
	assert.Equal(t, []string{"r1", "r2"}, ids(state.Records))
	assert.Equal(t, 0, f.remote.fetches)
}

func TestEngine_FetchOnlineReplacesCache(t *testing.T) {
	f := newFixture(true)
	require.NoError(t, f.store.WriteAll("u1", []item{
		{ID: "r1", Key: "a", Value: 1},
		{ID: "r9", Key: "stale"},
		{ID: "temp_x", Key: "b"},
		{ID: "temp_y", Key: "c"},
	}))
	f.remote.records = []item{{ID: "r1", Key: "a", Value: 2}, {ID: "r2", Key: "b"}}

	res := f.engine.Fetch(context.Background(), "u1")
	require.True(t, res.Success)

	want := []item{{ID: "r1", Key: "a", Value: 2}, {ID: "r2", Key: "b"}, {ID: "temp_y", Key: "c"}}
	assert.Equal(t, want, res.Data)
	assert.Equal(t, want, f.engine.State().Records)
	assert.Equal(t, want, f.store.ReadAll("u1"))

	_, ok := f.monitor.LastSyncTime()
	assert.True(t, ok)
}

func TestEngine_FetchIsIdempotent(t *testing.T) {
	f := newFixture(true)
	f.remote.records = []item{{ID: "r2", Key: "b"}, {ID: "r1", Key: "a"}}

	first := f.engine.Fetch(context.Background(), "u1")
	second := f.engine.Fetch(context.Background(), "u1")
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, second.Data, f.engine.State().Records)
}

func TestEngine_FetchEmptyRemoteKeepsCache(t *testing.T) {
	f := newFixture(true)
	cached := []item{{ID: "r1", Key: "a"}, {ID: "r2", Key: "b"}}
	require.NoError(t, f.store.WriteAll("u1", cached))
	f.remote.snapshot = &[]item{}

	res := f.engine.Fetch(context.Background(), "u1")
	assert.True(t, res.Success)
	assert.Equal(t, cached, f.engine.State().Records)
	assert.Equal(t, cached, f.store.ReadAll("u1"))
}

func TestEngine_FetchErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantSuccess bool
		wantOffline bool
		wantError   bool
	}{
		{"unreachable goes offline", fmt.Errorf("%w: dial tcp", remote.ErrUnreachable), true, true, false},
		{"rejection is reported", &remote.StatusError{Code: 401, Title: "Unauthorized"}, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(true)
			require.NoError(t, f.store.WriteAll("u1", []item{{ID: "r1", Key: "a"}}))
			f.remote.err = tt.err

			res := f.engine.Fetch(context.Background(), "u1")
			assert.Equal(t, tt.wantSuccess, res.Success)
			assert.Equal(t, tt.wantError, res.Err != nil)

			state := f.engine.State()
			assert.Equal(t, tt.wantOffline, state.Offline)
			assert.Equal(t, tt.wantOffline, !f.monitor.IsOnline())
			assert.Equal(t, tt.wantError, state.Error != "")
			assert.Equal(t, []string{"r1"}, ids(state.Records))
		})
	}
}

func TestEngine_SaveOffline(t *testing.T) {
	f := newFixture(false)

	res := f.engine.Save(context.Background(), "u1", item{Key: "a", Value: 1})
	require.True(t, res.Success)
	require.Len(t, res.Data, 1)
	assert.True(t, uuid.IsTemp(res.Data[0].ID))
	assert.NotEmpty(t, res.Data[0].ID)
	assert.Equal(t, "u1", res.Data[0].UserID)
	assert.Empty(t, f.remote.writes)

	got, ok := f.engine.Get("a")
	require.True(t, ok)
	assert.Equal(t, res.Data[0], got)
	assert.Equal(t, res.Data, f.store.ReadAll("u1"))

	again := f.engine.Save(context.Background(), "u1", item{Key: "a", Value: 2})
	require.True(t, again.Success)
	assert.Equal(t, res.Data[0].ID, again.Data[0].ID)
	assert.Len(t, f.engine.State().Records, 1)
}

func TestEngine_SaveOnlineCollapsesIdentity(t *testing.T) {
	f := newFixture(true)

	res := f.engine.Save(context.Background(), "u1", item{Key: "a"}, item{Key: "b"})
	require.True(t, res.Success)
	assert.Equal(t, []string{"r1", "r2"}, ids(res.Data))
	assert.Equal(t, []string{"r1", "r2"}, ids(f.engine.State().Records))
	assert.Equal(t, []string{"r1", "r2"}, ids(f.store.ReadAll("u1")))
	require.Len(t, f.remote.writes, 1)
	assert.True(t, uuid.IsTemp(f.remote.writes[0][0].ID))
}

func TestEngine_SaveRejectedKeepsOptimistic(t *testing.T) {
	f := newFixture(true)
	f.remote.err = &remote.StatusError{Code: 400, Title: "Bad Request", Detail: "Failed to validate fields"}

	res := f.engine.Save(context.Background(), "u1", item{Key: "a"})
	assert.False(t, res.Success)
	assert.Error(t, res.Err)
	require.Len(t, res.Data, 1)

	state := f.engine.State()
	assert.Contains(t, state.Error, "Failed to validate fields")
	assert.False(t, state.Offline)
	assert.Len(t, state.Records, 1)
	assert.Len(t, f.store.ReadAll("u1"), 1)

	f.remote.err = nil
	require.True(t, f.engine.Fetch(context.Background(), "u1").Success)
	assert.Empty(t, f.engine.State().Error)
}

func TestEngine_SaveNothing(t *testing.T) {
	f := newFixture(true)
	res := f.engine.Save(context.Background(), "u1")
	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, ErrNoRecords))
}

func TestEngine_UpdateMiss(t *testing.T) {
	f := newFixture(true)
	require.True(t, f.engine.Save(context.Background(), "u1", item{Key: "a", Value: 1}).Success)
	before := f.engine.State().Records

	res := f.engine.Update(context.Background(), "u1", "missing", map[string]interface{}{"value": 5})
	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, record.ErrNotFound))
	assert.Equal(t, "Item not found", res.Err.Error())
	assert.Equal(t, before, f.engine.State().Records)
	assert.Empty(t, f.remote.updates)
}

func TestEngine_UpdateOnline(t *testing.T) {
	f := newFixture(true)
	require.True(t, f.engine.Save(context.Background(), "u1", item{Key: "a", Value: 1}).Success)

	res := f.engine.Update(context.Background(), "u1", "a", map[string]interface{}{"value": 50})
	require.True(t, res.Success)
	assert.Equal(t, 50, res.Data[0].Value)
	require.Len(t, f.remote.updates, 1)
	assert.Equal(t, 50, f.remote.updates[0]["value"])

	got, _ := f.engine.Get("a")
	assert.Equal(t, item{ID: "r1", UserID: "u1", Key: "a", Value: 50}, got)
}

func TestEngine_UpdateTemporaryRecordIsWritten(t *testing.T) {
	f := newFixture(false)
	require.True(t, f.engine.Save(context.Background(), "u1", item{Key: "a"}).Success)
	f.monitor.SetOnline(true)

	res := f.engine.Update(context.Background(), "u1", "a", map[string]interface{}{"value": 7})
	require.True(t, res.Success)
	assert.Empty(t, f.remote.updates)
	require.Len(t, f.remote.writes, 1)
	assert.Equal(t, 7, f.remote.writes[0][0].Value)

	got, _ := f.engine.Get("a")
	assert.Equal(t, "r1", got.ID)
	assert.Len(t, f.engine.State().Records, 1)
}

func TestEngine_UpdateInvalidFields(t *testing.T) {
	f := newFixture(false)
	require.True(t, f.engine.Save(context.Background(), "u1", item{Key: "a", Value: 1}).Success)

	res := f.engine.Update(context.Background(), "u1", "a", map[string]interface{}{"value": "many"})
	assert.True(t, errors.Is(res.Err, record.ErrInvalidFields))
	got, _ := f.engine.Get("a")
	assert.Equal(t, 1, got.Value)
}

func TestEngine_SyncToServer(t *testing.T) {
	f := newFixture(false)
	require.True(t, f.engine.Save(context.Background(), "u1", item{Key: "a"}, item{Key: "b"}).Success)

	assert.True(t, f.engine.SyncToServer(context.Background(), "u1").Success)
	assert.Empty(t, f.remote.writes)

	f.monitor.SetOnline(true)
	res := f.engine.SyncToServer(context.Background(), "u1")
	require.True(t, res.Success)
	require.Len(t, f.remote.writes, 1)
	assert.Len(t, f.remote.writes[0], 2)
	assert.Equal(t, []string{"r1", "r2"}, ids(f.engine.State().Records))

	res = f.engine.SyncToServer(context.Background(), "u1")
	assert.True(t, res.Success)
	assert.Len(t, f.remote.writes, 1)
}

func TestEngine_SyncToServerPushesOfflineUpdates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(true)
	require.True(t, f.engine.Save(ctx, "u1", item{Key: "a"}).Success)
	require.Empty(t, f.store.ReadPending("u1"))

	f.monitor.SetOnline(false)
	res := f.engine.Update(ctx, "u1", "a", map[string]interface{}{"value": 50})
	require.True(t, res.Success)
	assert.Equal(t, []string{"a"}, f.store.ReadPending("u1"))

	f.monitor.SetOnline(true)
	synced := f.engine.SyncToServer(ctx, "u1")
	require.True(t, synced.Success)
	require.Len(t, f.remote.writes, 2)
	assert.Equal(t, []item{{ID: "r1", UserID: "u1", Key: "a", Value: 50}}, f.remote.writes[1])
	assert.Empty(t, f.store.ReadPending("u1"))

	require.True(t, f.engine.Fetch(ctx, "u1").Success)
	got, _ := f.engine.Get("a")
	assert.Equal(t, 50, got.Value)
	assert.Equal(t, 50, f.remote.records[0].Value)
}

func TestEngine_FetchKeepsPendingChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(true)
	require.True(t, f.engine.Save(ctx, "u1", item{Key: "a"}, item{Key: "b"}).Success)

	f.monitor.SetOnline(false)
	require.True(t, f.engine.Update(ctx, "u1", "a", map[string]interface{}{"value": 50}).Success)
	f.monitor.SetOnline(true)

	res := f.engine.Fetch(ctx, "u1")
	require.True(t, res.Success)
	assert.Equal(t, []item{
		{ID: "r1", UserID: "u1", Key: "a", Value: 50},
		{ID: "r2", UserID: "u1", Key: "b"},
	}, res.Data)
	assert.Equal(t, res.Data, f.store.ReadAll("u1"))

	// the change is still pending for the next engine over the same cache
	f.engine.Close()
	fresh := f.newEngine()
	synced := fresh.SyncToServer(ctx, "u1")
	require.True(t, synced.Success)
	assert.Equal(t, []string{"r1"}, ids(synced.Data))
	assert.Equal(t, 50, f.remote.records[0].Value)
}

func TestEngine_FetchAdoptsRemoteIDOfPendingRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(false)
	require.True(t, f.engine.Save(ctx, "u1", item{Key: "a", Value: 3}).Success)
	f.remote.records = []item{{ID: "r7", UserID: "u1", Key: "a"}}

	f.monitor.SetOnline(true)
	res := f.engine.Fetch(ctx, "u1")
	require.True(t, res.Success)
	assert.Equal(t, []item{{ID: "r7", UserID: "u1", Key: "a", Value: 3}}, res.Data)

	require.True(t, f.engine.SyncToServer(ctx, "u1").Success)
	assert.Equal(t, []item{{ID: "r7", UserID: "u1", Key: "a", Value: 3}}, f.remote.records)
	assert.Empty(t, f.store.ReadPending("u1"))
}

func TestEngine_UnreachableWriteStaysPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(true)
	require.True(t, f.engine.Save(ctx, "u1", item{Key: "a"}).Success)
	f.remote.err = fmt.Errorf("%w: connection refused", remote.ErrUnreachable)

	res := f.engine.Update(ctx, "u1", "a", map[string]interface{}{"value": 9})
	require.True(t, res.Success)
	assert.False(t, f.monitor.IsOnline())
	assert.Equal(t, []string{"a"}, f.store.ReadPending("u1"))

	f.remote.err = nil
	f.monitor.SetOnline(true)
	require.True(t, f.engine.SyncToServer(ctx, "u1").Success)
	assert.Equal(t, 9, f.remote.records[0].Value)
	assert.Empty(t, f.store.ReadPending("u1"))
}

func TestEngine_UpdateCannotChangeIdentity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(false)
	require.True(t, f.engine.Save(ctx, "u1", item{Key: "a", Value: 1}).Success)

	res := f.engine.Update(ctx, "u1", "a", map[string]interface{}{"key": "b", "value": 2})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, record.ErrInvalidFields)

	got, ok := f.engine.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, got.Value)
	_, ok = f.engine.Get("b")
	assert.False(t, ok)

	fresh := f.newEngine()
	fresh.Load("u1")
	records := fresh.State().Records
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].Key)
}

func TestEngine_ClosedRejectsOperations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(true)
	require.True(t, f.engine.Save(ctx, "u1", item{Key: "a"}).Success)
	f.engine.Close()

	tests := []struct {
		name string
		op   func() Result[item]
	}{
		{"fetch", func() Result[item] { return f.engine.Fetch(ctx, "u1") }},
		{"save", func() Result[item] { return f.engine.Save(ctx, "u1", item{Key: "b"}) }},
		{"update", func() Result[item] { return f.engine.Update(ctx, "u1", "a", map[string]interface{}{"value": 1}) }},
		{"sync", func() Result[item] { return f.engine.SyncToServer(ctx, "u1") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.op()
			assert.False(t, res.Success)
			assert.ErrorIs(t, res.Err, ErrClosed)
		})
	}

	f.engine.Load("u2")
	assert.Empty(t, f.engine.State().Records)
	assert.Equal(t, "u1", f.engine.UserID())
	assert.Len(t, f.store.ReadAll("u1"), 1)
	assert.Equal(t, 1, f.remote.fetches+len(f.remote.writes))
}

func TestEngine_CacheSurvivesReload(t *testing.T) {
	f := newFixture(false)
	saved := f.engine.Save(context.Background(), "u1", item{Key: "a", Value: 3})
	require.True(t, saved.Success)
	f.engine.Close()

	fresh := f.newEngine()
	fresh.Load("u1")
	got, ok := fresh.Get("a")
	require.True(t, ok)
	assert.Equal(t, saved.Data[0], got)
	assert.Equal(t, "u1", fresh.UserID())
}

func TestEngine_CloseDropsLateResults(t *testing.T) {
	f := newFixture(true)
	f.remote.release = make(chan struct{})

	done := make(chan Result[item])
	go func() {
		done <- f.engine.Save(context.Background(), "u1", item{Key: "a"})
	}()
	assert.Eventually(t, func() bool { return f.engine.State().Phase == PhaseRemoteWrite }, time.Second, time.Millisecond)

	f.engine.Close()
	close(f.remote.release)
	res := <-done

	assert.True(t, res.Success)
	assert.Empty(t, f.engine.State().Records)
	assert.Equal(t, "r1", f.store.ReadAll("u1")[0].ID)
}

func TestEngine_UserSwitchReloads(t *testing.T) {
	f := newFixture(false)
	require.True(t, f.engine.Save(context.Background(), "u1", item{Key: "a"}).Success)
	require.True(t, f.engine.Save(context.Background(), "u2", item{Key: "b"}).Success)

	_, ok := f.engine.Get("a")
	assert.False(t, ok)
	_, ok = f.engine.Get("b")
	assert.True(t, ok)

	f.engine.Load("u1")
	_, ok = f.engine.Get("a")
	assert.True(t, ok)
}

func TestEngine_RecoversPanics(t *testing.T) {
	f := newFixture(true)
	f.remote.panicMsg = "boom"

	var res Result[item]
	assert.NotPanics(t, func() {
		res = f.engine.Save(context.Background(), "u1", item{Key: "a"})
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Err.Error(), "boom")

	state := f.engine.State()
	assert.Contains(t, state.Error, "boom")
	assert.Equal(t, PhaseIdle, state.Phase)
	assert.Len(t, state.Records, 1)
}
