package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type item struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value int    `json:"value"`
}

func itemKey(i item) string { return i.Key }

type brokenKV struct{ err error }

func (b brokenKV) SetEX(string, string, time.Duration) error { return b.err }
func (b brokenKV) Get(string) (string, error)                { return "", b.err }
func (b brokenKV) Exists(string) (bool, error)               { return false, b.err }
func (b brokenKV) Ping() error                               { return b.err }

func TestKey(t *testing.T) {
	assert.Equal(t, "edusoluce:progress:u1", Key("progress", "u1"))
	assert.Equal(t, "edusoluce:results:u1", Key("results", "u1"))
}

func TestCollection_ReadAll(t *testing.T) {
	tests := []struct {
		name  string
		kv    driver.KeyValueDB
		setup func(kv driver.KeyValueDB)
		want  []item
	}{
		{
			name: "miss",
			kv:   driver.NewMemoryKV(),
			want: []item{},
		},
		{
			name: "corrupt entry",
			kv:   driver.NewMemoryKV(),
			setup: func(kv driver.KeyValueDB) {
				kv.SetEX(Key("items", "u1"), "{not json", 0)
			},
			want: []item{},
		},
		{
			name: "null entry",
			kv:   driver.NewMemoryKV(),
			setup: func(kv driver.KeyValueDB) {
				kv.SetEX(Key("items", "u1"), "null", 0)
			},
			want: []item{},
		},
		{
			name: "storage failure",
			kv:   brokenKV{errors.New("quota exceeded")},
			want: []item{},
		},
		{
			name: "hit",
			kv:   driver.NewMemoryKV(),
			setup: func(kv driver.KeyValueDB) {
				kv.SetEX(Key("items", "u1"), `[{"id":"a","key":"k1","value":1}]`, 0)
			},
			want: []item{{ID: "a", Key: "k1", Value: 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup(tt.kv)
			}
			c := NewCollection(tt.kv, "items", itemKey, zap.NewNop())
			assert.Equal(t, tt.want, c.ReadAll("u1"))
		})
	}
}

func TestCollection_WriteAll(t *testing.T) {
	kv := driver.NewMemoryKV()
	c := NewCollection(kv, "items", itemKey, nil)

	require.NoError(t, c.WriteAll("u1", []item{{ID: "a", Key: "k1"}, {ID: "b", Key: "k2"}}))
	require.NoError(t, c.WriteAll("u1", []item{{ID: "c", Key: "k3"}}))
	assert.Equal(t, []item{{ID: "c", Key: "k3"}}, c.ReadAll("u1"))
	assert.Empty(t, c.ReadAll("u2"))

	require.NoError(t, c.WriteAll("u1", nil))
	raw, err := kv.Get(Key("items", "u1"))
	require.NoError(t, err)
	assert.Equal(t, "[]", raw)
}

func TestCollection_WriteFailure(t *testing.T) {
	c := NewCollection(brokenKV{errors.New("quota exceeded")}, "items", itemKey, nil)
	assert.Error(t, c.WriteAll("u1", []item{{Key: "k1"}}))
	assert.Error(t, c.UpsertOne("u1", item{Key: "k1"}))
}

func TestCollection_UpsertOne(t *testing.T) {
	c := NewCollection(driver.NewMemoryKV(), "items", itemKey, nil)

	require.NoError(t, c.UpsertOne("u1", item{ID: "temp_1", Key: "k1", Value: 1}))
	require.NoError(t, c.UpsertOne("u1", item{ID: "temp_2", Key: "k2", Value: 2}))
	require.NoError(t, c.UpsertOne("u1", item{ID: "r1", Key: "k1", Value: 10}))

	assert.Equal(t, []item{
		{ID: "r1", Key: "k1", Value: 10},
		{ID: "temp_2", Key: "k2", Value: 2},
	}, c.ReadAll("u1"))
}

func TestCollection_ConcurrentUpserts(t *testing.T) {
	kv := driver.NewMemoryKV()
	a := NewCollection(kv, "items", itemKey, nil)
	b := NewCollection(kv, "items", itemKey, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := a
			if i%2 == 1 {
				c = b
			}
			assert.NoError(t, c.UpsertOne("u1", item{Key: fmt.Sprintf("k%d", i), Value: i}))
		}(i)
	}
	wg.Wait()

	assert.Len(t, a.ReadAll("u1"), 20)
}

func TestCollection_Pending(t *testing.T) {
	kv := driver.NewMemoryKV()
	c := NewCollection(kv, "items", itemKey, nil)
	assert.Equal(t, []string{}, c.ReadPending("u1"))

	require.NoError(t, c.MarkPending("u1", "k2", "k1"))
	require.NoError(t, c.MarkPending("u1", "k1"))
	assert.Equal(t, []string{"k1", "k2"}, c.ReadPending("u1"))
	assert.Empty(t, c.ReadPending("u2"))

	raw, err := kv.Get(PendingKey("items", "u1"))
	require.NoError(t, err)
	assert.Equal(t, `["k1","k2"]`, raw)
	assert.Equal(t, "edusoluce:pending:items:u1", PendingKey("items", "u1"))

	require.NoError(t, c.ClearPending("u1", "k1", "k9"))
	assert.Equal(t, []string{"k2"}, NewCollection(kv, "items", itemKey, nil).ReadPending("u1"))

	require.NoError(t, kv.SetEX(PendingKey("items", "u3"), "{broken", 0))
	assert.Equal(t, []string{}, c.ReadPending("u3"))
	assert.Error(t, NewCollection(brokenKV{errors.New("quota exceeded")}, "items", itemKey, nil).MarkPending("u1", "k1"))
}
