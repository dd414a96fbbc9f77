package result

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Facely1er/EduSolucePlus-sub000/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_JSONFlattensExtra(t *testing.T) {
	in := `{"id":"r1","userId":"u1","assessmentId":"a1","areaId":"gov","completedAt":"2024-03-01T10:00:00Z","score":87,"level":"advanced"}`

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(in), &rec))
	assert.Equal(t, "a1", rec.AssessmentID)
	assert.Equal(t, "gov", rec.AreaID)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), rec.CompletedAt)
	assert.Equal(t, map[string]interface{}{"score": float64(87), "level": "advanced"}, rec.Extra)

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestRecord_JSONMissingCompletedAt(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(`{"assessmentId":"a1","completedAt":null}`), &rec))
	assert.True(t, rec.CompletedAt.IsZero())
	assert.Nil(t, rec.Extra)

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"completedAt":null`)
}

func TestRecord_ExtraCannotShadowFixedFields(t *testing.T) {
	rec := Record{ID: "r1", Extra: map[string]interface{}{"id": "other", "score": 1}}
	out, err := json.Marshal(rec)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "r1", doc["id"])
	assert.Equal(t, float64(1), doc["score"])
}

func TestRecord_Normalize(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := Record{}
	rec.Normalize(now)
	assert.Equal(t, now, rec.CompletedAt)

	earlier := now.Add(-time.Hour)
	rec = Record{CompletedAt: earlier}
	rec.Normalize(now)
	assert.Equal(t, earlier, rec.CompletedAt)
}

func TestSameIdentity(t *testing.T) {
	a := &Record{ID: "temp_1", UserID: "u1", AssessmentID: "a1", AreaID: "gov"}
	assert.True(t, SameIdentity(a, &Record{ID: "r9", UserID: "u1", AssessmentID: "a1", AreaID: "gov"}))
	assert.False(t, SameIdentity(a, &Record{UserID: "u1", AssessmentID: "a1", AreaID: "risk"}))
	assert.False(t, SameIdentity(a, &Record{UserID: "u2", AssessmentID: "a1", AreaID: "gov"}))
}

func TestApply(t *testing.T) {
	now := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	rec := Record{ID: "r1", UserID: "u1", AssessmentID: "a1", CompletedAt: now.Add(-time.Hour),
		Extra: map[string]interface{}{"score": 40.0, "level": "basic"}}

	got, err := Apply(rec, map[string]interface{}{"score": 80, "level": nil}, now)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"score": 80.0}, got.Extra)
	assert.Equal(t, rec.CompletedAt, got.CompletedAt)
	assert.Equal(t, "a1||u1", got.IdentityKey())
}

func TestApply_IdentityIsFixed(t *testing.T) {
	now := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	rec := Record{ID: "r1", UserID: "u1", AssessmentID: "a1", AreaID: "gov", CompletedAt: now}

	tests := []struct {
		name    string
		fields  map[string]interface{}
		wantErr bool
	}{
		{"assessment", map[string]interface{}{"assessmentId": "a2"}, true},
		{"area", map[string]interface{}{"areaId": "risk"}, true},
		{"area removed", map[string]interface{}{"areaId": nil}, true},
		{"same values", map[string]interface{}{"assessmentId": "a1", "areaId": "gov", "score": 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(rec, tt.fields, now)
			if tt.wantErr {
				assert.ErrorIs(t, err, record.ErrInvalidFields)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, rec.IdentityKey(), got.IdentityKey())
		})
	}
}
