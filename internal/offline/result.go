package offline

import (
	"time"

	"github.com/Facely1er/EduSolucePlus-sub000/internal/offline/reconcile"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/result"
)

// ResultKind results are merged by (assessmentId, areaId, userId), looked up by id
// and ordered by completion time, latest first
var ResultKind = reconcile.Kind[result.Record]{
	Name:     result.Kind,
	NotFound: result.ErrNotFound,
	Identity: result.Record.IdentityKey,
	Key:      func(r result.Record) string { return r.ID },
	ID:       func(r result.Record) string { return r.ID },
	WithID: func(r result.Record, id string) result.Record {
		r.ID = id
		return r
	},
	Less: func(a, b result.Record) bool {
		if !a.CompletedAt.Equal(b.CompletedAt) {
			return a.CompletedAt.After(b.CompletedAt)
		}
		return a.ID < b.ID
	},
	Prepare: func(r result.Record, userID string, now time.Time) result.Record {
		r.UserID = userID
		r.Normalize(now)
		return r
	},
	Apply: result.Apply,
}

// ResultSync assessment results hook
type ResultSync struct {
	*hook[result.Record]
}

// NewResultSync create the results hook of userID
func NewResultSync(userID string, rmt reconcile.Remote[result.Record], deps Deps) *ResultSync {
	return &ResultSync{newHook(ResultKind, userID, rmt, deps)}
}

// ForAssessment results of one assessment in display order
func (rs *ResultSync) ForAssessment(assessmentID string) []result.Record {
	var out []result.Record
	for _, r := range rs.State().Records {
		if r.AssessmentID == assessmentID {
			out = append(out, r)
		}
	}
	return out
}
