package offline

import (
	"context"
	"time"

	"github.com/Facely1er/EduSolucePlus-sub000/internal/offline/reconcile"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/progress"
)

// ProgressKind progress records are keyed and merged by module, most recently
// accessed first
var ProgressKind = reconcile.Kind[progress.Record]{
	Name:     progress.Kind,
	NotFound: progress.ErrNotFound,
	Identity: func(r progress.Record) string { return r.ModuleID },
	Key:      func(r progress.Record) string { return r.ModuleID },
	ID:       func(r progress.Record) string { return r.ID },
	WithID: func(r progress.Record, id string) progress.Record {
		r.ID = id
		return r
	},
	Less: func(a, b progress.Record) bool {
		if !a.LastAccessed.Equal(b.LastAccessed) {
			return a.LastAccessed.After(b.LastAccessed)
		}
		return a.ModuleID < b.ModuleID
	},
	Prepare: func(r progress.Record, userID string, now time.Time) progress.Record {
		r.UserID = userID
		r.Normalize(now)
		return r
	},
	Apply: progress.Apply,
}

// ProgressSync training progress hook
type ProgressSync struct {
	*hook[progress.Record]
}

// NewProgressSync create the progress hook of userID, records cached for the user
// are available right away
func NewProgressSync(userID string, rmt reconcile.Remote[progress.Record], deps Deps) *ProgressSync {
	return &ProgressSync{newHook(ProgressKind, userID, rmt, deps)}
}

// Start marks moduleID in progress, creating the record on first access. Revisiting
// a completed module only touches lastAccessed
func (ps *ProgressSync) Start(ctx context.Context, userID, moduleID, title string) reconcile.Result[progress.Record] {
	if existing, ok := ps.Get(moduleID); ok {
		fields := map[string]interface{}{"status": string(progress.InProgress)}
		if existing.Status == progress.Completed {
			fields = map[string]interface{}{}
		}
		return ps.Update(ctx, userID, moduleID, fields)
	}
	return ps.Save(ctx, userID, progress.Record{
		ModuleID:    moduleID,
		ModuleTitle: title,
		Status:      progress.InProgress,
	})
}

// Complete marks moduleID completed
func (ps *ProgressSync) Complete(ctx context.Context, userID, moduleID, title string) reconcile.Result[progress.Record] {
	if _, ok := ps.Get(moduleID); ok {
		return ps.Update(ctx, userID, moduleID, map[string]interface{}{
			"status":   string(progress.Completed),
			"progress": 100,
		})
	}
	return ps.Save(ctx, userID, progress.Record{
		ModuleID:    moduleID,
		ModuleTitle: title,
		Status:      progress.Completed,
		Progress:    100,
	})
}
