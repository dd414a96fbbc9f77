package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/Facely1er/EduSolucePlus-sub000/internal/record"
)

// Status training module progress status
type Status string

// progress statuses
const (
	NotStarted Status = "not-started"
	InProgress Status = "in-progress"
	Completed  Status = "completed"
)

// Kind record kind name, used in cache keys and errors
const Kind = "progress"

// Record one user's progress on one training module
type Record struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	ModuleID     string     `json:"moduleId" validate:"required"`
	ModuleTitle  string     `json:"moduleTitle"`
	Status       Status     `json:"status" validate:"omitempty,oneof=not-started in-progress completed"`
	Progress     int        `json:"progress" validate:"min=0,max=100"`
	StartedAt    time.Time  `json:"startedAt"`
	LastAccessed time.Time  `json:"lastAccessed"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// Normalize fills defaults and keeps status, progress and completedAt consistent
func (r *Record) Normalize(now time.Time) {
	now = now.UTC()
	if r.Progress < 0 {
		r.Progress = 0
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = now
	}
	if r.LastAccessed.IsZero() {
		r.LastAccessed = now
	}

	switch {
	case r.Progress >= 100:
		r.Status = Completed
	case r.Status == "" && r.Progress > 0:
		r.Status = InProgress
	case r.Status == "":
		r.Status = NotStarted
	case r.Status == NotStarted && r.Progress > 0:
		r.Status = InProgress
	}

	if r.Status == Completed {
		r.Progress = 100
		if r.CompletedAt == nil {
			completed := now
			r.CompletedAt = &completed
		}
	} else {
		r.CompletedAt = nil
	}
}

// Apply returns rec with fields shallow merged and normalized, lastAccessed is
// touched unless fields set it. The module can not change, and a progress below
// 100 reopens a completed module unless fields also ask for completed
func Apply(rec Record, fields map[string]interface{}, now time.Time) (Record, error) {
	merged, err := record.Merge(rec, fields)
	if err != nil {
		return rec, err
	}
	if merged.ModuleID != rec.ModuleID {
		return rec, fmt.Errorf("%w: moduleId can not be changed", record.ErrInvalidFields)
	}

	_, setStatus := fields["status"]
	_, setProgress := fields["progress"]
	switch {
	case setProgress && merged.Progress < 100 && merged.Status == Completed:
		if setStatus {
			return rec, fmt.Errorf("%w: status completed requires progress 100", record.ErrInvalidFields)
		}
		merged.Status = InProgress
		if merged.Progress <= 0 {
			merged.Status = NotStarted
		}
	case setStatus && merged.Status != Completed && merged.Progress >= 100:
		if setProgress {
			return rec, fmt.Errorf("%w: status %s requires progress below 100", record.ErrInvalidFields, merged.Status)
		}
		return rec, fmt.Errorf("%w: module is completed, set progress to reopen it", record.ErrInvalidFields)
	}

	if _, ok := fields["lastAccessed"]; !ok {
		merged.LastAccessed = now.UTC()
	}
	merged.Normalize(now)
	return merged, nil
}

// Repository progress persistence
type Repository interface {
	FindByUser(ctx context.Context, userID string) ([]*Record, error)
	FindByID(ctx context.Context, userID, id string) (*Record, error)
	// Upsert writes records keyed by (userId, moduleId), ids of existing rows win
	Upsert(ctx context.Context, records []*Record) ([]*Record, error)
	Update(ctx context.Context, rec *Record) error
}

// UseCase progress operations exposed by the REST layer
type UseCase interface {
	List(ctx context.Context, userID string) ([]*Record, error)
	Save(ctx context.Context, userID string, records []*Record) ([]*Record, error)
	Update(ctx context.Context, userID, id string, fields map[string]interface{}) (*Record, error)
}
