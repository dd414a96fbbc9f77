package result

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Facely1er/EduSolucePlus-sub000/internal/record"
)

// Kind record kind name, used in cache keys and errors
const Kind = "results"

// Record one assessment result. Scored fields (score, level, answers, ...) live in
// Extra and are flattened into the top level JSON object
type Record struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"userId"`
	AssessmentID string                 `json:"assessmentId" validate:"required"`
	AreaID       string                 `json:"areaId"`
	CompletedAt  time.Time              `json:"completedAt"`
	Extra        map[string]interface{} `json:"-"`
}

var fixedKeys = map[string]bool{
	"id":           true,
	"userId":       true,
	"assessmentId": true,
	"areaId":       true,
	"completedAt":  true,
}

// MarshalJSON implement json.Marshaler
func (r Record) MarshalJSON() ([]byte, error) {
	doc := make(map[string]interface{}, len(r.Extra)+len(fixedKeys))
	for k, v := range r.Extra {
		if !fixedKeys[k] {
			doc[k] = v
		}
	}
	doc["id"] = r.ID
	doc["userId"] = r.UserID
	doc["assessmentId"] = r.AssessmentID
	doc["areaId"] = r.AreaID
	if r.CompletedAt.IsZero() {
		doc["completedAt"] = nil
	} else {
		doc["completedAt"] = r.CompletedAt
	}
	return json.Marshal(doc)
}

// UnmarshalJSON implement json.Unmarshaler
func (r *Record) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	var fixed struct {
		ID           string     `json:"id"`
		UserID       string     `json:"userId"`
		AssessmentID string     `json:"assessmentId"`
		AreaID       string     `json:"areaId"`
		CompletedAt  *time.Time `json:"completedAt"`
	}
	if err := json.Unmarshal(data, &fixed); err != nil {
		return err
	}

	*r = Record{
		ID:           fixed.ID,
		UserID:       fixed.UserID,
		AssessmentID: fixed.AssessmentID,
		AreaID:       fixed.AreaID,
	}
	if fixed.CompletedAt != nil {
		r.CompletedAt = *fixed.CompletedAt
	}
	for k, raw := range doc {
		if fixedKeys[k] {
			continue
		}
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		if r.Extra == nil {
			r.Extra = make(map[string]interface{})
		}
		r.Extra[k] = v
	}
	return nil
}

// Normalize fills defaults
func (r *Record) Normalize(now time.Time) {
	if r.CompletedAt.IsZero() {
		r.CompletedAt = now
	}
	r.CompletedAt = r.CompletedAt.UTC()
}

// Apply returns rec with fields shallow merged and normalized, the assessment and
// area a result belongs to can not change
func Apply(rec Record, fields map[string]interface{}, now time.Time) (Record, error) {
	merged, err := record.Merge(rec, fields)
	if err != nil {
		return rec, err
	}
	switch {
	case merged.AssessmentID != rec.AssessmentID:
		return rec, fmt.Errorf("%w: assessmentId can not be changed", record.ErrInvalidFields)
	case merged.AreaID != rec.AreaID:
		return rec, fmt.Errorf("%w: areaId can not be changed", record.ErrInvalidFields)
	}
	merged.Normalize(now)
	return merged, nil
}

// IdentityKey merge key of a result, records sharing it are the same logical result
func (r Record) IdentityKey() string {
	return r.AssessmentID + "|" + r.AreaID + "|" + r.UserID
}

// SameIdentity reports whether a and b are the same logical result
func SameIdentity(a, b *Record) bool {
	return a.IdentityKey() == b.IdentityKey()
}

// Repository result persistence
type Repository interface {
	FindByUser(ctx context.Context, userID string) ([]*Record, error)
	FindByID(ctx context.Context, userID, id string) (*Record, error)
	// Upsert writes records keyed by (userId, assessmentId, areaId), ids of existing rows win
	Upsert(ctx context.Context, records []*Record) ([]*Record, error)
	Update(ctx context.Context, rec *Record) error
}

// UseCase result operations exposed by the REST layer
type UseCase interface {
	List(ctx context.Context, userID string) ([]*Record, error)
	Save(ctx context.Context, userID string, records []*Record) ([]*Record, error)
	Update(ctx context.Context, userID, id string, fields map[string]interface{}) (*Record, error)
}
