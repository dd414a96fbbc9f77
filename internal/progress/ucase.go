package progress

import (
	"context"
	"time"

	"github.com/Facely1er/EduSolucePlus-sub000/internal/record"
	"go.elastic.co/apm"
)

// ErrNotFound returned when a progress record does not exist for the user
var ErrNotFound = record.NotFound("Progress")

// ProgressUseCaseImpl ...
type ProgressUseCaseImpl struct {
	ProgressRepository Repository
	now                func() time.Time
}

var _ UseCase = &ProgressUseCaseImpl{}

// NewProgressUseCase ...
func NewProgressUseCase(
	ProgressRepository Repository,
) *ProgressUseCaseImpl {
	return &ProgressUseCaseImpl{ProgressRepository, time.Now}
}

// List all progress records of the user
func (pu *ProgressUseCaseImpl) List(ctx context.Context, userID string) ([]*Record, error) {
	apmSpan, _ := apm.StartSpan(ctx, "ProgressUseCaseImpl.List", "service")
	defer apmSpan.End()

	return pu.ProgressRepository.FindByUser(ctx, userID)
}

// Save upsert records by module, temporary ids are replaced by permanent ones
func (pu *ProgressUseCaseImpl) Save(ctx context.Context, userID string, records []*Record) ([]*Record, error) {
	apmSpan, _ := apm.StartSpan(ctx, "ProgressUseCaseImpl.Save", "service")
	defer apmSpan.End()

	now := pu.now()
	for _, rec := range records {
		rec.UserID = userID
		rec.Normalize(now)
	}
	return pu.ProgressRepository.Upsert(ctx, records)
}

// Update shallow merge fields onto the record identified by id
func (pu *ProgressUseCaseImpl) Update(ctx context.Context, userID, id string, fields map[string]interface{}) (*Record, error) {
	apmSpan, _ := apm.StartSpan(ctx, "ProgressUseCaseImpl.Update", "service")
	defer apmSpan.End()

	pr := pu.ProgressRepository
	existing, err := pr.FindByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrNotFound
	}

	merged, err := Apply(*existing, fields, pu.now())
	if err != nil {
		return nil, err
	}
	if err := pr.Update(ctx, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}
