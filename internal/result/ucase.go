package result

import (
	"context"
	"time"

	"github.com/Facely1er/EduSolucePlus-sub000/internal/record"
	"go.elastic.co/apm"
)

// ErrNotFound returned when a result does not exist for the user
var ErrNotFound = record.NotFound("Result")

// ResultUseCaseImpl ...
type ResultUseCaseImpl struct {
	ResultRepository Repository
	now              func() time.Time
}

var _ UseCase = &ResultUseCaseImpl{}

// NewResultUseCase ...
func NewResultUseCase(
	ResultRepository Repository,
) *ResultUseCaseImpl {
	return &ResultUseCaseImpl{ResultRepository, time.Now}
}

// List all results of the user, most recent first
func (ru *ResultUseCaseImpl) List(ctx context.Context, userID string) ([]*Record, error) {
	apmSpan, _ := apm.StartSpan(ctx, "ResultUseCaseImpl.List", "service")
	defer apmSpan.End()

	return ru.ResultRepository.FindByUser(ctx, userID)
}

// Save upsert results by (assessment, area), temporary ids are replaced by permanent ones
func (ru *ResultUseCaseImpl) Save(ctx context.Context, userID string, records []*Record) ([]*Record, error) {
	apmSpan, _ := apm.StartSpan(ctx, "ResultUseCaseImpl.Save", "service")
	defer apmSpan.End()

	now := ru.now()
	for _, rec := range records {
		rec.UserID = userID
		rec.Normalize(now)
	}
	return ru.ResultRepository.Upsert(ctx, records)
}

// Update shallow merge fields onto the result identified by id
func (ru *ResultUseCaseImpl) Update(ctx context.Context, userID, id string, fields map[string]interface{}) (*Record, error) {
	apmSpan, _ := apm.StartSpan(ctx, "ResultUseCaseImpl.Update", "service")
	defer apmSpan.End()

	rr := ru.ResultRepository
	existing, err := rr.FindByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrNotFound
	}

	merged, err := Apply(*existing, fields, ru.now())
	if err != nil {
		return nil, err
	}
	if err := rr.Update(ctx, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}
