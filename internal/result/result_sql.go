package result

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/driver"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/uuid"
)

// Schema result table, valid for mysql, postgres and sqlite3
const Schema = `CREATE TABLE IF NOT EXISTS assessment_result (
	id VARCHAR(64) PRIMARY KEY,
	user_id VARCHAR(64) NOT NULL,
	assessment_id VARCHAR(128) NOT NULL,
	area_id VARCHAR(128) NOT NULL DEFAULT '',
	completed_at TIMESTAMP NULL,
	extra TEXT NOT NULL,
	UNIQUE (user_id, assessment_id, area_id)
)`

const selectColumns = `SELECT id, user_id, assessment_id, area_id, completed_at, extra FROM assessment_result`

type ResultSQL struct {
	Conn          driver.ITransactionalDB
	UUIDGenerator uuid.Generator
}

var _ Repository = &ResultSQL{}

func NewResultRepository(Conn driver.ITransactionalDB, UUIDGenerator uuid.Generator) *ResultSQL {
	return &ResultSQL{Conn, UUIDGenerator}
}

// FindByUser most recently completed first
func (repo *ResultSQL) FindByUser(ctx context.Context, userID string) ([]*Record, error) {
	rows, err := repo.Conn.QueryContext(ctx, selectColumns+`
	WHERE user_id=$1 ORDER BY completed_at DESC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (repo *ResultSQL) FindByID(ctx context.Context, userID, id string) (*Record, error) {
	return findOne(ctx, repo.Conn, `WHERE user_id=$1 AND id=$2`, userID, id)
}

func (repo *ResultSQL) Upsert(ctx context.Context, records []*Record) ([]*Record, error) {
	tx, err := repo.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	for _, rec := range records {
		existing, err := findOne(ctx, tx, `WHERE user_id=$1 AND assessment_id=$2 AND area_id=$3`,
			rec.UserID, rec.AssessmentID, rec.AreaID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			rec.ID = existing.ID
			if err := update(ctx, tx, rec); err != nil {
				return nil, err
			}
			continue
		}

		if uuid.IsTemp(rec.ID) {
			if rec.ID, err = repo.UUIDGenerator.Generate(); err != nil {
				return nil, err
			}
		}
		extra, err := encodeExtra(rec.Extra)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO assessment_result
		(id, user_id, assessment_id, area_id, completed_at, extra)
		VALUES ($1,$2,$3,$4,$5,$6)`,
			rec.ID, rec.UserID, rec.AssessmentID, rec.AreaID, rec.CompletedAt.UTC(), extra); err != nil {
			return nil, err
		}
	}
	return records, tx.Commit(ctx)
}

func (repo *ResultSQL) Update(ctx context.Context, rec *Record) error {
	return update(ctx, repo.Conn, rec)
}

func update(ctx context.Context, conn driver.ITransactionalDB, rec *Record) error {
	extra, err := encodeExtra(rec.Extra)
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, `UPDATE assessment_result
	SET assessment_id=$1,
			area_id=$2,
			completed_at=$3,
			extra=$4
	WHERE id=$5 AND user_id=$6`,
		rec.AssessmentID, rec.AreaID, rec.CompletedAt.UTC(), extra, rec.ID, rec.UserID)
	return err
}

func findOne(ctx context.Context, conn driver.ITransactionalDB, where string, args ...interface{}) (*Record, error) {
	rows, err := conn.QueryContext(ctx, selectColumns+" "+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if rows.Next() {
		return scanRecord(rows)
	}
	return nil, rows.Err()
}

func scanRecord(rows driver.ISQLRows) (*Record, error) {
	var (
		rec         = new(Record)
		completedAt *time.Time
		extra       string
	)
	if err := rows.Scan(&rec.ID, &rec.UserID, &rec.AssessmentID, &rec.AreaID, &completedAt, &extra); err != nil {
		return nil, err
	}
	if completedAt != nil {
		rec.CompletedAt = completedAt.UTC()
	}
	if extra != "" && extra != "null" {
		if err := json.Unmarshal([]byte(extra), &rec.Extra); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func encodeExtra(extra map[string]interface{}) (string, error) {
	if len(extra) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(extra)
	return string(b), err
}
