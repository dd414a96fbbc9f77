package progress

import (
	"context"
	"time"

	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/driver"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/uuid"
)

// Schema progress table, valid for mysql, postgres and sqlite3
const Schema = `CREATE TABLE IF NOT EXISTS training_progress (
	id VARCHAR(64) PRIMARY KEY,
	user_id VARCHAR(64) NOT NULL,
	module_id VARCHAR(128) NOT NULL,
	module_title VARCHAR(255) NOT NULL DEFAULT '',
	status VARCHAR(16) NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMP NULL,
	last_accessed TIMESTAMP NULL,
	completed_at TIMESTAMP NULL,
	UNIQUE (user_id, module_id)
)`

const selectColumns = `SELECT id, user_id, module_id, module_title, status, progress, started_at, last_accessed, completed_at
	FROM training_progress`

type ProgressSQL struct {
	Conn          driver.ITransactionalDB
	UUIDGenerator uuid.Generator
}

var _ Repository = &ProgressSQL{}

func NewProgressRepository(Conn driver.ITransactionalDB, UUIDGenerator uuid.Generator) *ProgressSQL {
	return &ProgressSQL{Conn, UUIDGenerator}
}

// FindByUser most recently accessed first
func (repo *ProgressSQL) FindByUser(ctx context.Context, userID string) ([]*Record, error) {
	rows, err := repo.Conn.QueryContext(ctx, selectColumns+`
	WHERE user_id=$1 ORDER BY last_accessed DESC, module_id ASC`, userID)
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

func (repo *ProgressSQL) FindByID(ctx context.Context, userID, id string) (*Record, error) {
	return findOne(ctx, repo.Conn, `WHERE user_id=$1 AND id=$2`, userID, id)
}

func (repo *ProgressSQL) Upsert(ctx context.Context, records []*Record) ([]*Record, error) {
	tx, err := repo.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	for _, rec := range records {
		existing, err := findOne(ctx, tx, `WHERE user_id=$1 AND module_id=$2`, rec.UserID, rec.ModuleID)
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
		if _, err := tx.ExecContext(ctx, `INSERT INTO training_progress
		(id, user_id, module_id, module_title, status, progress, started_at, last_accessed, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			rec.ID, rec.UserID, rec.ModuleID, rec.ModuleTitle, string(rec.Status), rec.Progress,
			rec.StartedAt.UTC(), rec.LastAccessed.UTC(), utcOrNil(rec.CompletedAt)); err != nil {
			return nil, err
		}
	}
	return records, tx.Commit(ctx)
}

func (repo *ProgressSQL) Update(ctx context.Context, rec *Record) error {
	return update(ctx, repo.Conn, rec)
}

func update(ctx context.Context, conn driver.ITransactionalDB, rec *Record) error {
	_, err := conn.ExecContext(ctx, `UPDATE training_progress
	SET module_id=$1,
			module_title=$2,
			status=$3,
			progress=$4,
			started_at=$5,
			last_accessed=$6,
			completed_at=$7
	WHERE id=$8 AND user_id=$9`,
		rec.ModuleID, rec.ModuleTitle, string(rec.Status), rec.Progress,
		rec.StartedAt.UTC(), rec.LastAccessed.UTC(), utcOrNil(rec.CompletedAt), rec.ID, rec.UserID)
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
		rec          = new(Record)
		status       string
		startedAt    *time.Time
		lastAccessed *time.Time
	)
	if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ModuleID, &rec.ModuleTitle, &status, &rec.Progress,
		&startedAt, &lastAccessed, &rec.CompletedAt); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	if startedAt != nil {
		rec.StartedAt = startedAt.UTC()
	}
	if lastAccessed != nil {
		rec.LastAccessed = lastAccessed.UTC()
	}
	if rec.CompletedAt != nil {
		completed := rec.CompletedAt.UTC()
		rec.CompletedAt = &completed
	}
	return rec, nil
}

func utcOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
