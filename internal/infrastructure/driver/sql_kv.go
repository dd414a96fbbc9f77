package driver

import (
	"context"
	"time"
)

// KVSchema table used by SQLKV
const KVSchema = `CREATE TABLE IF NOT EXISTS kv_store (
	"key" VARCHAR(255) PRIMARY KEY,
	value TEXT NOT NULL,
	expire_at BIGINT NOT NULL DEFAULT 0
)`

// SQLKV KeyValueDB backed by a SQL table, mostly used with a sqlite3 file so that
// cached data survives restarts without a redis server
type SQLKV struct {
	conn    ITransactionalDB
	timeout time.Duration
	now     func() time.Time
}

var _ KeyValueDB = &SQLKV{}

// NewSQLKV create the kv table if missing and return the store
func NewSQLKV(conn ITransactionalDB) (*SQLKV, error) {
	kv := &SQLKV{conn: conn, timeout: 5 * time.Second, now: time.Now}
	ctx, cancel := kv.context()
	defer cancel()
	if err := Migrate(ctx, conn, KVSchema); err != nil {
		return nil, err
	}
	return kv, nil
}

func (s *SQLKV) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// SetEX implement KeyValueDB
func (s *SQLKV) SetEX(key string, value string, expiration time.Duration) error {
	var expireAt int64
	if expiration > 0 {
		expireAt = s.now().Add(expiration).UnixNano()
	}

	ctx, cancel := s.context()
	defer cancel()
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err = tx.ExecContext(ctx, `DELETE FROM kv_store WHERE "key"=$1`, key); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO kv_store ("key", value, expire_at) VALUES ($1,$2,$3)`,
		key, value, expireAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Get implement KeyValueDB
func (s *SQLKV) Get(key string) (string, error) {
	ctx, cancel := s.context()
	defer cancel()
	rows, err := s.conn.QueryContext(ctx, `SELECT value, expire_at FROM kv_store WHERE "key"=$1`, key)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", err
		}
		return "", ErrKeyNotFound
	}
	var (
		value    string
		expireAt int64
	)
	if err := rows.Scan(&value, &expireAt); err != nil {
		return "", err
	}
	if expireAt > 0 && s.now().UnixNano() >= expireAt {
		return "", ErrKeyNotFound
	}
	return value, nil
}

// Exists implement KeyValueDB
func (s *SQLKV) Exists(key string) (bool, error) {
	_, err := s.Get(key)
	if err == ErrKeyNotFound {
		return false, nil
	}
	return err == nil, err
}

// Ping implement KeyValueDB
func (s *SQLKV) Ping() error {
	return s.conn.Ping()
}
