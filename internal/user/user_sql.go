package user

import (
	"context"
	"errors"

	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/driver"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/uuid"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgconn"
	"github.com/mattn/go-sqlite3"
)

// Schema user table, valid for mysql, postgres and sqlite3
const Schema = `CREATE TABLE IF NOT EXISTS app_user (
	id VARCHAR(64) PRIMARY KEY,
	username VARCHAR(64) NOT NULL UNIQUE,
	email VARCHAR(255) NOT NULL UNIQUE,
	password VARCHAR(255) NOT NULL,
	role VARCHAR(32) NOT NULL,
	login_retry INTEGER NOT NULL DEFAULT 0,
	last_login BIGINT NOT NULL DEFAULT 0
)`

type UserSQL struct {
	Conn          driver.ITransactionalDB
	UUIDGenerator uuid.Generator
}

var _ UserRepository = &UserSQL{}

func NewUserRepository(Conn driver.ITransactionalDB, UUIDGenerator uuid.Generator) *UserSQL {
	return &UserSQL{Conn, UUIDGenerator}
}

// FindByCredential query user by username or email
func (repo *UserSQL) FindByCredential(ctx context.Context, post *UserModel) (*UserModel, error) {
	conn := repo.Conn
	username, email := post.Username, post.Email
	if username == "" {
		username = email
	}
	if email == "" {
		email = username
	}
	row, err := conn.QueryContext(ctx, `SELECT id, username, password, email, role, login_retry, last_login
	FROM app_user WHERE username=$1 OR email=$2`, username, email)
	if err != nil {
		return nil, err
	}
	defer row.Close()

	if row.Next() {
		user := new(UserModel)
		if err := row.Scan(&user.ID, &user.Username, &user.Password, &user.Email, &user.Role, &user.LoginRetry, &user.LastLogin); err != nil {
			return nil, err
		}
		return user, nil
	}
	return nil, row.Err()
}

func (repo *UserSQL) SaveUser(ctx context.Context, post *UserModel) error {
	conn := repo.Conn
	// generate id
	if uuid, err := repo.UUIDGenerator.Generate(); err == nil {
		post.ID = uuid
	} else {
		return err
	}

	_, err := conn.ExecContext(ctx, `INSERT INTO app_user(id, username, password, email, role, last_login)
	VALUES($1,$2,$3,$4,$5,$6)`, post.ID, post.Username, post.Password, post.Email, post.Role, post.LastLogin)
	if isDuplicateKey(err) {
		return ErrDuplicatedUser
	}
	return err
}

func (repo *UserSQL) UpdateLogin(ctx context.Context, post *UserModel) error {
	conn := repo.Conn
	_, err := conn.ExecContext(ctx, `UPDATE app_user
	SET login_retry=$1,
			last_login=$2
	WHERE id = $3`, post.LoginRetry, post.LastLogin, post.ID)
	return err
}

// isDuplicateKey unique constraint violation, per driver
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
