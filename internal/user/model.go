package user

import (
	"context"
	"errors"
)

// roles, one per dashboard
const (
	RoleAdministrator = "administrator"
	RoleTeacher       = "teacher"
	RoleITStaff       = "it-staff"
	RoleStudent       = "student"
)

// IsStaff staff may read records of other users
func IsStaff(role string) bool {
	switch role {
	case RoleAdministrator, RoleTeacher, RoleITStaff:
		return true
	}
	return false
}

type UserModel struct {
	ID         string `json:"id"`
	Username   string `json:"username" validate:"required,min=3,max=64"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password,omitempty" validate:"required,min=6"`
	Role       string `json:"role" validate:"omitempty,oneof=administrator teacher it-staff student"`
	LoginRetry int    `json:"-"`
	LastLogin  int64  `json:"-"` // unix seconds of the last sign in attempt
}

// ErrNoSuchUser failed to validate the credential
var ErrNoSuchUser = errors.New("No such user or password is incorrect")

// ErrDuplicatedUser unique key constraint violation
var ErrDuplicatedUser = errors.New("Username or email is already registered")

// ErrUserTooManyRetry sign in locked after too many failures
var ErrUserTooManyRetry = errors.New("Too many failed attempts, please retry later")

type UserUseCase interface {
	SignUp(ctx context.Context, post *UserModel) (*UserModel, error)
	SignIn(ctx context.Context, username, password string) (*UserModel, error)
	Exists(ctx context.Context, post *UserModel) (bool, error)
}

type UserRepository interface {
	FindByCredential(ctx context.Context, post *UserModel) (*UserModel, error)
	SaveUser(ctx context.Context, post *UserModel) error
	UpdateLogin(ctx context.Context, post *UserModel) error
}
