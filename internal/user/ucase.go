package user

import (
	"context"
	"time"

	"go.elastic.co/apm"
	"golang.org/x/crypto/bcrypt"
)

// UserUseCaseImpl ...
type UserUseCaseImpl struct {
	UserRepository   UserRepository
	MaxLoginAttempts int
	RetryTimeout     time.Duration
	now              func() time.Time
}

var _ UserUseCase = &UserUseCaseImpl{}

// NewUserUseCase ...
func NewUserUseCase(
	UserRepository UserRepository,
	MaxLoginAttempts int,
	RetryTimeout time.Duration,
) *UserUseCaseImpl {
	return &UserUseCaseImpl{
		UserRepository:   UserRepository,
		MaxLoginAttempts: MaxLoginAttempts,
		RetryTimeout:     RetryTimeout,
		now:              time.Now,
	}
}

// SignUp create a user, the password is stored as a bcrypt hash
func (uu *UserUseCaseImpl) SignUp(ctx context.Context, post *UserModel) (*UserModel, error) {
	apmSpan, _ := apm.StartSpan(ctx, "UserUseCaseImpl.SignUp", "service")
	defer apmSpan.End()

	ur := uu.UserRepository
	// search for existence
	if m, err := ur.FindByCredential(ctx, post); err != nil {
		return nil, err
	} else if m != nil {
		return nil, ErrDuplicatedUser
	}

	password, err := bcrypt.GenerateFromPassword([]byte(post.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	post.Password = string(password)
	if post.Role == "" {
		post.Role = RoleStudent
	}

	// save user
	if err := ur.SaveUser(ctx, post); err != nil {
		return nil, err
	}
	post.Password = ""
	return post, nil
}

// SignIn check credential, accounts are locked for RetryTimeout after MaxLoginAttempts failures
func (uu *UserUseCaseImpl) SignIn(ctx context.Context, username, password string) (*UserModel, error) {
	apmSpan, _ := apm.StartSpan(ctx, "UserUseCaseImpl.SignIn", "service")
	defer apmSpan.End()

	ur := uu.UserRepository
	user, err := ur.FindByCredential(ctx, &UserModel{Username: username, Email: username})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNoSuchUser
	}

	now := uu.now()
	if uu.MaxLoginAttempts > 0 && user.LoginRetry >= uu.MaxLoginAttempts {
		if now.Before(time.Unix(user.LastLogin, 0).Add(uu.RetryTimeout)) {
			return nil, ErrUserTooManyRetry
		}
		user.LoginRetry = 0
	}

	user.LastLogin = now.Unix()
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		if err != bcrypt.ErrMismatchedHashAndPassword {
			return nil, err
		}
		user.LoginRetry++
		if err := ur.UpdateLogin(ctx, user); err != nil {
			return nil, err
		}
		return nil, ErrNoSuchUser
	}

	// reset retry number
	user.LoginRetry = 0
	if err := ur.UpdateLogin(ctx, user); err != nil {
		return nil, err
	}
	user.Password = ""
	return user, nil
}

// Exists find if user exists in database
func (uu *UserUseCaseImpl) Exists(ctx context.Context, post *UserModel) (bool, error) {
	apmSpan, _ := apm.StartSpan(ctx, "UserUseCaseImpl.Exists", "service")
	defer apmSpan.End()

	user, err := uu.UserRepository.FindByCredential(ctx, post)
	if err != nil {
		return false, err
	}
	return user != nil, nil
}
