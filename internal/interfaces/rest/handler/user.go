package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/auth"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/driver"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/validate"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/user"
	"github.com/labstack/echo/v4"
)

// BlacklistPrefix kv key prefix of signed out tokens
const BlacklistPrefix = "edusoluce:blacklist:"

// UserHandler user related operations
type UserHandler struct {
	JWTUtil     *auth.JWTUtil
	KVStore     driver.KeyValueDB
	UserUseCase user.UserUseCase
	Validator   validate.Validator
}

// NewUserHandler create an user controller instance
func NewUserHandler(
	JWTUtil *auth.JWTUtil,
	KVStore driver.KeyValueDB,
	UserUseCase user.UserUseCase,
	Validator validate.Validator,
) *UserHandler {
	return &UserHandler{
		JWTUtil:     JWTUtil,
		KVStore:     KVStore,
		UserUseCase: UserUseCase,
		Validator:   Validator,
	}
}

type signInRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type signInResponse struct {
	Token string          `json:"token"`
	User  *user.UserModel `json:"user"`
}

// HandleSignIn issue a token in cookie and body
func (uh *UserHandler) HandleSignIn(c echo.Context) (err error) {
	ju := uh.JWTUtil

	// parse body
	post := new(signInRequest)
	if err = c.Bind(post); err != nil {
		return c.JSON(http.StatusUnprocessableEntity,
			NewRESTStandardError(http.StatusUnprocessableEntity, "Failed to bind user entity").SetDetail(bindErrorDetail(err)))
	}
	if err := uh.Validator.Struct(post); err != nil {
		return c.JSON(http.StatusBadRequest,
			NewRESTValidationError(http.StatusBadRequest, "Failed to validate fields", err))
	}

	u, err := uh.UserUseCase.SignIn(c.Request().Context(), post.Username, post.Password)
	switch {
	case errors.Is(err, user.ErrNoSuchUser):
		return c.JSON(http.StatusUnauthorized, NewRESTStandardError(http.StatusUnauthorized, err.Error()))
	case errors.Is(err, user.ErrUserTooManyRetry):
		return c.JSON(http.StatusForbidden, NewRESTStandardError(http.StatusForbidden, err.Error()))
	case err != nil:
		return err
	}

	// issue JWT
	tokenStr, err := ju.GenerateTokenStr(&auth.Subject{UID: u.ID, Email: u.Email, Name: u.Username, Role: u.Role})
	if err != nil {
		return err
	}
	ju.SetClientToken(c, tokenStr)
	return c.JSON(http.StatusOK, &signInResponse{Token: tokenStr, User: u})
}

// HandleSignUp ...
func (uh *UserHandler) HandleSignUp(c echo.Context) (err error) {
	post := new(user.UserModel)
	if err = c.Bind(post); err != nil {
		return c.JSON(http.StatusUnprocessableEntity,
			NewRESTStandardError(http.StatusUnprocessableEntity, "Failed to bind user entity").SetDetail(bindErrorDetail(err)))
	}

	// validation
	if err := uh.Validator.Struct(post); err != nil {
		return c.JSON(http.StatusBadRequest,
			NewRESTValidationError(http.StatusBadRequest, "Failed to validate fields", err))
	}

	// only administrators hand out staff roles
	if post.Role != "" && post.Role != user.RoleStudent && !uh.isAdministrator(c) {
		return c.JSON(http.StatusForbidden,
			NewRESTStandardError(http.StatusForbidden, "Only administrators may create staff accounts"))
	}

	// register
	created, err := uh.UserUseCase.SignUp(c.Request().Context(), post)
	if err != nil {
		if errors.Is(err, user.ErrDuplicatedUser) {
			return c.JSON(http.StatusConflict, NewRESTStandardError(http.StatusConflict, err.Error()))
		}
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

// HandleSignOut blacklist the token until it expires
func (uh *UserHandler) HandleSignOut(c echo.Context) (err error) {
	ju := uh.JWTUtil
	kv := uh.KVStore

	tokenStr, err := ju.ExtractToken(c)
	if err != nil {
		return c.NoContent(http.StatusNoContent)
	}
	token, err := ju.Validate(tokenStr)
	if err != nil {
		return c.NoContent(http.StatusUnauthorized)
	}
	ju.ClearClientToken(c)
	if err := kv.SetEX(BlacklistPrefix+tokenStr, "", token.TimeRemaining()+time.Second); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleUserExists ...
func (uh *UserHandler) HandleUserExists(c echo.Context) (err error) {
	post := new(user.UserModel)
	post.Username = c.QueryParam("username")
	post.Email = c.QueryParam("email")

	if err := uh.Validator.AllEmpty([]string{"username", "email"}, post.Username, post.Email); err != nil {
		return c.JSON(http.StatusBadRequest,
			NewRESTValidationError(http.StatusBadRequest, "Failed to validate params", []*validate.FieldError{err}))
	}

	existing, err := uh.UserUseCase.Exists(c.Request().Context(), post)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, existing)
}

func (uh *UserHandler) isAdministrator(c echo.Context) bool {
	tokenStr, err := uh.JWTUtil.ExtractToken(c)
	if err != nil {
		return false
	}
	if revoked, err := uh.KVStore.Exists(BlacklistPrefix + tokenStr); err != nil || revoked {
		return false
	}
	claims, err := uh.JWTUtil.Validate(tokenStr)
	return err == nil && claims.Role == user.RoleAdministrator
}

func bindErrorDetail(err error) string {
	if he, ok := err.(*echo.HTTPError); ok && he.Internal != nil {
		return he.Internal.Error()
	}
	return err.Error()
}
