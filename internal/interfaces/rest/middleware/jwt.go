package middleware

import (
	"net/http"
	"time"

	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/auth"
	"github.com/labstack/echo/v4"
)

// ValidateTokenOption ...
type ValidateTokenOption struct {
	InBlackList func(token string) (bool, error)
}

// RefreshTokenOption ...
type RefreshTokenOption struct {
	Threshold time.Duration
}

// VerifyToken validate JWT
func VerifyToken(ju *auth.JWTUtil, options ...*ValidateTokenOption) echo.MiddlewareFunc {
	inBlacklist := func(string) (bool, error) { return false, nil }
	if len(options) > 0 {
		if option := options[0]; option.InBlackList != nil {
			inBlacklist = option.InBlackList
		}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := ju.ExtractToken(c)
			if err != nil {
				return c.NoContent(http.StatusUnauthorized)
			}

			if ok, err := inBlacklist(tokenStr); err != nil {
				return err
			} else if ok {
				return c.NoContent(http.StatusUnauthorized)
			}

			token, err := ju.Validate(tokenStr)
			if err == nil {
				ju.SetContextToken(c, token)
				return next(c)
			}
			return c.NoContent(http.StatusUnauthorized)
		}
	}
}

// RefreshToken refresh jwt if necessary, must be chained after VerifyToken
func RefreshToken(ju *auth.JWTUtil, options ...*RefreshTokenOption) echo.MiddlewareFunc {
	threshold := 5 * time.Minute
	if len(options) > 0 {
		if option := options[0]; option.Threshold > 0 {
			threshold = option.Threshold
		}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := ju.GetContextToken(c)
			if claims == nil {
				return next(c)
			}
			if time.Until(time.Unix(claims.ExpiresAt, 0)) < threshold {
				ju.RefreshToken(claims)
				tokenStr, err := ju.Sign(claims)
				if err != nil {
					return err
				}
				ju.SetClientToken(c, tokenStr)
				c.Response().Header().Set(HeaderRefreshedToken, tokenStr)
			}
			return next(c)
		}
	}
}

// HeaderRefreshedToken carries the refreshed token for clients without cookies
const HeaderRefreshedToken = "X-Refreshed-Token"

// OwnerOption ...
type OwnerOption struct {
	// AllowRole lets a role act on behalf of other users
	AllowRole func(role string) bool
}

// RequireOwner only lets the user named by the :user_id path param through, must be
// chained after VerifyToken
func RequireOwner(ju *auth.JWTUtil, options ...*OwnerOption) echo.MiddlewareFunc {
	allowRole := func(string) bool { return false }
	if len(options) > 0 {
		if option := options[0]; option.AllowRole != nil {
			allowRole = option.AllowRole
		}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := ju.GetContextToken(c)
			if claims == nil {
				return c.NoContent(http.StatusUnauthorized)
			}
			if claims.UID == c.Param("user_id") || allowRole(claims.Role) {
				return next(c)
			}
			return c.NoContent(http.StatusForbidden)
		}
	}
}
