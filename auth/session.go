package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"planit/domain"
)

const userKey = "planit.user"

// Session is the identity a workspace acts on behalf of.
type Session struct {
	user domain.User
	ok   bool
}

func NewSession(user domain.User) Session {
	return Session{user: user, ok: user.ID != ""}
}

// CurrentUser returns the signed in user, or false for an anonymous session.
func (s Session) CurrentUser() (domain.User, bool) {
	return s.user, s.ok
}

// Authenticator resolves the user behind an Authorization header.
type Authenticator interface {
	UserFromAuthHeader(string) (domain.User, error)
}

// Middleware rejects requests without a valid bearer token. Event streams
// cannot set headers, so a token query parameter is accepted as well.
func Middleware(a Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if token := c.QueryParam("token"); header == "" && token != "" {
				header = "Bearer " + token
			}
			user, err := a.UserFromAuthHeader(header)
			if err != nil {
				return c.String(http.StatusUnauthorized, err.Error())
			}
			c.Set(userKey, user)
			return next(c)
		}
	}
}

// UserFrom returns the user stored on c by Middleware.
func UserFrom(c echo.Context) (domain.User, bool) {
	user, ok := c.Get(userKey).(domain.User)
	return user, ok && user.ID != ""
}
