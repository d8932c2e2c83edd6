package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"planit/domain"
)

var (
	ErrMissingAuthorization = errors.New("missing authorization header")
	ErrBadAuthorization     = errors.New("bad auth header")
)

// Auth validates incoming JWT tokens.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte

	now func() time.Time
}

// New creates an Auth that verifies RS256 tokens against the given key set.
func New(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	return &Auth{JWKS: jwks, Audience: audience, Issuer: issuer, now: time.Now}
}

// NewTest creates an Auth accepting HS256 tokens signed with secret.
func NewTest(secret []byte) *Auth {
	return &Auth{TestMode: true, TestSecret: secret, now: time.Now}
}

// UserFromAuthHeader validates the bearer token in h and returns its subject.
func (a *Auth) UserFromAuthHeader(h string) (domain.User, error) {
	tokenStr, err := bearerToken(h)
	if err != nil {
		return domain.User{}, err
	}

	var token *jwt.Token
	if a.TestMode {
		parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithoutClaimsValidation())
		token, err = parser.Parse(tokenStr, func(*jwt.Token) (interface{}, error) {
			return a.TestSecret, nil
		})
	} else {
		if a.JWKS == nil {
			return domain.User{}, errors.New("no key set configured")
		}
		parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithoutClaimsValidation())
		token, err = parser.Parse(tokenStr, a.JWKS.Keyfunc)
	}
	if err != nil {
		return domain.User{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.User{}, errors.New("invalid claims")
	}
	if err := a.verify(claims); err != nil {
		return domain.User{}, err
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return domain.User{}, errors.New("missing sub")
	}
	email, _ := claims["email"].(string)
	return domain.User{ID: sub, Email: email}, nil
}

func (a *Auth) verify(claims jwt.MapClaims) error {
	clock := a.now
	if clock == nil {
		clock = time.Now
	}
	now := clock().Add(time.Minute).Unix()
	// test tokens may omit exp
	if !claims.VerifyExpiresAt(now, !a.TestMode) {
		return errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return errors.New("token not valid yet")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, false) {
		return errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false) {
		return errors.New("invalid issuer")
	}
	return nil
}

func bearerToken(h string) (string, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return "", ErrMissingAuthorization
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrBadAuthorization
	}
	token = strings.TrimSpace(token)
	if strings.Count(token, ".") != 2 {
		return "", ErrBadAuthorization
	}
	return token, nil
}

// SignTestToken issues an HS256 token for userID that NewTest(secret) accepts.
func SignTestToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("test secret must be set")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}
