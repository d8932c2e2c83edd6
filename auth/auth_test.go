package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"

	"planit/domain"
)

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestUserFromAuthHeaderHS256(t *testing.T) {
	secret := []byte("test-secret")
	signed := signHS256(t, secret, jwt.MapClaims{
		"sub":   "user-123",
		"email": "u@example.com",
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
	})

	user, err := NewTest(secret).UserFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if user.ID != "user-123" || user.Email != "u@example.com" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestUserFromAuthHeaderRejectsWrongSecret(t *testing.T) {
	signed := signHS256(t, []byte("other"), jwt.MapClaims{"sub": "user-123"})
	if _, err := NewTest([]byte("test-secret")).UserFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatalf("expected signature error")
	}
}

func TestUserFromAuthHeaderMissingSub(t *testing.T) {
	secret := []byte("test-secret")
	signed := signHS256(t, secret, jwt.MapClaims{"email": "u@example.com"})
	if _, err := NewTest(secret).UserFromAuthHeader("Bearer " + signed); err == nil || err.Error() != "missing sub" {
		t.Fatalf("expected missing sub error, got %v", err)
	}
}

func TestUserFromAuthHeaderMalformed(t *testing.T) {
	a := NewTest([]byte("s"))
	cases := map[string]error{
		"":                                   ErrMissingAuthorization,
		"   ":                                ErrMissingAuthorization,
		"Basic abc.def.ghi":                  ErrBadAuthorization,
		"Bearer":                             ErrBadAuthorization,
		"Bearer " + strings.Repeat(".", 100): ErrBadAuthorization,
	}
	for header, want := range cases {
		if _, err := a.UserFromAuthHeader(header); !errors.Is(err, want) {
			t.Fatalf("header %q: expected %v, got %v", header, want, err)
		}
	}
}

func TestUserFromAuthHeaderRS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwks := keyfunc.NewGiven(map[string]keyfunc.GivenKey{
		"k1": keyfunc.NewGivenRSACustomWithOptions(&key.PublicKey, keyfunc.GivenKeyOptions{Algorithm: "RS256"}),
	})
	a := New(jwks, "api://planit", "https://issuer/")

	sign := func(claims jwt.MapClaims) string {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = "k1"
		signed, err := token.SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return "Bearer " + signed
	}
	valid := jwt.MapClaims{
		"sub": "user-1",
		"aud": "api://planit",
		"iss": "https://issuer/",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	user, err := a.UserFromAuthHeader(sign(valid))
	if err != nil || user.ID != "user-1" {
		t.Fatalf("expected user-1, got %+v %v", user, err)
	}

	wrongAud := jwt.MapClaims{"sub": "user-1", "aud": "other", "iss": "https://issuer/", "exp": time.Now().Add(time.Hour).Unix()}
	if _, err := a.UserFromAuthHeader(sign(wrongAud)); err == nil || err.Error() != "invalid audience" {
		t.Fatalf("expected invalid audience, got %v", err)
	}
	expired := jwt.MapClaims{"sub": "user-1", "aud": "api://planit", "iss": "https://issuer/", "exp": time.Now().Add(-time.Hour).Unix()}
	if _, err := a.UserFromAuthHeader(sign(expired)); err == nil || err.Error() != "token expired" {
		t.Fatalf("expected token expired, got %v", err)
	}
	noExp := jwt.MapClaims{"sub": "user-1", "aud": "api://planit", "iss": "https://issuer/"}
	if _, err := a.UserFromAuthHeader(sign(noExp)); err == nil {
		t.Fatalf("expected tokens without exp to be rejected")
	}
}

func TestMiddlewareAcceptsQueryToken(t *testing.T) {
	secret := []byte("test-secret")
	signed := signHS256(t, secret, jwt.MapClaims{"sub": "user-9"})

	e := echo.New()
	var got domain.User
	handler := Middleware(NewTest(secret))(func(c echo.Context) error {
		got, _ = UserFrom(c)
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/stream?token="+signed, nil)
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusNoContent || got.ID != "user-9" {
		t.Fatalf("unexpected result %d %+v", rec.Code, got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/graph", nil)
	rec = httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSession(t *testing.T) {
	if _, ok := NewSession(domain.User{}).CurrentUser(); ok {
		t.Fatalf("empty user must be anonymous")
	}
	if u, ok := NewSession(domain.User{ID: "u1"}).CurrentUser(); !ok || u.ID != "u1" {
		t.Fatalf("unexpected session user %+v", u)
	}
}

func TestSignTestTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	signed, err := SignTestToken(secret, "perf-user-3", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	user, err := NewTest(secret).UserFromAuthHeader("Bearer " + signed)
	if err != nil || user.ID != "perf-user-3" {
		t.Fatalf("unexpected verification result %+v %v", user, err)
	}
	if _, err := SignTestToken(nil, "u", time.Hour); err == nil {
		t.Fatalf("expected error without secret")
	}
}
