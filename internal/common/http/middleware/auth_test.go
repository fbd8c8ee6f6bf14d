package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkgerrors "codearena/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret, subject string, expiresIn time.Duration) string {
	t.Helper()
	claims := tokenClaims{
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "arena",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func TestAuthenticate(t *testing.T) {
	auth := NewAuthenticator("secret", "arena")

	userID, err := auth.Authenticate(signToken(t, "secret", "u-1", time.Hour))
	if err != nil || userID != "u-1" {
		t.Fatalf("valid token rejected: user=%q err=%v", userID, err)
	}

	_, err = auth.Authenticate(signToken(t, "secret", "u-1", -time.Minute))
	if !pkgerrors.Is(err, pkgerrors.TokenExpired) {
		t.Fatalf("expected TokenExpired, got %v", err)
	}

	_, err = auth.Authenticate(signToken(t, "other", "u-1", time.Hour))
	if !pkgerrors.Is(err, pkgerrors.TokenInvalid) {
		t.Fatalf("expected TokenInvalid for wrong secret, got %v", err)
	}
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := NewAuthenticator("secret", "arena")
	router := gin.New()
	router.Use(TraceContextMiddleware(), AuthMiddleware(auth))
	router.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret", "u-9", time.Hour))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "u-9" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Trace-Id") == "" {
		t.Fatalf("trace id header missing")
	}

	req = httptest.NewRequest(http.MethodGet, "/me?token="+signToken(t, "secret", "u-3", time.Hour), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "u-3" {
		t.Fatalf("query token rejected: %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token should be 401, got %d", rec.Code)
	}
}
