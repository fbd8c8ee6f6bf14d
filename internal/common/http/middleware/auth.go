package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pkgerrors "codearena/pkg/errors"
	"codearena/pkg/utils/contextkey"
	"codearena/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const userIDContextKey = "user_id"

// Authenticator verifies HS256 access tokens issued by the identity service.
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

type tokenClaims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Authenticate returns the user id carried by raw.
func (a *Authenticator) Authenticate(raw string) (string, error) {
	if raw == "" || len(a.secret) == 0 {
		return "", pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", pkgerrors.New(pkgerrors.TokenExpired)
		}
		return "", pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return "", pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if a.issuer != "" && claims.Issuer != a.issuer {
		return "", pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.TokenType != "" && claims.TokenType != "access" {
		return "", pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.Subject == "" {
		return "", pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return claims.Subject, nil
}

// AuthMiddleware rejects requests without a valid bearer token and stores the user id.
// Browsers cannot set headers on websocket upgrades, so a "token" query parameter is accepted too.
func AuthMiddleware(auth *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth == nil {
			response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "auth service unavailable")
			return
		}
		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		userID, err := auth.Authenticate(token)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		c.Set(userIDContextKey, userID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), contextkey.UserID, userID))
		c.Next()
	}
}

// UserID returns the authenticated user id stored by AuthMiddleware.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(userIDContextKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func extractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
