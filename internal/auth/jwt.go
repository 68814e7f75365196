// Package auth authenticates reporters. A token's subject is the reporter's
// contact phone number.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const phoneKey contextKey = "authPhone"

var (
	errMissingHeader = errors.New("authorization header required")
	errInvalidHeader = errors.New("invalid authorization header")
	errMissingToken  = errors.New("token missing")
	// ErrNoSecret is returned by NewVerifier when no signing secret was configured.
	ErrNoSecret = errors.New("missing JWT secret")
)

// GetPhone retrieves the authenticated reporter from context.
func GetPhone(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(phoneKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// WithPhone returns a context carrying phone as the authenticated reporter.
func WithPhone(ctx context.Context, phone string) context.Context {
	return context.WithValue(ctx, phoneKey, phone)
}

// Verifier checks HMAC-signed tokens.
type Verifier struct {
	secret   []byte
	audience string
}

// NewVerifier builds a verifier; audience is optional.
func NewVerifier(secret, audience string) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Verifier{secret: []byte(secret), audience: strings.TrimSpace(audience)}, nil
}

// Verify parses tokenString and returns its subject.
func (v *Verifier) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}

// Issue signs a token for phone that expires after ttl.
func (v *Verifier) Issue(phone string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   phone,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Middleware validates the Authorization header and injects the reporter phone.
func (v *Verifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := extractToken(c.Request.Header.Get("Authorization"))
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		phone, err := v.Verify(tokenString)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		c.Request = c.Request.WithContext(WithPhone(c.Request.Context(), phone))
		c.Set(string(phoneKey), phone)

		c.Next()
	}
}

// extractToken accepts "Bearer <jwt>", the legacy "Token <jwt>" scheme and a
// bare "<jwt>" with no scheme at all.
func extractToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingHeader
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 1 {
		if isScheme(parts[0]) {
			return "", errMissingToken
		}
		return parts[0], nil
	}
	if !isScheme(parts[0]) {
		return "", errInvalidHeader
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}

func isScheme(s string) bool {
	return strings.EqualFold(s, "Bearer") || strings.EqualFold(s, "Token")
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
