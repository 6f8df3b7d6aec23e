package auth

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// PermissionMonitor lets a connection watch identities other than its own.
	PermissionMonitor = "live:monitor"

	// PermissionPublish lets a backend service push notifications to any user.
	PermissionPublish = "live:publish"
)

var (
	ErrTokenEmpty = errors.New("token is empty")
	ErrForbidden  = errors.New("forbidden")
)

type Claims struct {
	jwt.RegisteredClaims
	Name        string   `json:"name,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Has reports whether the claims grant perm.
func (c *Claims) Has(perm string) bool {
	return c != nil && slices.Contains(c.Permissions, perm)
}

// CanWatch reports whether the holder may authenticate a connection as userID.
func (c *Claims) CanWatch(userID string) bool {
	if c == nil {
		return false
	}
	return c.Subject == userID || c.Has(PermissionMonitor)
}

// Verifier validates HS256 tokens. A Verifier without a secret accepts every
// request and yields nil claims.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

func (v *Verifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// ValidateToken validates a token and returns its claims.
func (v *Verifier) ValidateToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return nil, ErrTokenEmpty
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, fmt.Errorf("invalid issuer: expected %s, got %s", v.issuer, claims.Issuer)
	}

	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	return claims, nil
}

// Authorize extracts and validates the request token. With verification
// disabled it returns nil claims and no error.
func (v *Verifier) Authorize(r *http.Request) (*Claims, error) {
	if !v.Enabled() {
		return nil, nil
	}
	return v.ValidateToken(ExtractTokenFromRequest(r))
}

// IssueToken signs a token for subject. Used by tooling and tests.
func IssueToken(secret, issuer, subject string, permissions []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Permissions: permissions,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ExtractTokenFromRequest extracts JWT from request (query param or header)
func ExtractTokenFromRequest(r *http.Request) string {
	// Try query parameter first
	token := r.URL.Query().Get("token")
	if token != "" {
		return token
	}

	// Try Authorization header
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
