// Package auth verifies bearer credentials minted by the external auth layer
// and carries the resulting identity through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"bustrack/internal/apperr"
)

// Role is the caller's role as asserted by the token.
type Role string

const (
	RoleStudent       Role = "student"
	RoleDriver        Role = "driver"
	RoleTransportDept Role = "transport_dept"
	RoleAnonymous     Role = "anonymous"
)

// Valid reports whether r is a role the auth layer issues.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleDriver || r == RoleTransportDept
}

// Identity is an authenticated caller.
type Identity struct {
	UserID string
	Role   Role
	Name   string
}

// Is reports whether the identity holds one of roles.
func (i Identity) Is(roles ...Role) bool {
	for _, role := range roles {
		if i.Role == role {
			return true
		}
	}
	return false
}

// claims mirrors the token payload of the auth layer: sub, role, name.
type claims struct {
	jwt.RegisteredClaims
	Role Role   `json:"role"`
	Name string `json:"name,omitempty"`
}

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier creates a verifier. An empty issuer disables the issuer check.
func NewVerifier(secret, issuer string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Verifier{secret: []byte(secret), issuer: strings.TrimSpace(issuer), now: time.Now}, nil
}

// Verify parses token and returns the identity it carries.
func (v *Verifier) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, apperr.New(apperr.CodeUnauthenticated, "missing bearer token")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var parsed claims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, apperr.Wrap(apperr.CodeUnauthenticated, "token expired", err)
		}
		return Identity{}, apperr.Wrap(apperr.CodeUnauthenticated, "invalid token", err)
	}
	if parsed.Subject == "" {
		return Identity{}, apperr.New(apperr.CodeUnauthenticated, "token has no subject")
	}
	if !parsed.Role.Valid() {
		return Identity{}, apperr.New(apperr.CodeUnauthenticated, "token has unknown role")
	}
	return Identity{UserID: parsed.Subject, Role: parsed.Role, Name: parsed.Name}, nil
}

// Issue signs a token for id valid for ttl. Used by the development token
// command and tests; production tokens come from the auth layer.
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	if id.UserID == "" {
		return "", errors.New("user id is required")
	}
	if !id.Role.Valid() {
		return "", fmt.Errorf("unknown role %q", id.Role)
	}
	now := v.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: id.Role,
		Name: id.Name,
	})
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// TokenFromRequest reads the bearer token from the Authorization header,
// falling back to the token query parameter used by browser websockets.
func TokenFromRequest(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		scheme, value, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

type contextKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by the middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
