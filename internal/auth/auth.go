// Package auth resolves requests and websocket handshakes to a Principal.
// Token issuance lives in the auth service; this package only verifies.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the authenticated caller. The zero value is the anonymous caller.
type Principal struct {
	UserID      string
	DisplayName string
}

// Anonymous is the principal of a request without valid credentials.
var Anonymous = Principal{}

func (p Principal) IsAnonymous() bool {
	return p.UserID == ""
}

// Name returns a display name suitable for chat and presence notices.
func (p Principal) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.UserID != "" {
		return p.UserID
	}
	return "Anonymous"
}

type TokenClaims struct {
	UserID    string `json:"uid"`
	Name      string `json:"name,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Resolver turns request credentials into a Principal.
type Resolver struct {
	secret []byte
	// trustHeaders accepts X-User-Id / X-User-Name set by the api-gateway.
	trustHeaders bool
}

func NewResolver(secret []byte, trustGatewayHeaders bool) *Resolver {
	return &Resolver{secret: secret, trustHeaders: trustGatewayHeaders}
}

// Resolve never fails: missing or invalid credentials yield Anonymous.
func (r *Resolver) Resolve(req *http.Request) Principal {
	if raw := bearerToken(req); raw != "" {
		return r.parse(raw)
	}
	if raw := strings.TrimSpace(req.URL.Query().Get("token")); raw != "" {
		return r.parse(raw)
	}
	if r.trustHeaders {
		if uid := strings.TrimSpace(req.Header.Get("X-User-Id")); uid != "" {
			return Principal{UserID: uid, DisplayName: strings.TrimSpace(req.Header.Get("X-User-Name"))}
		}
	}
	return Anonymous
}

func (r *Resolver) parse(raw string) Principal {
	if len(r.secret) == 0 {
		return Anonymous
	}
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid || claims.TokenType != "access" || claims.UserID == "" {
		return Anonymous
	}
	return Principal{UserID: claims.UserID, DisplayName: claims.Name}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type ctxPrincipalKey struct{}

// Middleware resolves every request and stores the principal in its context.
func Middleware(res *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := res.Resolve(r)
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipalKey{}, p)
}

func FromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(ctxPrincipalKey{}).(Principal)
	return p
}

// IssueAccessToken signs an access token the Resolver accepts.
func IssueAccessToken(secret []byte, userID, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &TokenClaims{
		UserID:    userID,
		Name:      name,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
