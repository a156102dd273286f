/*
auth.go - Bearer token authentication

PURPOSE:
  Turns an HS256 bearer token into the loan.Actor every engine operation
  takes. Identity, tenant and role all come from the token; handlers never
  read them from the request body.

TOKEN CLAIMS:
  sub:    actor ID (employee ID for employees and managers)
  tenant: tenant ID
  role:   employee | manager | hr | finance | payroll
  iss, aud, exp, iat: standard, checked on every request

SEE ALSO:
  - server.go: Where the middleware is mounted
  - cmd/server/main.go: -token flag mints development tokens
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/loan-engine/loan"
)

var errUnauthenticated = errors.New("unauthenticated")

// Claims are the JWT claims of an API caller.
type Claims struct {
	Tenant string `json:"tenant"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies API tokens.
type TokenIssuer struct {
	issuer   string
	audience string
	secret   []byte
	now      func() time.Time
}

func NewTokenIssuer(issuer, audience, secret string) *TokenIssuer {
	return &TokenIssuer{
		issuer:   issuer,
		audience: audience,
		secret:   []byte(secret),
		now:      time.Now,
	}
}

// Mint signs a token for actor valid for ttl.
func (ti *TokenIssuer) Mint(actor loan.Actor, ttl time.Duration) (string, error) {
	if actor.ID == "" || actor.TenantID == "" || !actor.Role.Valid() {
		return "", fmt.Errorf("cannot mint token for incomplete actor %+v", actor)
	}

	now := ti.now().UTC()
	claims := Claims{
		Tenant: string(actor.TenantID),
		Role:   string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    ti.issuer,
			Audience:  []string{ti.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(ti.secret)
}

// Parse verifies a token and returns the actor it names.
func (ti *TokenIssuer) Parse(tokenString string) (loan.Actor, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) { return ti.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ti.issuer),
		jwt.WithAudience(ti.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return loan.Actor{}, fmt.Errorf("%w: %v", errUnauthenticated, err)
	}

	actor := loan.Actor{
		ID:       claims.Subject,
		TenantID: loan.TenantID(claims.Tenant),
		Role:     loan.Role(claims.Role),
	}
	if actor.ID == "" || actor.TenantID == "" {
		return loan.Actor{}, fmt.Errorf("%w: token has no subject or tenant", errUnauthenticated)
	}
	if !actor.Role.Valid() {
		return loan.Actor{}, fmt.Errorf("%w: unknown role %q", errUnauthenticated, claims.Role)
	}
	return actor, nil
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type actorKey struct{}

// WithActor returns a context carrying actor.
func WithActor(ctx context.Context, actor loan.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the authenticated actor of a request context.
func ActorFrom(ctx context.Context) (loan.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(loan.Actor)
	return actor, ok
}

// Authenticate rejects requests without a valid bearer token.
func (ti *TokenIssuer) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, r, http.StatusUnauthorized, "unauthenticated", "missing bearer token", nil)
			return
		}

		actor, err := ti.Parse(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthenticated", "invalid token", err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// RequireRole only lets actors with one of roles through.
func RequireRole(roles ...loan.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := ActorFrom(r.Context())
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			respondError(w, r, &loan.AuthorizationError{
				ActorID:  actor.ID,
				Role:     actor.Role,
				Required: roles[0],
				Reason:   fmt.Sprintf("role %s may not call %s %s", actor.Role, r.Method, r.URL.Path),
			})
		})
	}
}
