package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
)

// DefaultTokenTTL is how long issued bearer tokens stay valid
const DefaultTokenTTL = 30 * 24 * time.Hour

// Claims carries the actor's role alongside the standard JWT claims. The
// subject is the actor id: a worker's phone number, a customer id or an admin name.
type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 bearer tokens
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a token service. A zero ttl uses DefaultTokenTTL.
func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for actor. The system role is reserved for the scheduler.
func (t *Tokens) Issue(actor model.Actor) (string, error) {
	if actor.ID == "" || !actor.Role.IsValid() || actor.Role == model.RoleSystem {
		return "", fmt.Errorf("cannot issue token for %s", actor)
	}
	now := t.now()
	claims := Claims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify parses a token and returns the actor it was issued to
func (t *Tokens) Verify(tokenStr string) (model.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil {
		return model.Actor{}, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" || !claims.Role.IsValid() || claims.Role == model.RoleSystem {
		return model.Actor{}, errors.New("invalid token claims")
	}
	return model.Actor{ID: claims.Subject, Role: claims.Role}, nil
}

type ctxKey string

const actorKey ctxKey = "actor"

// ActorFromContext returns the authenticated actor set by requireAuth
func ActorFromContext(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(model.Actor)
	return actor, ok
}

func withActor(r *http.Request, actor model.Actor) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), actorKey, actor))
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return token, token != ""
}

// requireAuth rejects requests without a valid bearer token
func requireAuth(tokens *Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeMessage(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			actor, err := tokens.Verify(token)
			if err != nil {
				writeMessage(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
				return
			}
			next.ServeHTTP(w, withActor(r, actor))
		})
	}
}

// requireRole must run after requireAuth
func requireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := ActorFromContext(r.Context())
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeMessage(w, http.StatusForbidden, "forbidden", "this action requires the "+joinRoles(roles)+" role")
		})
	}
}

func joinRoles(roles []model.Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, " or ")
}

// requireCronOrAdmin lets the external cron trigger in with the shared secret,
// acting as the system actor, and otherwise requires an admin token
func requireCronOrAdmin(secret string, tokens *Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeMessage(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			if secret != "" && subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1 {
				next.ServeHTTP(w, withActor(r, model.SystemActor))
				return
			}
			actor, err := tokens.Verify(token)
			if err != nil || actor.Role != model.RoleAdmin {
				writeMessage(w, http.StatusUnauthorized, "unauthorized", "cron secret or admin token required")
				return
			}
			next.ServeHTTP(w, withActor(r, actor))
		})
	}
}
