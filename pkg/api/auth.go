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

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/trust"
)

// Headers read by the authenticator.
const (
	HeaderAPIKey   = "X-API-Key"
	HeaderActorID  = "X-Actor-ID"
	HeaderAdminKey = "X-Admin-Key"
)

// Principal is the authenticated caller. An actor token carries ActorID; a
// platform key carries PlatformID and names the actor per request.
type Principal struct {
	ActorID    string
	PlatformID string
	Admin      bool
}

type principalKey struct{}

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom retrieves the Principal from the context.
func PrincipalFrom(ctx context.Context) (*Principal, error) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	if !ok {
		return nil, errors.New("no principal in context")
	}
	return p, nil
}

// ActorClaims are the JWT claims of an actor token. The subject is the actor ID.
type ActorClaims struct {
	jwt.RegisteredClaims
	PlatformID string `json:"platform_id,omitempty"`
}

// AuthConfig configures an Authenticator.
type AuthConfig struct {
	// JWTSecret verifies HS256 actor tokens. Empty disables bearer auth.
	JWTSecret []byte
	// APIKeys maps platform API keys to platform IDs.
	APIKeys map[string]string
	// Quota limits each API key per UTC day; a nil Quota disables it.
	Quota      trust.Quota
	QuotaLimit int
	// AdminKey guards the admin routes. Empty disables them.
	AdminKey string
	Clock    func() time.Time
}

// Authenticator resolves bearer tokens and platform keys to a Principal.
type Authenticator struct {
	cfg AuthConfig
}

func NewAuthenticator(cfg AuthConfig) *Authenticator {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Authenticator{cfg: cfg}
}

// IssueToken signs an actor token valid for ttl.
func (a *Authenticator) IssueToken(actorID, platformID string, ttl time.Duration) (string, error) {
	if len(a.cfg.JWTSecret) == 0 {
		return "", errors.New("api: bearer auth is not configured")
	}
	now := a.cfg.Clock()
	claims := ActorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		PlatformID: platformID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.cfg.JWTSecret)
}

func (a *Authenticator) parseToken(tokenStr string) (*ActorClaims, error) {
	claims := &ActorClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return a.cfg.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.cfg.Clock))
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token subject is required")
	}
	return claims, nil
}

// Middleware authenticates every request it wraps.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get(HeaderAPIKey); key != "" {
			platform, ok := a.lookupKey(key)
			if !ok {
				WriteUnauthorized(w, r, "Unknown API key")
				return
			}
			if a.cfg.Quota != nil {
				if _, err := a.cfg.Quota.Consume(r.Context(), platform, a.cfg.QuotaLimit, a.cfg.Clock()); err != nil {
					WriteErr(w, r, err)
					return
				}
			}
			p := &Principal{PlatformID: platform, ActorID: r.Header.Get(HeaderActorID)}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			WriteUnauthorized(w, r, "Missing Authorization header or API key")
			return
		}
		scheme, tokenStr, ok := strings.Cut(authHeader, " ")
		if !ok || scheme != "Bearer" {
			WriteUnauthorized(w, r, "Invalid Authorization header format (expected 'Bearer <token>')")
			return
		}
		if len(a.cfg.JWTSecret) == 0 {
			WriteUnauthorized(w, r, "Authentication not configured")
			return
		}
		claims, err := a.parseToken(tokenStr)
		if err != nil {
			WriteUnauthorized(w, r, "Invalid or expired token")
			return
		}
		p := &Principal{ActorID: claims.Subject, PlatformID: claims.PlatformID}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// AdminMiddleware requires the admin key. With no key configured the admin
// routes are closed.
func (a *Authenticator) AdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(HeaderAdminKey)
		if a.cfg.AdminKey == "" || subtle.ConstantTimeCompare([]byte(got), []byte(a.cfg.AdminKey)) != 1 {
			WriteError(w, r, http.StatusForbidden, "Forbidden", "Admin key required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), &Principal{Admin: true})))
	})
}

func (a *Authenticator) lookupKey(key string) (string, bool) {
	for k, platform := range a.cfg.APIKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return platform, true
		}
	}
	return "", false
}

// resolveActor returns the actor a request acts for. Actor tokens may only
// act for their subject; platform keys must name the actor.
func resolveActor(ctx context.Context, claimed string) (string, error) {
	p, err := PrincipalFrom(ctx)
	if err != nil {
		return "", contracts.NewError(contracts.CodeUnauthorized, "unauthenticated", "authentication required")
	}
	if p.ActorID == "" {
		if claimed == "" {
			return "", contracts.ValidationError("missing_actor", "actor_id or %s is required", HeaderActorID)
		}
		return claimed, nil
	}
	if claimed != "" && claimed != p.ActorID {
		return "", contracts.NewError(contracts.CodeUnauthorized, "actor_mismatch", "cannot act for another actor")
	}
	return p.ActorID, nil
}
