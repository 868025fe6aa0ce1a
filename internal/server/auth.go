package server

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"garage/rescue/internal/config"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	// UserContextKey is the context key for storing user claims.
	UserContextKey contextKey = "user"

	// RoleManager is the realm role allowed to edit branches and pricing.
	RoleManager = "garage-manager"
)

// UserClaims represents the JWT claims issued by Keycloak.
type UserClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// HasRole reports whether the realm roles include role.
func (c *UserClaims) HasRole(role string) bool {
	return slices.Contains(c.RealmAccess.Roles, role)
}

// AuthMiddleware validates bearer tokens against the realm JWKS.
type AuthMiddleware struct {
	keyfunc      jwt.Keyfunc
	cancelFn     context.CancelFunc
	validIssuers []string
	log          zerolog.Logger
}

// NewAuthMiddleware fetches the realm JWKS and keeps it refreshed until Close.
func NewAuthMiddleware(ctx context.Context, cfg config.KeycloakConfig, log zerolog.Logger) (*AuthMiddleware, error) {
	jwksURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.URL, cfg.Realm)

	jwksCtx, cancelFn := context.WithCancel(ctx)
	jwks, err := keyfunc.NewDefaultCtx(jwksCtx, []string{jwksURL})
	if err != nil {
		cancelFn()
		return nil, fmt.Errorf("failed to create JWKS from %s: %w", jwksURL, err)
	}

	// Tokens minted through either the internal or the public Keycloak address are accepted.
	validIssuers := []string{
		fmt.Sprintf("%s/realms/%s", cfg.URL, cfg.Realm),
		fmt.Sprintf("%s/realms/%s", cfg.PublicURL, cfg.Realm),
	}

	log.Info().
		Str("jwks_url", jwksURL).
		Strs("valid_issuers", validIssuers).
		Msg("JWT authentication middleware initialized")

	return newAuthMiddleware(jwks.Keyfunc, cancelFn, validIssuers, log), nil
}

func newAuthMiddleware(kf jwt.Keyfunc, cancelFn context.CancelFunc, issuers []string, log zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{keyfunc: kf, cancelFn: cancelFn, validIssuers: issuers, log: log}
}

// Close stops the JWKS refresh goroutine.
func (a *AuthMiddleware) Close() {
	if a.cancelFn != nil {
		a.cancelFn()
	}
}

// Middleware rejects requests without a valid bearer token and stores the claims in the context.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.authenticate(r)
		if err != nil {
			a.log.Debug().Err(err).Str("path", r.URL.Path).Msg("authentication failed")
			writeAPIError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *AuthMiddleware) authenticate(r *http.Request) (*UserClaims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, fmt.Errorf("missing Authorization header")
	}

	scheme, tokenString, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
		return nil, fmt.Errorf("invalid Authorization header format")
	}

	claims := &UserClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, a.keyfunc,
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	if !slices.Contains(a.validIssuers, claims.Issuer) {
		return nil, fmt.Errorf("invalid issuer: %s", claims.Issuer)
	}
	return claims, nil
}

// authenticated applies the JWT middleware when authentication is configured.
func (s *Server) authenticated(next http.Handler) http.Handler {
	if s.authMw == nil {
		return next
	}
	return s.authMw.Middleware(next)
}

// requireRole only lets callers holding role through. It is a no-op when authentication is disabled.
func (s *Server) requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if s.authMw == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetUserFromContext(r.Context())
			if !ok || !claims.HasRole(role) {
				s.writeError(w, http.StatusForbidden, "forbidden: missing "+role+" role", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// actor names the caller for audit columns.
func actor(ctx context.Context) string {
	if claims, ok := GetUserFromContext(ctx); ok && claims.PreferredUsername != "" {
		return claims.PreferredUsername
	}
	return "anonymous"
}

// GetUserFromContext retrieves the user claims from the request context.
func GetUserFromContext(ctx context.Context) (*UserClaims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*UserClaims)
	return claims, ok
}
