package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AuthConfig configures admin authentication. A static bearer token and an
// HS256 JWT secret may be enabled independently; at least one is required.
type AuthConfig struct {
	BearerToken string
	JWTSecret   string
	JWTIssuer   string
}

// Authenticator verifies admin requests before they reach handlers.
type Authenticator struct {
	bearerToken string
	allowBearer bool
	jwtSecret   []byte
	jwtIssuer   string
	allowJWT    bool
}

// Principal describes an authenticated actor accessing the admin API.
type Principal struct {
	Method  string
	Subject string
}

type principalContextKey struct{}

// PrincipalFromContext extracts the authenticated principal from the
// request context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	if ctx == nil {
		return nil, false
	}
	principal, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || principal == nil {
		return nil, false
	}
	return principal, true
}

// NewAuthenticator constructs an authenticator from configuration.
func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	token := strings.TrimSpace(cfg.BearerToken)
	secret := strings.TrimSpace(cfg.JWTSecret)
	auth := &Authenticator{
		bearerToken: token,
		allowBearer: token != "",
		jwtSecret:   []byte(secret),
		jwtIssuer:   strings.TrimSpace(cfg.JWTIssuer),
		allowJWT:    secret != "",
	}
	if !auth.allowBearer && !auth.allowJWT {
		return nil, fmt.Errorf("at least one authentication mechanism must be configured")
	}
	return auth, nil
}

// Middleware enforces authentication for admin endpoints.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			http.Error(w, "authentication unavailable", http.StatusInternalServerError)
			return
		}
		principal, ok := a.authenticate(r)
		if !ok {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) authenticate(r *http.Request) (*Principal, bool) {
	token := parseBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return nil, false
	}
	if a.allowBearer {
		if subtle.ConstantTimeCompare([]byte(token), []byte(a.bearerToken)) == 1 {
			return &Principal{Method: "bearer"}, true
		}
	}
	if a.allowJWT {
		if principal := a.verifyJWT(token); principal != nil {
			return principal, true
		}
	}
	return nil, false
}

func (a *Authenticator) verifyJWT(token string) *Principal {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.jwtIssuer != "" {
		opts = append(opts, jwt.WithIssuer(a.jwtIssuer))
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil
	}
	subject := ""
	if claims, ok := parsed.Claims.(jwt.MapClaims); ok {
		if sub, err := claims.GetSubject(); err == nil {
			subject = sub
		}
	}
	return &Principal{Method: "jwt", Subject: subject}
}

func parseBearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	const prefix = "bearer "
	if len(trimmed) <= len(prefix) || !strings.EqualFold(trimmed[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(trimmed[len(prefix):])
}
