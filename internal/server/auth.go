package server

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"flowboard/internal/domain"
	"flowboard/internal/engine"
	"flowboard/internal/repo"
)

const (
	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

type AuthConfig struct {
	JWTSecret        string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	ExposeResetToken bool
}

func (c AuthConfig) accessTTL() time.Duration {
	if c.AccessTTL > 0 {
		return c.AccessTTL
	}
	return 15 * time.Minute
}

func (c AuthConfig) refreshTTL() time.Duration {
	if c.RefreshTTL > 0 {
		return c.RefreshTTL
	}
	return 7 * 24 * time.Hour
}

type Principal struct {
	UserID string
	Role   domain.Role
	Source string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func userIDFromContext(ctx context.Context) (string, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.UserID != "" {
		return p.UserID, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Role domain.Role `json:"role,omitempty"`
	Type string      `json:"typ"`
}

func signToken(secret string, u domain.User, typ string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: u.Role,
		Type: typ,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// issueTokens mints an access and refresh token pair for the user.
func (c AuthConfig) issueTokens(u domain.User) (TokenResponse, error) {
	now := time.Now()
	access, err := signToken(c.JWTSecret, u, tokenAccess, c.accessTTL(), now)
	if err != nil {
		return TokenResponse{}, err
	}
	refresh, err := signToken(c.JWTSecret, u, tokenRefresh, c.refreshTTL(), now)
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(c.accessTTL().Seconds()),
	}, nil
}

// parseToken validates signature, expiry and token type and returns the subject.
func parseToken(token, secret, wantType string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Type != wantType {
		return "", errors.New("wrong token type")
	}
	if claims.Subject == "" {
		return "", errors.New("subject claim required")
	}
	return claims.Subject, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// publicPaths lists the API routes reachable without credentials. The websocket
// endpoint authenticates through its token query parameter instead.
func publicPaths(basePath string) map[string]bool {
	paths := map[string]bool{}
	for _, p := range []string{
		"health",
		"openapi.json",
		"auth/register",
		"auth/login",
		"auth/refresh",
		"auth/forgot-password",
		"auth/reset-password",
		"ws/notifications",
	} {
		paths[path.Join(basePath, p)] = true
	}
	return paths
}

// credentialError maps an authentication failure to 401, or 403 for deactivated accounts.
func credentialError(err error) huma.StatusError {
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
	}
	se := handleError(err)
	if se.GetStatus() == http.StatusInternalServerError {
		return se
	}
	if se.GetStatus() != http.StatusForbidden {
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
	}
	return se
}

func newAuthMiddleware(basePath string, cfg AuthConfig, e engine.Engine) func(http.Handler) http.Handler {
	public := publicPaths(basePath)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath+"/") || public[req.URL.Path] || req.Method == http.MethodOptions {
				next.ServeHTTP(w, req)
				return
			}
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKey := strings.TrimSpace(req.Header.Get("X-Api-Key"))

			switch {
			case authz != "":
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				userID, err := parseToken(token, cfg.JWTSecret, tokenAccess)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				u, err := e.ActiveUser(req.Context(), userID)
				if err != nil {
					respondStatusError(w, credentialError(err))
					return
				}
				ctx := withPrincipal(req.Context(), Principal{UserID: u.ID, Role: u.Role, Source: "jwt"})
				next.ServeHTTP(w, req.WithContext(ctx))
			case apiKey != "":
				u, err := e.AuthenticateAPIKey(req.Context(), apiKey)
				if err != nil {
					respondStatusError(w, credentialError(err))
					return
				}
				ctx := withPrincipal(req.Context(), Principal{UserID: u.ID, Role: u.Role, Source: "api_key"})
				next.ServeHTTP(w, req.WithContext(ctx))
			default:
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
			}
		})
	}
}
