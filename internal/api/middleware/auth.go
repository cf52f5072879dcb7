package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the kind of caller a token was issued to.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
	RoleAdmin   Role = "admin"
)

// legacyHeaders are the per-role headers older clients send the raw token in.
var legacyHeaders = map[Role]string{
	RoleDoctor:  "dtoken",
	RolePatient: "token",
	RoleAdmin:   "atoken",
}

// Claims are the JWT claims the API accepts. Tokens are issued elsewhere;
// older tokens carry the caller in "id" instead of "sub".
type Claims struct {
	Role   string `json:"role,omitempty"`
	UserID string `json:"id,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller.
type Principal struct {
	ID   string
	Role Role
}

var (
	errMissingToken = errors.New("not authorized, login again")
	errInvalidToken = errors.New("invalid or expired token")
	errWrongRole    = errors.New("token does not grant access to this resource")
)

// TokenVerifier validates HMAC signed tokens.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier for tokens signed with secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses token and returns its claims.
func (v *TokenVerifier) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errInvalidToken
	}
	return claims, nil
}

// Authenticate admits only callers holding a valid token whose role claim
// equals role. The token is read from "Authorization: Bearer" or the role's
// legacy header; the header never stands in for a missing role claim.
func Authenticate(v *TokenVerifier, role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractToken(r, role)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, errMissingToken.Error())
				return
			}

			claims, err := v.Verify(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, errInvalidToken.Error())
				return
			}

			id := claims.Subject
			if id == "" {
				id = claims.UserID
			}
			if id == "" {
				writeError(w, http.StatusUnauthorized, errInvalidToken.Error())
				return
			}

			got := Role(claims.Role)
			if got != role {
				writeError(w, http.StatusUnauthorized, errWrongRole.Error())
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalKey, Principal{ID: id, Role: got})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request, role Role) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if name, ok := legacyHeaders[role]; ok {
		return strings.TrimSpace(r.Header.Get(name))
	}
	return ""
}

// GetPrincipal extracts the authenticated caller from context
func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(Principal)
	return p, ok
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": message,
	})
}
