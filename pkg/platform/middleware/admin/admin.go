// Package admin gates the internal record stream behind an elevated-privilege
// credential. Two credential forms are accepted: a JWT bearer token carrying
// role=admin, or a static operator key verified against a bcrypt hash.
package admin

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"chronicle/pkg/platform/httputil"
	"chronicle/pkg/requestcontext"

	derrors "chronicle/pkg/domain-errors"
)

const roleAdmin = "admin"

// Claims are the JWT claims required on admin tokens.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Gate validates admin credentials and stamps the request context with the
// admin subject. Handlers downstream can rely on requestcontext.AdminSubject
// being non-empty.
type Gate struct {
	signingKey []byte
	keyHash    string // bcrypt hash of the static operator key, optional
	logger     *slog.Logger
}

// NewGate constructs an admin gate. signingKey validates JWT bearer tokens;
// keyHash, when non-empty, additionally accepts a static key via
// X-Admin-Key.
func NewGate(signingKey string, keyHash string, logger *slog.Logger) *Gate {
	return &Gate{signingKey: []byte(signingKey), keyHash: keyHash, logger: logger}
}

// Require wraps a handler chain, rejecting requests without a valid admin
// credential. Rejection is 403 with no detail, matching the platform's
// admin surface elsewhere.
func (g *Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := g.authenticate(r)
		if err != nil {
			g.logger.WarnContext(r.Context(), "admin gate rejected request",
				"request_id", requestcontext.RequestID(r.Context()),
				"remote", r.RemoteAddr,
			)
			httputil.WriteError(w, err)
			return
		}
		ctx := requestcontext.WithAdmin(r.Context(), subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gate) authenticate(r *http.Request) (string, error) {
	if key := r.Header.Get("X-Admin-Key"); key != "" && g.keyHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(g.keyHash), []byte(key)) == nil {
			return "operator-key", nil
		}
		return "", derrors.New(derrors.CodeForbidden, "admin role required")
	}

	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return "", derrors.New(derrors.CodeForbidden, "admin role required")
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return g.signingKey, nil
	})
	if err != nil || !parsed.Valid || claims.Role != roleAdmin {
		return "", derrors.New(derrors.CodeForbidden, "admin role required")
	}
	return claims.Subject, nil
}
