package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/errs"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/users"
)

type contextKey string

const PrincipalKey contextKey = "principal"

// Authenticator resolves a bearer access token into the calling principal.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (users.Principal, error)
}

// WriteError writes the JSON error body every endpoint uses: {"detail": "..."}.
func WriteError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// BearerAuth validates the access token from the Authorization header and
// stores the principal in the request context.
func BearerAuth(a Authenticator, log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				WriteError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}

			p, err := a.Authenticate(r.Context(), token)
			if err != nil {
				if !errors.Is(err, errs.ErrUnauthorized) {
					log.WithError(err).WithField("path", r.URL.Path).Error("authenticate request")
					WriteError(w, http.StatusInternalServerError, "internal server error")
					return
				}
				w.Header().Set("WWW-Authenticate", "Bearer")
				WriteError(w, http.StatusUnauthorized, "Could not validate credentials")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireAdmin rejects callers that are not administrators. Mount after BearerAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			WriteError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		if !p.IsAdmin {
			WriteError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithPrincipal(ctx context.Context, p users.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// PrincipalFrom extracts the principal from context
func PrincipalFrom(ctx context.Context) (users.Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(users.Principal)
	return p, ok
}
