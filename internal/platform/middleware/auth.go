package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"biblio/pkg/requestcontext"
)

// Claims are the fields the auth layer resolves from a bearer token.
type Claims struct {
	UserID int64
	Role   requestcontext.Role
}

// TokenValidator verifies a bearer token and yields its claims. Satisfied by
// token.Manager.
type TokenValidator interface {
	Validate(tokenString string) (*Claims, error)
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}

// RequireAuth rejects requests without a valid bearer token and stashes the
// caller's identity in the context.
func RequireAuth(validator TokenValidator, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				log.WarnContext(ctx, "missing bearer token",
					"path", r.URL.Path, "request_id", requestcontext.RequestID(ctx))
				unauthorized(w, "missing or malformed Authorization header")
				return
			}

			claims, err := validator.Validate(token)
			if err != nil {
				log.WarnContext(ctx, "invalid bearer token",
					"error", err, "request_id", requestcontext.RequestID(ctx))
				unauthorized(w, "invalid or expired token")
				return
			}

			ctx = requestcontext.WithUserID(ctx, claims.UserID)
			ctx = requestcontext.WithRole(ctx, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole gates a subtree to staff roles. Admin passes every check.
func RequireRole(role requestcontext.Role, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			caller := requestcontext.CallerRole(ctx)
			if caller != role && caller != requestcontext.RoleAdmin {
				log.WarnContext(ctx, "forbidden",
					"required_role", string(role), "caller_role", string(caller),
					"request_id", requestcontext.RequestID(ctx))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"forbidden"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
