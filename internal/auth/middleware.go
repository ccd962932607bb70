package auth

import (
	"context"
	"fmt"
	"net/http"

	"ms-turnos/internal/apperr"
	"ms-turnos/internal/logger"
	"ms-turnos/internal/models"
	"ms-turnos/internal/utils"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Middleware rejects requests without a valid bearer token and stores the
// token subject as the user id. Rejected tokens are logged as security events.
func Middleware(v Verifier, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				utils.WriteError(w, http.StatusUnauthorized, "Authorization required", err.Error())
				return
			}

			userID, err := v.Verify(r.Context(), rawToken)
			if err != nil {
				log.LogSecurity("TOKEN_REJECTED", fmt.Sprintf("%s %s from %s: %v", r.Method, r.URL.Path, r.RemoteAddr, err))
				utils.WriteError(w, http.StatusUnauthorized, "Invalid token", err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// UserID returns the authenticated user id, or "" outside Middleware.
func UserID(ctx context.Context) string {
	if uid, ok := ctx.Value(userIDKey).(string); ok {
		return uid
	}
	return ""
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

type UserLookup interface {
	ByID(ctx context.Context, id string) (*models.User, error)
}

// RequireStaff lets through only users whose directory role is staff.
// It must run after Middleware.
func RequireStaff(users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := UserID(r.Context())
			if userID == "" {
				utils.WriteError(w, http.StatusUnauthorized, "Authorization required", "no authenticated user")
				return
			}

			user, err := users.ByID(r.Context(), userID)
			if apperr.IsKind(err, apperr.NotFound) {
				utils.WriteError(w, http.StatusForbidden, "Staff only", "unknown user")
				return
			}
			if err != nil {
				utils.WriteError(w, http.StatusInternalServerError, "Failed to resolve user", err.Error())
				return
			}
			if !user.IsStaff() {
				utils.WriteError(w, http.StatusForbidden, "Staff only", "user is not staff")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
