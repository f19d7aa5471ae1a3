package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/stocktransfer/internal/identity"
	"github.com/odyssey-erp/stocktransfer/internal/platform/httpx"
)

// ActorLookup resolves a user's assignment within a company.
type ActorLookup interface {
	Lookup(ctx context.Context, companyID, userID int64) (identity.Actor, error)
}

// Middleware validates the bearer token and stores the resolved actor in
// the request context.
func Middleware(secret string, lookup ActorLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
				return
			}
			claims, err := ValidateToken(secret, strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
				return
			}
			actor, err := lookup.Lookup(r.Context(), claims.CompanyID, claims.UserID)
			if errors.Is(err, identity.ErrActorNotFound) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "no assignment in company")
				return
			}
			if err != nil {
				logger.Error("resolve actor", slog.Int64("user_id", claims.UserID), slog.Any("error", err))
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithActor(r.Context(), actor)))
		})
	}
}
