package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pribylovaa/accounts-auth/internal/access"
	"github.com/pribylovaa/accounts-auth/internal/models"
	"github.com/pribylovaa/accounts-auth/internal/pkg/log"
	apierrors "github.com/pribylovaa/accounts-auth/internal/transport/http/errors"
)

// Authenticator проверяет access-токен. Реализуется access.Guard.
type Authenticator interface {
	Authenticate(token string) (*models.Claims, error)
}

// Authenticate извлекает Bearer-токен из Authorization, проверяет его
// и кладёт claims в контекст. Без валидного токена отвечает 401.
func Authenticate(a Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := a.Authenticate(bearer(r))
			if err != nil {
				log.From(r.Context()).Debug("auth_rejected", slog.String("err", err.Error()))
				apierrors.WriteError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			ctx = log.With(ctx, slog.String("user_id", claims.UserID.String()))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole пропускает запрос, только если роль из claims покрывает required.
// Должен стоять после Authenticate.
func RequireRole(required models.Role) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := access.Authorize(ClaimsFrom(r.Context()), required); err != nil {
				apierrors.WriteError(w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFrom возвращает claims аутентифицированного запроса или nil.
func ClaimsFrom(ctx context.Context) *models.Claims {
	c, _ := ctx.Value(claimsKey).(*models.Claims)
	return c
}

func bearer(r *http.Request) string {
	const prefix = "Bearer "

	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}

	return strings.TrimSpace(auth[len(prefix):])
}
