// access проверяет предъявленный access-токен и уровень доступа.
// Композиция с HTTP выполняется middleware Authenticate/RequireRole.
package access

import (
	"errors"
	"fmt"

	"github.com/pribylovaa/accounts-auth/internal/models"
)

var (
	// ErrUnauthenticated — токен отсутствует или не прошёл проверку.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden — роль не покрывает требуемую.
	ErrForbidden = errors.New("forbidden")
)

// Verifier проверяет токен заданного вида. Реализуется tokens.Service.
type Verifier interface {
	Verify(token string, kind models.TokenKind) (*models.Claims, error)
}

// Guard аутентифицирует запросы по access-токену.
type Guard struct {
	verifier Verifier
}

// NewGuard создаёт Guard.
func NewGuard(v Verifier) *Guard {
	return &Guard{verifier: v}
}

// Authenticate проверяет access-токен. Любая ошибка проверки
// превращается в ErrUnauthenticated с причиной в цепочке.
func (g *Guard) Authenticate(token string) (*models.Claims, error) {
	const op = "access.Authenticate"

	if token == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}

	claims, err := g.verifier.Verify(token, models.TokenKindAccess)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrUnauthenticated, err)
	}

	return claims, nil
}

// Authorize проверяет, что роль из claims покрывает требуемую.
func Authorize(claims *models.Claims, required models.Role) error {
	const op = "access.Authorize"

	if claims == nil {
		return fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}

	if !claims.Role.Satisfies(required) {
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	return nil
}
