// storage описывает контракты хранилищ сервиса и общие ошибки.
// Реализации: postgres (основная), memory (локальный запуск и тесты),
// redis (только одноразовые коды).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/accounts-auth/internal/models"
)

var (
	// ErrNotFound — запись не найдена (пользователь/код/refresh-токен).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (email/id/jti).
	ErrAlreadyExists = errors.New("already exists")
	// ErrExpired — одноразовый код просрочен.
	ErrExpired = errors.New("expired")
	// ErrAlreadyUsed — одноразовый код уже погашен.
	ErrAlreadyUsed = errors.New("already used")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создает нового пользователя.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByEmail находит пользователя по email (без учёта регистра).
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// UpdateUser атомарно применяет изменения и возвращает обновлённую запись.
	UpdateUser(ctx context.Context, id uuid.UUID, upd models.UserUpdate) (*models.User, error)
	// ListUsers возвращает страницу пользователей, упорядоченных по дате создания.
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error)
	// DeleteUser удаляет пользователя.
	DeleteUser(ctx context.Context, id uuid.UUID) error
}

// CodeStorage выполняет операции над одноразовыми кодами.
type CodeStorage interface {
	// SaveCode сохраняет код и в той же операции удаляет все непогашенные
	// коды пользователя с тем же назначением.
	SaveCode(ctx context.Context, code *models.OneTimeCode) error
	// ConsumeCode атомарно находит код по хэшу и назначению и помечает погашенным.
	// Ошибки: ErrNotFound, ErrAlreadyUsed (приоритетнее истечения), ErrExpired.
	ConsumeCode(ctx context.Context, hash string, purpose models.CodePurpose, now time.Time) (*models.OneTimeCode, error)
	// InvalidateCodes удаляет непогашенные коды пользователя с данным назначением.
	InvalidateCodes(ctx context.Context, userID uuid.UUID, purpose models.CodePurpose) error
	// DeleteStaleCodes удаляет коды, истёкшие раньше before.
	DeleteStaleCodes(ctx context.Context, before time.Time) error
}

// RefreshTokenStorage выполняет операции над журналом refresh-токенов.
type RefreshTokenStorage interface {
	// SaveRefreshToken сохраняет запись о выданном refresh-токене.
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// RevokeRefreshToken отзывает токен, если он ещё активен.
	// Возвращает:
	//
	//	(true, nil)  — токен был активен и отозван сейчас;
	//	(false, nil) — токен уже был отозван;
	//	(false, ErrNotFound) — токен не найден.
	RevokeRefreshToken(ctx context.Context, id uuid.UUID) (bool, error)
	// DeleteExpiredTokens удаляет все просроченные токены.
	DeleteExpiredTokens(ctx context.Context, now time.Time) error
}

// Storage задает контракт основного хранилища.
type Storage interface {
	UserStorage
	CodeStorage
	RefreshTokenStorage
	Close()
}
