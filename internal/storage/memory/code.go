package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/accounts-auth/internal/models"
	"github.com/pribylovaa/accounts-auth/internal/storage"
)

// SaveCode сохраняет код, удаляя непогашенные коды пользователя с тем же назначением.
func (s *Storage) SaveCode(ctx context.Context, code *models.OneTimeCode) error {
	const op = "storage.memory.SaveCode"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[code.UserID]; !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if _, ok := s.codes[code.CodeHash]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	s.invalidateLocked(code.UserID, code.Purpose)
	s.codes[code.CodeHash] = *code

	return nil
}

// ConsumeCode атомарно гасит код.
func (s *Storage) ConsumeCode(ctx context.Context, hash string, purpose models.CodePurpose, now time.Time) (*models.OneTimeCode, error) {
	const op = "storage.memory.ConsumeCode"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.codes[hash]
	if !ok || code.Purpose != purpose {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if code.Consumed() {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrAlreadyUsed)
	}
	if code.Expired(now) {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrExpired)
	}

	consumedAt := now
	code.ConsumedAt = &consumedAt
	s.codes[hash] = code

	return &code, nil
}

// InvalidateCodes удаляет непогашенные коды пользователя с данным назначением.
func (s *Storage) InvalidateCodes(ctx context.Context, userID uuid.UUID, purpose models.CodePurpose) error {
	const op = "storage.memory.InvalidateCodes"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.invalidateLocked(userID, purpose)

	return nil
}

// DeleteStaleCodes удаляет коды, истёкшие раньше before.
func (s *Storage) DeleteStaleCodes(ctx context.Context, before time.Time) error {
	const op = "storage.memory.DeleteStaleCodes"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for h, c := range s.codes {
		if c.ExpiresAt.Before(before) {
			delete(s.codes, h)
		}
	}

	return nil
}

func (s *Storage) invalidateLocked(userID uuid.UUID, purpose models.CodePurpose) {
	for h, c := range s.codes {
		if c.UserID == userID && c.Purpose == purpose && !c.Consumed() {
			delete(s.codes, h)
		}
	}
}

// OutstandingCodes возвращает число непогашенных кодов пользователя с данным назначением.
// Нужен тестам, проверяющим отсутствие мутаций хранилища.
func (s *Storage) OutstandingCodes(userID uuid.UUID, purpose models.CodePurpose) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, c := range s.codes {
		if c.UserID == userID && c.Purpose == purpose && !c.Consumed() {
			n++
		}
	}

	return n
}

// CodeCount возвращает общее число хранимых кодов.
func (s *Storage) CodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.codes)
}
