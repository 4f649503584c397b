package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/accounts-auth/internal/models"
	"github.com/pribylovaa/accounts-auth/internal/storage"
)

// SaveRefreshToken сохраняет запись о выданном refresh-токене.
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.memory.SaveRefreshToken"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[token.UserID]; !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if _, ok := s.refresh[token.TokenID]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	s.refresh[token.TokenID] = *token

	return nil
}

// RevokeRefreshToken отзывает токен, если он ещё активен.
func (s *Storage) RevokeRefreshToken(ctx context.Context, id uuid.UUID) (bool, error) {
	const op = "storage.memory.RevokeRefreshToken"

	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.refresh[id]
	if !ok {
		return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if token.Revoked {
		return false, nil
	}

	token.Revoked = true
	s.refresh[id] = token

	return true, nil
}

// DeleteExpiredTokens удаляет все просроченные токены.
func (s *Storage) DeleteExpiredTokens(ctx context.Context, now time.Time) error {
	const op = "storage.memory.DeleteExpiredTokens"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.refresh {
		if !t.ExpiresAt.After(now) {
			delete(s.refresh, id)
		}
	}

	return nil
}
