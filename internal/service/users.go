package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/pribylovaa/accounts-auth/internal/models"
	"github.com/pribylovaa/accounts-auth/internal/pkg/log"
	"github.com/pribylovaa/accounts-auth/internal/storage"
)

// ProfileUpdate — изменения профиля, которые пользователь вносит сам.
// Смена пароля требует текущий пароль и отзывает refresh-токены.
type ProfileUpdate struct {
	Name            *string
	Password        *string
	CurrentPassword string
}

// AdminUpdate — изменения, доступные администратору.
type AdminUpdate struct {
	Name       *string
	Role       *models.Role
	IsVerified *bool
}

// Profile возвращает профиль текущего пользователя.
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	const op = "service.users.Profile"

	user, err := s.users.UserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapNotFound(err))
	}

	return user, nil
}

// UpdateProfile обновляет имя и/или пароль текущего пользователя.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, in ProfileUpdate) (*models.User, error) {
	const op = "service.users.UpdateProfile"

	if in.Name == nil && in.Password == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyUpdate)
	}

	var upd models.UserUpdate
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		upd.Name = &name
	}

	if in.Password != nil {
		if err := s.validatePassword(*in.Password); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		user, err := s.users.UserByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, mapNotFound(err))
		}

		if in.CurrentPassword == "" || !s.hasher.Verify(in.CurrentPassword, user.PasswordHash) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		hash, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		upd.PasswordHash = &hash
		upd.BumpTokenVersion = true
	}

	user, err := s.users.UpdateUser(ctx, userID, upd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapNotFound(err))
	}

	if upd.PasswordHash != nil {
		log.From(ctx).Info("password_changed",
			slog.String("op", op),
			slog.String("user_id", userID.String()),
		)
	}

	return user, nil
}

// ListUsers возвращает страницу пользователей. limit ограничивается [1, 100].
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error) {
	const op = "service.users.ListUsers"

	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	users, err := s.users.ListUsers(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return users, nil
}

// User возвращает пользователя по ID.
func (s *Service) User(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "service.users.User"

	user, err := s.users.UserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapNotFound(err))
	}

	return user, nil
}

// UpdateUser применяет административные изменения.
// Смена роли увеличивает TokenVersion: пользователь должен войти заново.
func (s *Service) UpdateUser(ctx context.Context, id uuid.UUID, in AdminUpdate) (*models.User, error) {
	const op = "service.users.UpdateUser"

	if in.Name == nil && in.Role == nil && in.IsVerified == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyUpdate)
	}

	upd := models.UserUpdate{IsVerified: in.IsVerified}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		upd.Name = &name
	}
	if in.Role != nil {
		if !in.Role.Valid() {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidRole)
		}
		upd.Role = in.Role
		upd.BumpTokenVersion = true
	}

	user, err := s.users.UpdateUser(ctx, id, upd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapNotFound(err))
	}

	log.From(ctx).Info("user_updated",
		slog.String("op", op),
		slog.String("user_id", id.String()),
	)

	return user, nil
}

// DeleteUser удаляет пользователя. Refresh-токены удаляются хранилищем каскадно,
// непогашенные коды дополнительно аннулируются в хранилище кодов.
func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID) error {
	const op = "service.users.DeleteUser"

	lg := log.From(ctx)

	if err := s.users.DeleteUser(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", op, mapNotFound(err))
	}

	// Хранилище кодов может быть отдельным (redis) и не знать об удалении.
	for _, purpose := range []models.CodePurpose{models.PurposeEmailConfirmation, models.PurposePasswordReset} {
		if err := s.codes.Invalidate(ctx, id, purpose); err != nil {
			lg.Warn("codes_invalidate_failed",
				slog.String("op", op),
				slog.String("user_id", id.String()),
				slog.String("purpose", string(purpose)),
				slog.String("err", err.Error()),
			)
		}
	}

	lg.Info("user_deleted",
		slog.String("op", op),
		slog.String("user_id", id.String()),
	)

	return nil
}

func mapNotFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}

	return err
}
