package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/pribylovaa/accounts-auth/internal/hasher"
	"github.com/pribylovaa/accounts-auth/internal/mailer"
	"github.com/pribylovaa/accounts-auth/internal/models"
	"github.com/pribylovaa/accounts-auth/internal/pkg/log"
	"github.com/pribylovaa/accounts-auth/internal/pkg/redact"
	"github.com/pribylovaa/accounts-auth/internal/storage"
)

// Register регистрирует нового пользователя и отправляет код подтверждения e-mail.
// Сбой выпуска кода или постановки письма в очередь не отменяет регистрацию.
func (s *Service) Register(ctx context.Context, email, password string, profile models.Profile) (*models.User, error) {
	const op = "service.auth.Register"

	normEmail, err := validateEmail(email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	if err := s.validatePassword(password); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.users.UserByEmail(ctx, normEmail)
	if err == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrEmailAlreadyRegistered)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	user := &models.User{
		ID:           uuid.New(),
		Email:        normEmail,
		Name:         strings.TrimSpace(profile.Name),
		PasswordHash: hash,
		IsVerified:   false,
		Role:         models.RoleUser,
		TokenVersion: 0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrEmailAlreadyRegistered)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("user_registered",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
		slog.String("email", redact.Email(user.Email)),
	)

	s.sendCode(ctx, user, models.PurposeEmailConfirmation)

	return user, nil
}

// Confirm гасит код подтверждения и помечает e-mail подтверждённым.
// Повторное предъявление кода считается ошибкой, даже если e-mail уже подтверждён.
func (s *Service) Confirm(ctx context.Context, code string) error {
	const op = "service.auth.Confirm"

	uid, err := s.codes.Redeem(ctx, code, models.PurposeEmailConfirmation)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	verified := true
	if _, err := s.users.UpdateUser(ctx, uid, models.UserUpdate{IsVerified: &verified}); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("email_confirmed",
		slog.String("op", op),
		slog.String("user_id", uid.String()),
	)

	return nil
}

// RequestConfirmation повторно отправляет код подтверждения.
// Для некорректного, неизвестного или уже подтверждённого e-mail ничего не делает и возвращает nil.
func (s *Service) RequestConfirmation(ctx context.Context, email string) error {
	const op = "service.auth.RequestConfirmation"

	normEmail, err := validateEmail(email)
	if err != nil {
		log.From(ctx).Debug("malformed_email_ignored", slog.String("op", op))
		return nil
	}

	user, err := s.users.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if user.IsVerified {
		return nil
	}

	s.sendCode(ctx, user, models.PurposeEmailConfirmation)

	return nil
}

// Login выполняет вход по email+пароль.
// Неизвестный e-mail и неверный пароль неразличимы для вызывающего.
func (s *Service) Login(ctx context.Context, email, password string) (*models.TokenPair, error) {
	const op = "service.auth.Login"

	lg := log.From(ctx)

	normEmail, err := validateEmail(email)
	if err != nil || password == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	user, err := s.users.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Выравниваем время ответа с веткой существующего пользователя.
			s.hasher.VerifyDummy(password)
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		lg.Warn("login_failed",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if !user.IsVerified {
		return nil, fmt.Errorf("%s: %w", op, ErrEmailNotVerified)
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user, password)
	}

	pair, err := s.tokens.IssuePair(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return pair, nil
}

// RequestPasswordReset отправляет код сброса пароля, если аккаунт существует.
// Результат не зависит от существования и корректности e-mail.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	const op = "service.auth.RequestPasswordReset"

	normEmail, err := validateEmail(email)
	if err != nil {
		log.From(ctx).Debug("malformed_email_ignored", slog.String("op", op))
		return nil
	}

	user, err := s.users.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	s.sendCode(ctx, user, models.PurposePasswordReset)

	return nil
}

// ResetPassword гасит код сброса и устанавливает новый пароль.
// Новый хэш и увеличение TokenVersion записываются одним обновлением,
// что отзывает все ранее выданные refresh-токены.
func (s *Service) ResetPassword(ctx context.Context, code, newPassword string) error {
	const op = "service.auth.ResetPassword"

	lg := log.From(ctx)

	if err := s.validatePassword(newPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	uid, err := s.codes.Redeem(ctx, code, models.PurposePasswordReset)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	upd := models.UserUpdate{PasswordHash: &hash, BumpTokenVersion: true}
	if _, err := s.users.UpdateUser(ctx, uid, upd); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.codes.Invalidate(ctx, uid, models.PurposePasswordReset); err != nil {
		lg.Error("reset_codes_invalidate_failed",
			slog.String("op", op),
			slog.String("user_id", uid.String()),
			slog.String("err", err.Error()),
		)
	}

	lg.Info("password_reset",
		slog.String("op", op),
		slog.String("user_id", uid.String()),
	)

	return nil
}

// RefreshSession обменивает refresh-токен на новую пару.
func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	const op = "service.auth.RefreshSession"

	pair, err := s.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return pair, nil
}

// RevokeSession отзывает refresh-токен (logout).
func (s *Service) RevokeSession(ctx context.Context, refreshToken string) error {
	const op = "service.auth.RevokeSession"

	if err := s.tokens.Revoke(ctx, refreshToken); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// sendCode выпускает код и ставит письмо в очередь. Ошибки только логируются.
func (s *Service) sendCode(ctx context.Context, user *models.User, purpose models.CodePurpose) {
	const op = "service.auth.sendCode"

	code, err := s.codes.Issue(ctx, user.ID, purpose)
	if err != nil {
		log.From(ctx).Error("code_issue_failed",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
			slog.String("purpose", string(purpose)),
			slog.String("err", err.Error()),
		)
		return
	}

	tmpl, link := mailer.TemplateConfirmEmail, s.baseURL+"/confirm/"+url.PathEscape(code)
	if purpose == models.PurposePasswordReset {
		tmpl, link = mailer.TemplateResetPassword, s.baseURL+"/reset/"+url.PathEscape(code)
	}

	s.mailer.Send(user.Email, tmpl, map[string]any{
		"Name":      user.Name,
		"Link":      link,
		"ExpiresIn": s.codes.TTL(purpose).String(),
	})
}

// rehash перехэширует пароль текущим алгоритмом. Ошибки только логируются.
func (s *Service) rehash(ctx context.Context, user *models.User, password string) {
	const op = "service.auth.rehash"

	lg := log.From(ctx)

	hash, err := s.hasher.Hash(password)
	if err == nil {
		_, err = s.users.UpdateUser(ctx, user.ID, models.UserUpdate{PasswordHash: &hash})
	}
	if err != nil {
		lg.Error("password_rehash_failed",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
			slog.String("err", err.Error()),
		)
		return
	}

	lg.Info("password_rehashed",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
	)
}

// validateEmail проверяет базовый формат email и обрезает пробелы снаружи.
func validateEmail(raw string) (string, error) {
	const op = "service.auth.validateEmail"

	email := strings.TrimSpace(raw)
	if email == "" {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	return strings.ToLower(email), nil
}

// validatePassword проверяет пароль по настроенной политике.
// Длина сверх hasher.MaxPasswordBytes отклоняется при любой политике.
func (s *Service) validatePassword(pw string) error {
	const op = "service.auth.validatePassword"

	if len(pw) == 0 {
		return fmt.Errorf("%s: %w", op, ErrEmptyPassword)
	}

	if len(pw) > hasher.MaxPasswordBytes {
		return fmt.Errorf("%s: %w", op, ErrPasswordTooLong)
	}

	if utf8.RuneCountInString(pw) < s.policy.MinLength {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	if !s.policy.Strict {
		return nil
	}

	var hasLower, hasUpper, hasDigit, hasSpecial bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if !(hasLower && hasUpper && hasDigit && hasSpecial) {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	return nil
}
