// codes выпускает и гасит одноразовые коды подтверждения e-mail и сброса пароля.
//
// Открытое значение кода — 32 случайных байта в base64url; в хранилище
// попадает только sha256-хэш. Выпуск нового кода атомарно аннулирует
// непогашенный код того же пользователя с тем же назначением.
package codes

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/accounts-auth/internal/config"
	"github.com/pribylovaa/accounts-auth/internal/models"
	"github.com/pribylovaa/accounts-auth/internal/pkg/log"
	"github.com/pribylovaa/accounts-auth/internal/storage"
)

var (
	// ErrCodeInvalid — код неизвестен, выпущен для другого назначения или аннулирован.
	ErrCodeInvalid = errors.New("code invalid")

	// ErrCodeExpired — код существует, но срок его действия истёк.
	ErrCodeExpired = errors.New("code expired")

	// ErrCodeAlreadyUsed — код уже погашен.
	ErrCodeAlreadyUsed = errors.New("code already used")

	// ErrCodeCollision — исчерпаны попытки сгенерировать уникальный код.
	ErrCodeCollision = errors.New("code collision")
)

const (
	codeBytes   = 32
	maxAttempts = 5
)

// Service — выпуск и погашение одноразовых кодов.
type Service struct {
	store      storage.CodeStorage
	confirmTTL time.Duration
	resetTTL   time.Duration
	retention  time.Duration
	now        func() time.Time
	rand       io.Reader
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRand подменяет источник случайных байт.
func WithRand(r io.Reader) Option {
	return func(s *Service) { s.rand = r }
}

// New создаёт Service поверх хранилища кодов.
func New(store storage.CodeStorage, cfg config.CodesConfig, opts ...Option) *Service {
	s := &Service{
		store:      store,
		confirmTTL: cfg.ConfirmTTL,
		resetTTL:   cfg.ResetTTL,
		retention:  cfg.Retention,
		now:        func() time.Time { return time.Now().UTC() },
		rand:       rand.Reader,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// TTL возвращает срок действия кода для назначения.
func (s *Service) TTL(purpose models.CodePurpose) time.Duration {
	if purpose == models.PurposePasswordReset {
		return s.resetTTL
	}

	return s.confirmTTL
}

// Issue выпускает код для пользователя и возвращает его открытое значение.
func (s *Service) Issue(ctx context.Context, userID uuid.UUID, purpose models.CodePurpose) (string, error) {
	const op = "codes.Issue"

	lg := log.From(ctx)

	if !purpose.Valid() {
		return "", fmt.Errorf("%s: unknown purpose %q", op, purpose)
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		b := make([]byte, codeBytes)
		if _, err := io.ReadFull(s.rand, b); err != nil {
			lg.Error("code_rand_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", fmt.Errorf("%s: %w", op, err)
		}
		plain := base64.RawURLEncoding.EncodeToString(b)

		now := s.now()
		code := &models.OneTimeCode{
			CodeHash:  Hash(plain),
			UserID:    userID,
			Purpose:   purpose,
			ExpiresAt: now.Add(s.TTL(purpose)),
			CreatedAt: now,
		}

		if err := s.store.SaveCode(ctx, code); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				// Редкая коллизия: генерируем заново.
				continue
			}

			lg.Error("save_code_failed",
				slog.String("op", op),
				slog.String("purpose", string(purpose)),
				slog.String("err", err.Error()),
			)
			return "", fmt.Errorf("%s: %w", op, err)
		}

		return plain, nil
	}

	lg.Error("code_collision_exceeded", slog.String("op", op))

	return "", fmt.Errorf("%s: %w", op, ErrCodeCollision)
}

// Redeem гасит код и возвращает идентификатор пользователя.
// Погашенный код отвечает ErrCodeAlreadyUsed даже после истечения.
func (s *Service) Redeem(ctx context.Context, code string, purpose models.CodePurpose) (uuid.UUID, error) {
	const op = "codes.Redeem"

	if code == "" || !purpose.Valid() {
		return uuid.Nil, fmt.Errorf("%s: %w", op, ErrCodeInvalid)
	}

	otc, err := s.store.ConsumeCode(ctx, Hash(code), purpose, s.now())
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return uuid.Nil, fmt.Errorf("%s: %w", op, ErrCodeInvalid)
		case errors.Is(err, storage.ErrExpired):
			return uuid.Nil, fmt.Errorf("%s: %w", op, ErrCodeExpired)
		case errors.Is(err, storage.ErrAlreadyUsed):
			return uuid.Nil, fmt.Errorf("%s: %w", op, ErrCodeAlreadyUsed)
		}

		log.From(ctx).Error("consume_code_failed",
			slog.String("op", op),
			slog.String("purpose", string(purpose)),
			slog.String("err", err.Error()),
		)
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	return otc.UserID, nil
}

// Invalidate аннулирует непогашенные коды пользователя с данным назначением.
func (s *Service) Invalidate(ctx context.Context, userID uuid.UUID, purpose models.CodePurpose) error {
	const op = "codes.Invalidate"

	if err := s.store.InvalidateCodes(ctx, userID, purpose); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Cleanup удаляет коды, истёкшие раньше now - retention.
func (s *Service) Cleanup(ctx context.Context) error {
	const op = "codes.Cleanup"

	if err := s.store.DeleteStaleCodes(ctx, s.now().Add(-s.retention)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Hash возвращает sha256-хэш кода в base64url, он же ключ хранения.
func Hash(code string) string {
	sum := sha256.Sum256([]byte(code))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
