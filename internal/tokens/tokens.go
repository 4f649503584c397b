// tokens выпускает и проверяет подписанные JWT (HS256) двух видов:
// короткоживущие access-токены и долгоживущие refresh-токены.
//
// Основные аспекты:
//   - вид токена зашит в claim "typ" и проверяется после подписи и срока,
//     поэтому access-токен не принимается как refresh и наоборот;
//   - refresh-токен несёт TokenVersion пользователя ("ver"): увеличение версии
//     отзывает все ранее выданные refresh-токены;
//   - при включённой ротации каждый refresh-токен одноразовый: его jti
//     фиксируется в журнале и атомарно отзывается при обмене на новую пару;
//   - подпись всегда текущим секретом, проверка — текущим и прежними.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pribylovaa/accounts-auth/internal/config"
	"github.com/pribylovaa/accounts-auth/internal/models"
	"github.com/pribylovaa/accounts-auth/internal/pkg/log"
	"github.com/pribylovaa/accounts-auth/internal/storage"
)

var (
	// ErrTokenInvalid — токен повреждён, подписан чужим ключом, другого вида
	// или ссылается на несуществующего пользователя/запись журнала.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenExpired — подпись верна, но срок действия истёк.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked — токен отозван (смена версии, ротация или logout).
	ErrTokenRevoked = errors.New("token revoked")
)

const leeway = 5 * time.Second

type tokenClaims struct {
	Kind    models.TokenKind `json:"typ"`
	Role    string           `json:"role,omitempty"`
	Version int64            `json:"ver,omitempty"`
	jwt.RegisteredClaims
}

// Service выпускает и проверяет токены. Безопасен для конкурентного использования.
type Service struct {
	cfg     config.AuthConfig
	users   storage.UserStorage
	ledger  storage.RefreshTokenStorage // nil, если ротация выключена
	signKey []byte
	keys    jwt.VerificationKeySet
	now     func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New создаёт Service. ledger игнорируется при cfg.StatelessRefresh.
func New(cfg config.AuthConfig, users storage.UserStorage, ledger storage.RefreshTokenStorage, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		users:   users,
		ledger:  ledger,
		signKey: []byte(cfg.SigningSecret),
		now:     func() time.Time { return time.Now().UTC() },
	}
	if cfg.StatelessRefresh {
		s.ledger = nil
	}

	s.keys.Keys = append(s.keys.Keys, s.signKey)
	for _, prev := range cfg.PreviousSecrets {
		if prev != "" {
			s.keys.Keys = append(s.keys.Keys, []byte(prev))
		}
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Rotation сообщает, ведётся ли журнал одноразовых refresh-токенов.
func (s *Service) Rotation() bool { return s.ledger != nil }

// IssueAccessToken выпускает access-токен с ролью пользователя.
func (s *Service) IssueAccessToken(userID uuid.UUID, role models.Role) (string, time.Time, error) {
	const op = "tokens.IssueAccessToken"

	now := s.now()
	claims := tokenClaims{
		Kind:             models.TokenKindAccess,
		Role:             role.String(),
		RegisteredClaims: s.registered(userID, now, s.cfg.AccessTokenTTL),
	}

	signed, err := s.sign(claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return signed, claims.ExpiresAt.Time, nil
}

// IssueRefreshToken выпускает refresh-токен с версией пользователя.
// При включённой ротации jti токена записывается в журнал.
func (s *Service) IssueRefreshToken(ctx context.Context, userID uuid.UUID, version int64) (string, time.Time, error) {
	const op = "tokens.IssueRefreshToken"

	lg := log.From(ctx)

	now := s.now()
	jti := uuid.New()
	claims := tokenClaims{
		Kind:             models.TokenKindRefresh,
		Version:          version,
		RegisteredClaims: s.registered(userID, now, s.cfg.RefreshTokenTTL),
	}
	claims.ID = jti.String()

	signed, err := s.sign(claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	if s.ledger != nil {
		rec := &models.RefreshToken{
			TokenID:   jti,
			UserID:    userID,
			IssuedAt:  now,
			ExpiresAt: claims.ExpiresAt.Time,
		}
		if err := s.ledger.SaveRefreshToken(ctx, rec); err != nil {
			lg.Error("save_refresh_token_failed",
				slog.String("op", op),
				slog.String("user_id", userID.String()),
				slog.String("err", err.Error()),
			)
			return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	return signed, claims.ExpiresAt.Time, nil
}

// IssuePair выпускает пару access/refresh для пользователя.
func (s *Service) IssuePair(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	const op = "tokens.IssuePair"

	access, accessExp, err := s.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	refresh, refreshExp, err := s.IssueRefreshToken(ctx, user.ID, user.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Verify проверяет токен: сначала подпись, затем срок, затем вид.
func (s *Service) Verify(token string, kind models.TokenKind) (*models.Claims, error) {
	const op = "tokens.Verify"

	var tc tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &tc,
		func(*jwt.Token) (interface{}, error) { return s.keys, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(leeway),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience...),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return nil, fmt.Errorf("%s: %w: %v", op, ErrTokenInvalid, err)
	}

	if !parsed.Valid || tc.Kind != kind {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}

	uid, err := uuid.Parse(tc.Subject)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}

	claims := &models.Claims{
		UserID:  uid,
		Kind:    tc.Kind,
		Version: tc.Version,
	}
	if tc.IssuedAt != nil {
		claims.IssuedAt = tc.IssuedAt.Time.UTC()
	}
	claims.ExpiresAt = tc.ExpiresAt.Time.UTC()

	switch kind {
	case models.TokenKindAccess:
		role, err := models.ParseRole(tc.Role)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
		}
		claims.Role = role
	case models.TokenKindRefresh:
		if tc.ID != "" {
			jti, err := uuid.Parse(tc.ID)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
			}
			claims.TokenID = jti
		}
	}

	return claims, nil
}

// Refresh обменивает refresh-токен на новую пару.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	const op = "tokens.Refresh"

	lg := log.From(ctx)

	claims, err := s.Verify(refreshToken, models.TokenKindRefresh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.users.UserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("refresh_user_not_found",
				slog.String("op", op),
				slog.String("user_id", claims.UserID.String()),
			)
			return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if claims.Version != user.TokenVersion {
		lg.Warn("refresh_version_mismatch",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrTokenRevoked)
	}

	if s.ledger != nil {
		if err := s.revoke(ctx, claims); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	pair, err := s.IssuePair(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return pair, nil
}

// Revoke отзывает предъявленный refresh-токен (logout).
// Без журнала отдельный токен отозвать нельзя: вызов только проверяет токен.
func (s *Service) Revoke(ctx context.Context, refreshToken string) error {
	const op = "tokens.Revoke"

	claims, err := s.Verify(refreshToken, models.TokenKindRefresh)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if s.ledger == nil {
		return nil
	}

	if err := s.revoke(ctx, claims); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Service) revoke(ctx context.Context, claims *models.Claims) error {
	lg := log.From(ctx)

	ok, err := s.ledger.RevokeRefreshToken(ctx, claims.TokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrTokenInvalid
		}

		lg.Error("refresh_revoke_failed",
			slog.String("user_id", claims.UserID.String()),
			slog.String("err", err.Error()),
		)
		return err
	}

	if !ok {
		// Повторное предъявление уже обменянного токена.
		lg.Warn("refresh_revoked",
			slog.String("user_id", claims.UserID.String()),
			slog.String("jti", claims.TokenID.String()),
		)
		return ErrTokenRevoked
	}

	return nil
}

func (s *Service) registered(userID uuid.UUID, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    s.cfg.Issuer,
		Subject:   userID.String(),
		Audience:  jwt.ClaimStrings(s.cfg.Audience),
	}
}

func (s *Service) sign(claims tokenClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
}
