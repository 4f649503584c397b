// service содержит бизнес-логику сервиса учётных записей:
// регистрацию, подтверждение e-mail, вход, сброс пароля, обновление сессии
// и администрирование пользователей.
//
// Основные аспекты:
//   - Service не хранит состояние запроса и безопасен для конкурентного
//     использования при потокобезопасных зависимостях;
//   - ошибки возвращаются как sentinel-значения этого пакета и пакетов
//     codes/tokens, транспорт маппит их на HTTP-статусы;
//   - потоки, чувствительные к перечислению аккаунтов (RequestConfirmation,
//     RequestPasswordReset), не сообщают, существует ли e-mail;
//   - отправка писем не влияет на результат операции: сбои только логируются.
package service

import (
	"errors"
	"strings"
	"time"

	"github.com/pribylovaa/accounts-auth/internal/codes"
	"github.com/pribylovaa/accounts-auth/internal/hasher"
	"github.com/pribylovaa/accounts-auth/internal/mailer"
	"github.com/pribylovaa/accounts-auth/internal/storage"
	"github.com/pribylovaa/accounts-auth/internal/tokens"
)

var (
	// ErrInvalidCredentials — пара логин/пароль неверна или пользователь не найден.
	// Транспорт: HTTP 401.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailAlreadyRegistered — e-mail уже занят другим пользователем.
	// Транспорт: HTTP 409.
	ErrEmailAlreadyRegistered = errors.New("email already registered")

	// ErrEmailNotVerified — пароль верен, но e-mail не подтверждён.
	// Транспорт: HTTP 403.
	ErrEmailNotVerified = errors.New("email not verified")

	// ErrInvalidEmail — e-mail имеет некорректный формат.
	// Транспорт: HTTP 400.
	ErrInvalidEmail = errors.New("invalid email format")

	// ErrWeakPassword — пароль не удовлетворяет политикам сложности.
	// Транспорт: HTTP 400.
	ErrWeakPassword = errors.New("password is too weak")

	// ErrPasswordTooLong — пароль длиннее hasher.MaxPasswordBytes.
	// Транспорт: HTTP 400.
	ErrPasswordTooLong = errors.New("password is too long")

	// ErrEmptyPassword — пароль пустой.
	// Транспорт: HTTP 400.
	ErrEmptyPassword = errors.New("password is empty")

	// ErrInvalidRole — неизвестная роль в административном обновлении.
	// Транспорт: HTTP 400.
	ErrInvalidRole = errors.New("invalid role")

	// ErrEmptyUpdate — в запросе на обновление нет ни одного поля.
	// Транспорт: HTTP 400.
	ErrEmptyUpdate = errors.New("nothing to update")

	// ErrNotFound — пользователь не найден (профиль/администрирование).
	// Транспорт: HTTP 404.
	ErrNotFound = errors.New("user not found")
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PasswordPolicy — требования к новому паролю.
// Нулевое значение требует только непустой пароль. Strict добавляет
// проверку классов символов: строчная и заглавная буква, цифра, спецсимвол.
type PasswordPolicy struct {
	MinLength int
	Strict    bool
}

// Deps — зависимости Service.
type Deps struct {
	Users     storage.UserStorage
	Tokens    *tokens.Service
	Codes     *codes.Service
	Hasher    hasher.Hasher
	Mailer    mailer.Mailer
	Passwords PasswordPolicy
}

// Service описывает бизнес-логику сервиса.
type Service struct {
	users   storage.UserStorage
	tokens  *tokens.Service
	codes   *codes.Service
	hasher  hasher.Hasher
	mailer  mailer.Mailer
	policy  PasswordPolicy
	baseURL string
	now     func() time.Time
}

// New создаёт новый экземпляр Service.
// baseURL — адрес клиентского приложения для ссылок в письмах.
func New(d Deps, baseURL string) *Service {
	return &Service{
		users:   d.Users,
		tokens:  d.Tokens,
		codes:   d.Codes,
		hasher:  d.Hasher,
		mailer:  d.Mailer,
		policy:  d.Passwords,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}
