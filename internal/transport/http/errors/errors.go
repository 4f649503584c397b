// errors стандартизирует ответы об ошибках HTTP-слоя.
// На вход принимается ошибка сервисного слоя, на выход даётся:
//   - корректный HTTP-статус;
//   - короткий стабильный код для машиночитаемой обработки;
//   - безопасное message без утечки внутренних деталей.
//
// Источник истинности по маппингу: sentinel-ошибки пакетов service,
// codes, tokens и access.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/pribylovaa/accounts-auth/internal/access"
	"github.com/pribylovaa/accounts-auth/internal/codes"
	"github.com/pribylovaa/accounts-auth/internal/service"
	"github.com/pribylovaa/accounts-auth/internal/tokens"
)

// Нестандартный код, часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

// ErrInvalidArgument — тело или параметры запроса не разобраны.
var ErrInvalidArgument = errors.New("invalid argument")

// APIError — единый формат ошибки для клиентов.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse — корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

type mapping struct {
	target  error
	status  int
	code    string
	message string
}

// Порядок важен: ошибки токенов проверяются раньше access.ErrUnauthenticated,
// который оборачивает их в Guard.
var table = []mapping{
	{ErrInvalidArgument, http.StatusBadRequest, "invalid_argument", "invalid argument"},
	{service.ErrInvalidEmail, http.StatusBadRequest, "invalid_email", "invalid email format"},
	{service.ErrEmptyPassword, http.StatusBadRequest, "empty_password", "password is empty"},
	{service.ErrWeakPassword, http.StatusBadRequest, "weak_password", "password is too weak"},
	{service.ErrPasswordTooLong, http.StatusBadRequest, "password_too_long", "password is too long"},
	{service.ErrInvalidRole, http.StatusBadRequest, "invalid_role", "invalid role"},
	{service.ErrEmptyUpdate, http.StatusBadRequest, "empty_update", "nothing to update"},
	{codes.ErrCodeInvalid, http.StatusBadRequest, "code_invalid", "code is invalid"},
	{codes.ErrCodeExpired, http.StatusBadRequest, "code_expired", "code has expired"},
	{codes.ErrCodeAlreadyUsed, http.StatusBadRequest, "code_already_used", "code has already been used"},
	{service.ErrEmailAlreadyRegistered, http.StatusConflict, "email_already_registered", "email already registered"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "invalid credentials"},
	{tokens.ErrTokenExpired, http.StatusUnauthorized, "token_expired", "token has expired"},
	{tokens.ErrTokenRevoked, http.StatusUnauthorized, "token_revoked", "token has been revoked"},
	{tokens.ErrTokenInvalid, http.StatusUnauthorized, "token_invalid", "token is invalid"},
	{access.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated", "unauthenticated"},
	{service.ErrEmailNotVerified, http.StatusForbidden, "email_not_verified", "email is not verified"},
	{access.ErrForbidden, http.StatusForbidden, "forbidden", "permission denied"},
	{service.ErrNotFound, http.StatusNotFound, "not_found", "not found"},
	{context.Canceled, StatusClientClosedRequest, "canceled", "canceled"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "deadline_exceeded", "deadline exceeded"},
}

// ToHTTP конвертирует ошибку в HTTP-статус и унифицированный ответ.
//
// Поведение:
//   - err == nil — программная ошибка вызова: 500/internal, чтобы не
//     отправить "200 OK" с телом ошибки;
//   - validation.Errors (ozzo) — 400/invalid_argument с перечнем полей;
//   - известные sentinel-ошибки — по таблице;
//   - прочее — 500/internal без деталей.
func ToHTTP(err error) (int, ErrorResponse) {
	if err == nil {
		return internal()
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		return http.StatusBadRequest, ErrorResponse{
			Error: APIError{Code: "invalid_argument", Message: verrs.Error()},
		}
	}

	for _, m := range table {
		if errors.Is(err, m.target) {
			return m.status, ErrorResponse{
				Error: APIError{Code: m.code, Message: m.message},
			}
		}
	}

	return internal()
}

// WriteError пишет статус и тело ошибки, добавляя request_id из заголовка.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func internal() (int, ErrorResponse) {
	return http.StatusInternalServerError, ErrorResponse{
		Error: APIError{Code: "internal", Message: "internal error"},
	}
}
