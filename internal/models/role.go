package models

import (
	"errors"
	"strings"
)

// ErrUnknownRole — строка не соответствует ни одной роли.
var ErrUnknownRole = errors.New("unknown role")

// Role — уровень доступа пользователя. Набор значений закрыт:
// новые роли добавляются только сюда вместе с их рангом.
type Role uint8

const (
	// RoleUnknown — нулевое значение, не удовлетворяет никаким требованиям.
	RoleUnknown Role = iota
	RoleUser
	RoleAdmin
)

// String возвращает каноническое строковое представление роли.
func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Valid сообщает, является ли роль одной из известных.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Satisfies сообщает, покрывает ли роль требуемую.
// admin удовлетворяет любому требованию, user только требованию user.
func (r Role) Satisfies(required Role) bool {
	if !r.Valid() || !required.Valid() {
		return false
	}

	return r.rank() >= required.rank()
}

func (r Role) rank() int {
	switch r {
	case RoleAdmin:
		return 2
	case RoleUser:
		return 1
	default:
		return 0
	}
}

// ParseRole разбирает строковое представление роли (без учёта регистра).
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return RoleUser, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return RoleUnknown, ErrUnknownRole
	}
}
