package models

import (
	"time"

	"github.com/google/uuid"
)

// User — учётная запись пользователя.
//
// Состояния учётной записи: pendingVerification (IsVerified=false) -> verified.
// TokenVersion — счётчик, увеличение которого отзывает все ранее выпущенные
// refresh-токены пользователя (см. tokens.Service.Refresh).
type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	IsVerified   bool
	Role         Role
	TokenVersion int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile — отображаемые атрибуты, передаваемые при регистрации.
type Profile struct {
	Name string
}

// UserUpdate — набор изменяемых полей пользователя.
// nil-поля не изменяются; BumpTokenVersion увеличивает TokenVersion на 1
// в том же атомарном обновлении.
type UserUpdate struct {
	Name             *string
	PasswordHash     *string
	IsVerified       *bool
	Role             *Role
	BumpTokenVersion bool
}

// Empty сообщает, что обновление ничего не меняет.
func (u UserUpdate) Empty() bool {
	return u.Name == nil && u.PasswordHash == nil && u.IsVerified == nil && u.Role == nil && !u.BumpTokenVersion
}
