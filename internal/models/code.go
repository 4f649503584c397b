package models

import (
	"time"

	"github.com/google/uuid"
)

// CodePurpose — назначение одноразового кода.
type CodePurpose string

const (
	PurposeEmailConfirmation CodePurpose = "email_confirmation"
	PurposePasswordReset     CodePurpose = "password_reset"
)

// Valid сообщает, является ли назначение известным.
func (p CodePurpose) Valid() bool {
	return p == PurposeEmailConfirmation || p == PurposePasswordReset
}

// OneTimeCode — одноразовый код подтверждения e-mail или сброса пароля.
// Хранится только хэш кода; открытое значение уходит пользователю письмом.
//
// Жизненный цикл: создан -> (погашен xor истёк) -> терминальное состояние.
type OneTimeCode struct {
	CodeHash   string
	UserID     uuid.UUID
	Purpose    CodePurpose
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// Consumed сообщает, был ли код уже погашен.
func (c *OneTimeCode) Consumed() bool {
	return c.ConsumedAt != nil
}

// Expired сообщает, истёк ли код к моменту now.
func (c *OneTimeCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
