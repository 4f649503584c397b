package models

import (
	"time"

	"github.com/google/uuid"
)

// TokenKind — тип токена, зашитый в claims. Access-токен никогда не должен
// проходить проверку как refresh и наоборот.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Claims — проверенное содержимое токена.
type Claims struct {
	UserID    uuid.UUID
	Role      Role
	Kind      TokenKind
	Version   int64
	TokenID   uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenPair — пара токенов, выдаваемая при входе и обновлении сессии.
//
// Описание:
//   - AccessToken — короткоживущий JWT для доступа к API;
//   - RefreshToken — долгоживущий JWT для выпуска новой пары;
//   - AccessExpiresAt/RefreshExpiresAt — моменты истечения (UTC).
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// RefreshToken — запись журнала выданных refresh-токенов (по jti).
// Используется для одноразовой ротации и logout.
type RefreshToken struct {
	TokenID   uuid.UUID
	UserID    uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
}
