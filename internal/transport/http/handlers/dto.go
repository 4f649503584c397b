package handlers

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/pribylovaa/accounts-auth/internal/models"
)

const (
	maxEmailLen    = 254
	maxPasswordLen = 256
	maxNameLen     = 200
)

// RegisterRequest — тело POST /api/users.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, maxEmailLen), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(1, maxPasswordLen)),
		validation.Field(&r.Name, validation.RuneLength(0, maxNameLen)),
	)
}

// LoginRequest — тело POST /api/users/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(1, maxEmailLen)),
		validation.Field(&r.Password, validation.Required, validation.Length(1, maxPasswordLen)),
	)
}

// EmailRequest — тело POST /confirm и POST /reset.
type EmailRequest struct {
	Email string `json:"email"`
}

func (r EmailRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, maxEmailLen), is.Email),
	)
}

// ResetPasswordRequest — тело PUT /reset.
type ResetPasswordRequest struct {
	Code     string `json:"code"`
	Password string `json:"password"`
}

func (r ResetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Code, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(1, maxPasswordLen)),
	)
}

// RefreshRequest — тело POST /refresh и POST /logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (r RefreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

// UpdateProfileRequest — тело PUT /profile. Отсутствующие поля не меняются.
type UpdateProfileRequest struct {
	Name            *string `json:"name"`
	Password        *string `json:"password"`
	CurrentPassword string  `json:"current_password"`
}

func (r UpdateProfileRequest) Validate() error {
	current := []validation.Rule{validation.Length(0, maxPasswordLen)}
	if r.Password != nil {
		current = append([]validation.Rule{validation.Required}, current...)
	}

	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.RuneLength(0, maxNameLen)),
		validation.Field(&r.Password, validation.NilOrNotEmpty, validation.Length(1, maxPasswordLen)),
		validation.Field(&r.CurrentPassword, current...),
	)
}

// AdminUpdateRequest — тело PUT /api/users/{id}.
type AdminUpdateRequest struct {
	Name       *string `json:"name"`
	Role       *string `json:"role"`
	IsVerified *bool   `json:"is_verified"`
}

func (r AdminUpdateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.RuneLength(0, maxNameLen)),
		validation.Field(&r.Role, validation.NilOrNotEmpty, validation.In(models.RoleUser.String(), models.RoleAdmin.String())),
	)
}

// UserResponse — публичное представление пользователя.
type UserResponse struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Role       string    `json:"role"`
	IsVerified bool      `json:"is_verified"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func userFromModel(u *models.User) UserResponse {
	return UserResponse{
		ID:         u.ID.String(),
		Email:      u.Email,
		Name:       u.Name,
		Role:       u.Role.String(),
		IsVerified: u.IsVerified,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

// ListUsersResponse — страница пользователей.
type ListUsersResponse struct {
	Users  []UserResponse `json:"users"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// TokenPairResponse — пара токенов.
type TokenPairResponse struct {
	TokenType        string    `json:"token_type"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func pairFromModel(p *models.TokenPair) TokenPairResponse {
	return TokenPairResponse{
		TokenType:        "Bearer",
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}
