package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/accounts-auth/internal/models"
)

// Register — POST /api/users. Отвечает 201 с профилем; письмо уходит асинхронно.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	const op = "register"

	var in RegisterRequest
	if err := bind(r, &in); err != nil {
		fail(w, r, op, err)
		return
	}

	user, err := h.Service.Register(r.Context(), in.Email, in.Password, models.Profile{Name: in.Name})
	if err != nil {
		fail(w, r, op, err)
		return
	}

	ok(op)
	writeJSON(w, http.StatusCreated, userFromModel(user))
}

// Login — POST /api/users/login.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	const op = "login"

	var in LoginRequest
	if err := bind(r, &in); err != nil {
		fail(w, r, op, err)
		return
	}

	pair, err := h.Service.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		fail(w, r, op, err)
		return
	}

	ok(op)
	writeJSON(w, http.StatusOK, pairFromModel(pair))
}

// Confirm — GET /api/users/confirm/{code}.
func (h *Handlers) Confirm(w http.ResponseWriter, r *http.Request) {
	const op = "confirm"

	if err := h.Service.Confirm(r.Context(), chi.URLParam(r, "code")); err != nil {
		fail(w, r, op, err)
		return
	}

	ok(op)
	w.WriteHeader(http.StatusNoContent)
}

// RequestConfirmation — POST /api/users/confirm.
// Всегда 202: ответ не раскрывает, существует ли e-mail.
func (h *Handlers) RequestConfirmation(w http.ResponseWriter, r *http.Request) {
	const op = "request_confirmation"

	var in EmailRequest
	if err := bind(r, &in); err != nil {
		fail(w, r, op, err)
		return
	}

	if err := h.Service.RequestConfirmation(r.Context(), in.Email); err != nil {
		fail(w, r, op, err)
		return
	}

	ok(op)
	w.WriteHeader(http.StatusAccepted)
}

// RequestPasswordReset — POST /api/users/reset.
// Всегда 202: ответ не раскрывает, существует ли e-mail.
func (h *Handlers) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	const op = "request_password_reset"

	var in EmailRequest
	if err := bind(r, &in); err != nil {
		fail(w, r, op, err)
		return
	}

	if err := h.Service.RequestPasswordReset(r.Context(), in.Email); err != nil {
		fail(w, r, op, err)
		return
	}

	ok(op)
	w.WriteHeader(http.StatusAccepted)
}

// ResetPassword — PUT /api/users/reset.
func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	const op = "reset_password"

	var in ResetPasswordRequest
	if err := bind(r, &in); err != nil {
		fail(w, r, op, err)
		return
	}

	if err := h.Service.ResetPassword(r.Context(), in.Code, in.Password); err != nil {
		fail(w, r, op, err)
		return
	}

	ok(op)
	w.WriteHeader(http.StatusNoContent)
}

// Refresh — POST /api/users/refresh.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	const op = "refresh"

	var in RefreshRequest
	if err := bind(r, &in); err != nil {
		fail(w, r, op, err)
		return
	}

	pair, err := h.Service.RefreshSession(r.Context(), in.RefreshToken)
	if err != nil {
		fail(w, r, op, err)
		return
	}

	ok(op)
	writeJSON(w, http.StatusOK, pairFromModel(pair))
}

// Logout — POST /api/users/logout.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	const op = "logout"

	var in RefreshRequest
	if err := bind(r, &in); err != nil {
		fail(w, r, op, err)
		return
	}

	if err := h.Service.RevokeSession(r.Context(), in.RefreshToken); err != nil {
		fail(w, r, op, err)
		return
	}

	ok(op)
	w.WriteHeader(http.StatusNoContent)
}
