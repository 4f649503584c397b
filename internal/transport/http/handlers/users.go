package handlers

import (
	"net/http"

	"github.com/pribylovaa/accounts-auth/internal/access"
	"github.com/pribylovaa/accounts-auth/internal/models"
	"github.com/pribylovaa/accounts-auth/internal/service"
	"github.com/pribylovaa/accounts-auth/internal/transport/http/middleware"
)

// Profile — GET /api/users/profile.
func (h *Handlers) Profile(w http.ResponseWriter, r *http.Request) {
	const op = "profile"

	claims := middleware.ClaimsFrom(r.Context())
	if claims == nil {
		fail(w, r, op, access.ErrUnauthenticated)
		return
	}

	user, err := h.Service.Profile(r.Context(), claims.UserID)
	if err != nil {
		fail(w, r, op, err)
		return
	}

	ok(op)
	writeJSON(w, http.StatusOK, userFromModel(user))
}

// UpdateProfile — PUT /api/users/profile.
func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	const op = "update_profile"

	claims := middleware.ClaimsFrom(r.Context())
	if claims == nil {
		fail(w, r, op, access.ErrUnauthenticated)
		return
	}

	var in UpdateProfileRequest
	if err := bind(r, &in); err != nil {
		fail(w, r, op, err)
		return
	}

	user, err := h.Service.UpdateProfile(r.Context(), claims.UserID, service.ProfileUpdate{
		Name:            in.Name,
		Password:        in.Password,
		CurrentPassword: in.CurrentPassword,
	})
	if err != nil {
		fail(w, r, op, err)
		return
	}

	ok(op)
	writeJSON(w, http.StatusOK, userFromModel(user))
}

// ListUsers — GET /api/users?limit=&offset=.
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	const op = "list_users"

	limit, err := queryInt(r, "limit")
	if err != nil {
		fail(w, r, op, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		fail(w, r, op, err)
		return
	}

	users, err := h.Service.ListUsers(r.Context(), limit, offset)
	if err != nil {
		fail(w, r, op, err)
		return
	}

	out := ListUsersResponse{Users: make([]UserResponse, 0, len(users)), Limit: limit, Offset: offset}
	for _, u := range users {
		out.Users = append(out.Users, userFromModel(u))
	}

	ok(op)
	writeJSON(w, http.StatusOK, out)
}

// User — GET /api/users/{id}.
func (h *Handlers) User(w http.ResponseWriter, r *http.Request) {
	const op = "get_user"

	id, err := pathID(r)
	if err != nil {
		fail(w, r, op, err)
		return
	}

	user, err := h.Service.User(r.Context(), id)
	if err != nil {
		fail(w, r, op, err)
		return
	}

	ok(op)
	writeJSON(w, http.StatusOK, userFromModel(user))
}

// UpdateUser — PUT /api/users/{id}.
func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	const op = "update_user"

	id, err := pathID(r)
	if err != nil {
		fail(w, r, op, err)
		return
	}

	var in AdminUpdateRequest
	if err := bind(r, &in); err != nil {
		fail(w, r, op, err)
		return
	}

	upd := service.AdminUpdate{Name: in.Name, IsVerified: in.IsVerified}
	if in.Role != nil {
		role, err := models.ParseRole(*in.Role)
		if err != nil {
			fail(w, r, op, service.ErrInvalidRole)
			return
		}
		upd.Role = &role
	}

	user, err := h.Service.UpdateUser(r.Context(), id, upd)
	if err != nil {
		fail(w, r, op, err)
		return
	}

	ok(op)
	writeJSON(w, http.StatusOK, userFromModel(user))
}

// DeleteUser — DELETE /api/users/{id}.
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	const op = "delete_user"

	id, err := pathID(r)
	if err != nil {
		fail(w, r, op, err)
		return
	}

	if err := h.Service.DeleteUser(r.Context(), id); err != nil {
		fail(w, r, op, err)
		return
	}

	ok(op)
	w.WriteHeader(http.StatusNoContent)
}
