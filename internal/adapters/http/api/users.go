// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/frothlab/froth/internal/domain/model"
)

// UsersHandler handles user registration, lookup, deletion, and role
// grants.
type UsersHandler struct {
	deps Dependencies
}

// NewUsersHandler creates a new users handler.
func NewUsersHandler(deps Dependencies) *UsersHandler {
	return &UsersHandler{deps: deps}
}

type userRequest struct {
	UID string `json:"uid"`
}

type roleRequest struct {
	Actor string `json:"actor"`
	UID   string `json:"uid"`
	Role  string `json:"role"`
}

// HandlePostUser handles POST /users requests.
func (h *UsersHandler) HandlePostUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.UID) == "" {
		writeError(w, fmt.Errorf("%w: missing uid", ErrBadRequest))
		return
	}
	if err := h.deps.RegisterUser(r.Context(), req.UID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ackResponse{Status: "created"})
}

// HandleUser handles GET /users/{uid} and DELETE /users/{uid} requests.
// Deletion names the acting admin through the actor query parameter.
func (h *UsersHandler) HandleUser(w http.ResponseWriter, r *http.Request) {
	uid := strings.TrimPrefix(r.URL.Path, "/users/")
	if uid == "" || strings.Contains(uid, "/") {
		writeError(w, fmt.Errorf("%w: missing uid", ErrBadRequest))
		return
	}

	switch r.Method {
	case http.MethodGet:
		u, err := h.deps.GetUser(r.Context(), uid)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)

	case http.MethodDelete:
		actor := r.URL.Query().Get("actor")
		if actor == "" {
			writeError(w, fmt.Errorf("%w: missing actor", ErrBadRequest))
			return
		}
		if err := h.deps.DeleteRater(r.Context(), actor, uid); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ackResponse{Status: "deleted"})

	default:
		http.NotFound(w, r)
	}
}

// HandlePostRole handles POST /roles requests.
func (h *UsersHandler) HandlePostRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	switch {
	case strings.TrimSpace(req.Actor) == "":
		writeError(w, fmt.Errorf("%w: missing actor", ErrBadRequest))
		return
	case strings.TrimSpace(req.UID) == "":
		writeError(w, fmt.Errorf("%w: missing uid", ErrBadRequest))
		return
	case strings.TrimSpace(req.Role) == "":
		writeError(w, fmt.Errorf("%w: missing role", ErrBadRequest))
		return
	}
	if err := h.deps.GrantRole(r.Context(), req.Actor, req.UID, model.Role(req.Role)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Status: "granted"})
}
