package httpserver

import (
	"fmt"
	"net/http"

	appauth "github.com/bryanwahyu/fin-analyzer/internal/application/auth"
	"github.com/bryanwahyu/fin-analyzer/internal/middleware"
)

// POST /auth/register
func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) error {
	var body appauth.RegisterCommand
	if err := decode(req, &body); err != nil {
		return err
	}
	u, err := r.d.Auth.Register(req.Context(), body)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, u)
}

// POST /auth/login
func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decode(req, &body); err != nil {
		return err
	}
	pair, err := r.d.Auth.Login(req.Context(), body.Username, body.Password)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, pair)
}

// POST /auth/refresh
func (r *Router) handleRefresh(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decode(req, &body); err != nil {
		return err
	}
	pair, err := r.d.Auth.Refresh(req.Context(), body.RefreshToken)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, pair)
}

func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) error {
	if err := r.d.Auth.Logout(req.Context(), principal(req)); err != nil {
		return err
	}
	return message(w, "Successfully logged out")
}

func (r *Router) handleMe(w http.ResponseWriter, req *http.Request) error {
	u, err := r.d.Auth.Me(req.Context(), principal(req))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, u)
}

// POST /auth/change-password
func (r *Router) handleChangePassword(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decode(req, &body); err != nil {
		return err
	}
	if err := r.d.Auth.ChangePassword(req.Context(), principal(req), body.CurrentPassword, body.NewPassword); err != nil {
		return err
	}
	return message(w, "Password changed successfully")
}

// GET /auth/users?limit=&offset= (admin)
func (r *Router) handleListUsers(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	limit, err := middleware.QueryInt(q, "limit", 50)
	if err != nil {
		return invalid(err)
	}
	offset, err := middleware.QueryInt(q, "offset", 0)
	if err != nil {
		return invalid(err)
	}
	if offset < 0 {
		offset = 0
	}
	list, err := r.d.Auth.ListUsers(req.Context(), principal(req), middleware.ValidateLimit(limit, 50, 100), offset)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// DELETE /auth/users/{id} (admin)
func (r *Router) handleDeleteUser(w http.ResponseWriter, req *http.Request) error {
	id, err := pathID(req)
	if err != nil {
		return err
	}
	if err := r.d.Auth.DeleteUser(req.Context(), principal(req), id); err != nil {
		return err
	}
	return message(w, "User deleted successfully")
}

// POST /auth/cleanup-sessions (admin)
func (r *Router) handleCleanupSessions(w http.ResponseWriter, req *http.Request) error {
	n, err := r.d.Auth.CleanupSessions(req.Context(), principal(req))
	if err != nil {
		return err
	}
	return message(w, fmt.Sprintf("Cleaned up %d expired sessions", n))
}
