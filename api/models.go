package api

import (
	"time"

	"github.com/jmcleod/coursegate/activity"
	"github.com/jmcleod/coursegate/attemptlog"
	"github.com/jmcleod/coursegate/identity"
)

// CSRFTokenResponse is returned from GET /csrf-token.
type CSRFTokenResponse struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RegisterRequest is the JSON body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the JSON body for the login endpoints.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token for subsequent requests.
type LoginResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	User      UserView  `json:"user"`
}

// UserView is a user without credential material.
type UserView struct {
	ID        string        `json:"id"`
	Email     string        `json:"email"`
	Role      identity.Role `json:"role"`
	Active    bool          `json:"active"`
	CreatedAt time.Time     `json:"created_at"`
}

func userView(u *identity.User) UserView {
	return UserView{
		ID:        u.ID,
		Email:     u.Email,
		Role:      u.Role,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
	}
}

// MeResponse is returned from GET /me.
type MeResponse struct {
	UserID      string        `json:"user_id"`
	Email       string        `json:"email"`
	Role        identity.Role `json:"role"`
	Permissions []string      `json:"permissions"`
	SessionID   string        `json:"session_id"`
}

// UserStatusResponse is returned from the activate and deactivate routes.
type UserStatusResponse struct {
	User            UserView `json:"user"`
	RevokedSessions int      `json:"revoked_sessions"`
}

// UpdatePermissionsRequest is the JSON body for
// PUT /admin/users/{userID}/permissions. Each entry is "resource:action".
type UpdatePermissionsRequest struct {
	Grant  []string `json:"grant,omitempty"`
	Revoke []string `json:"revoke,omitempty"`
	Clear  []string `json:"clear,omitempty"`
}

// PermissionsResponse lists a user's effective permissions.
type PermissionsResponse struct {
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
}

// ListAttemptsResponse is returned from GET /admin/attempts.
type ListAttemptsResponse struct {
	Attempts []attemptlog.Attempt `json:"attempts"`
	PaginationMeta
}

// ListActivityResponse is returned from the activity routes.
type ListActivityResponse struct {
	Entries []activity.Entry `json:"entries"`
	PaginationMeta
}
