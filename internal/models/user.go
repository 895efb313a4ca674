package models

import (
	"time"

	"github.com/google/uuid"
)

// Roles known to the access policy.
const (
	RoleStudent       = "student"
	RoleSupervisor    = "supervisor"
	RoleAdmin         = "admin"
	RoleMedicalExpert = "medical_expert"
)

type User struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	FullName      string     `json:"full_name"`
	Role          string     `json:"role"`
	InstitutionID *uuid.UUID `json:"institution_id"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
	LastLoginAt   *time.Time `json:"last_login_at"`
}

// IsSupervisoryRole reports whether the role may be assigned as a
// session supervisor.
func IsSupervisoryRole(role string) bool {
	return role == RoleSupervisor || role == RoleMedicalExpert
}

type RegisterRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}
