package auth

import (
	"time"

	"github.com/google/uuid"
)

// Principal is the authenticated actor whose access is being evaluated.
// Identity has already been verified upstream; only the identifiers are carried.
type Principal struct {
	UserID    string `json:"user_id"`
	CompanyID string `json:"company_id,omitempty"`
	Email     string `json:"email,omitempty"`
}

// HasValidID reports whether the principal carries a well-formed user identifier
func (p *Principal) HasValidID() bool {
	if p == nil || p.UserID == "" {
		return false
	}
	_, err := uuid.Parse(p.UserID)
	return err == nil
}

// Company represents a tenant
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthContext holds authenticated principal information
type AuthContext struct {
	Principal       *Principal
	Company         *Company
	Source          string
	AuthenticatedAt time.Time
}

// UserID returns the principal's user id, or an empty string when unauthenticated
func (ac *AuthContext) UserID() string {
	if ac == nil || ac.Principal == nil {
		return ""
	}
	return ac.Principal.UserID
}

// CompanyID returns the principal's company id
func (ac *AuthContext) CompanyID() string {
	if ac == nil || ac.Principal == nil {
		return ""
	}
	return ac.Principal.CompanyID
}
