package domain

import "time"

// Role is a staff role. Besides the two fixed roles, a department code is a
// valid role granting access to that department's counter.
type Role string

const (
	RoleAdmin     Role = "adm"
	RoleReception Role = "recepcao"
)

// CanOperate reports whether the role may call tickets for department.
func (r Role) CanOperate(department string) bool {
	return r == RoleAdmin || string(r) == department
}

// CanIssue reports whether the role may issue tickets.
func (r Role) CanIssue() bool {
	return r == RoleAdmin || r == RoleReception
}

// User is a staff account.
//
// PasswordHash is nil when the account has no credential stored, which the
// ledger rejects on insert.
type User struct {
	ID           string     `json:"id,omitempty"`
	Email        string     `json:"email"`
	PasswordHash *string    `json:"password_hash,omitempty"`
	Role         Role       `json:"role"`
	Active       bool       `json:"active"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// UserChanges is a partial update of a user. Nil fields are left untouched.
type UserChanges struct {
	Email        *string    `json:"email,omitempty"`
	PasswordHash *string    `json:"password_hash,omitempty"`
	Role         *Role      `json:"role,omitempty"`
	Active       *bool      `json:"active,omitempty"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// Apply returns u with the changes applied.
func (c UserChanges) Apply(u User) User {
	if c.Email != nil {
		u.Email = *c.Email
	}
	if c.PasswordHash != nil {
		h := *c.PasswordHash
		u.PasswordHash = &h
	}
	if c.Role != nil {
		u.Role = *c.Role
	}
	if c.Active != nil {
		u.Active = *c.Active
	}
	if c.LastLogin != nil {
		t := *c.LastLogin
		u.LastLogin = &t
	}
	return u
}

// Empty reports whether no field is set.
func (c UserChanges) Empty() bool {
	return c.Email == nil && c.PasswordHash == nil && c.Role == nil && c.Active == nil && c.LastLogin == nil
}
