package rbacsdk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ============================================================================
// Identifiers
// ============================================================================

// ID is an opaque server-assigned identifier. The API hands out integers but
// the console never does arithmetic on them, so they are kept as strings.
// JSON numbers and strings are both accepted; canonical integers are written
// back as numbers so the server sees the type it issued.
type ID string

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool { return id == "" }

func (id ID) String() string { return string(id) }

func (id ID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(string(id)), nil
	}
	return json.Marshal(string(id))
}

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("rbacsdk: id must be a number or string: %w", err)
		}
		*id = ID(n.String())
		return nil
	}
}

// ============================================================================
// Users
// ============================================================================

// Status of a user account.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// UnmarshalJSON normalises the status to lower case; older data carries
// "Active".
func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = Status(strings.ToLower(strings.TrimSpace(raw)))
	return nil
}

// Toggle returns the opposite status.
func (s Status) Toggle() Status {
	if s == StatusActive {
		return StatusInactive
	}
	return StatusActive
}

// User is an administered account. Role holds the role *name*.
type User struct {
	ID     ID     `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Status Status `json:"status"`
}

// EntityID implements the store's entity contract.
func (u User) EntityID() ID { return u.ID }

// UserFields is the client-supplied part of a User, used for create and for
// full-replace updates.
type UserFields struct {
	Name   string `json:"name" validate:"required"`
	Email  string `json:"email" validate:"required,email"`
	Role   string `json:"role" validate:"required"`
	Status Status `json:"status" validate:"required,oneof=active inactive"`
}

// Fields returns the mutable part of u.
func (u User) Fields() UserFields {
	return UserFields{Name: u.Name, Email: u.Email, Role: u.Role, Status: u.Status}
}

// ============================================================================
// Permissions
// ============================================================================

// Permission is a named capability that roles can hold.
type Permission struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

func (p Permission) EntityID() ID { return p.ID }

// Ref returns the canonical reference to p.
func (p Permission) Ref() PermissionRef { return PermissionRef{ID: p.ID, Name: p.Name} }

// PermissionFields is the payload of a permission create.
type PermissionFields struct {
	Name string `json:"name" validate:"required"`
}

// ============================================================================
// Roles
// ============================================================================

// Role groups permissions. Permissions holds no duplicates once normalised.
type Role struct {
	ID          ID              `json:"id"`
	Name        string          `json:"name"`
	Permissions []PermissionRef `json:"permissions"`
}

func (r Role) EntityID() ID { return r.ID }

// RoleFields is the client-supplied part of a Role. An update may leave a
// role with no permissions; use ValidateNewRole when creating one.
type RoleFields struct {
	Name        string          `json:"name" validate:"required"`
	Permissions []PermissionRef `json:"permissions" validate:"dive"`
}

// newRoleFields is RoleFields as checked on create.
type newRoleFields struct {
	Name        string          `json:"name" validate:"required"`
	Permissions []PermissionRef `json:"permissions" validate:"min=1,dive"`
}

// Fields returns the mutable part of r.
func (r Role) Fields() RoleFields {
	return RoleFields{Name: r.Name, Permissions: append([]PermissionRef(nil), r.Permissions...)}
}

// ToggleResult is the server's answer to a role-permission toggle. Granted is
// nil when the server does not say which way the membership went.
type ToggleResult struct {
	RoleID       ID    `json:"roleId"`
	PermissionID ID    `json:"permissionId"`
	Granted      *bool `json:"granted,omitempty"`
}

// ============================================================================
// Token Types
// ============================================================================

// ErrorResponse is the error envelope the API and the identity provider use.
// Both "message" and the OAuth2 "error_description" spellings are accepted.
type ErrorResponse struct {
	Error            string `json:"error"`
	Message          string `json:"message,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// TokenResponse represents the OAuth2 token endpoint response per RFC 6749.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// ============================================================================
// Normalisation
// ============================================================================

// Normalize trims whitespace and lower-cases the status.
func (f UserFields) Normalize() UserFields {
	f.Name = strings.TrimSpace(f.Name)
	f.Email = strings.TrimSpace(f.Email)
	f.Role = strings.TrimSpace(f.Role)
	f.Status = Status(strings.ToLower(strings.TrimSpace(string(f.Status))))
	return f
}

// Normalize trims the name and canonicalises the permission refs against
// catalog (which may be nil).
func (f RoleFields) Normalize(catalog []Permission) RoleFields {
	f.Name = strings.TrimSpace(f.Name)
	f.Permissions = NormalizeRefs(f.Permissions, catalog)
	return f
}

// Normalize trims the name.
func (f PermissionFields) Normalize() PermissionFields {
	f.Name = strings.TrimSpace(f.Name)
	return f
}
