package rbacsdk

import (
	"bytes"
	"encoding/json"
	"strings"
)

// PermissionRef is the single representation of "a permission held by a
// role". Either half may be missing on the wire; Normalize fills it from the
// catalog.
type PermissionRef struct {
	ID   ID     `json:"id,omitempty"`
	Name string `json:"name,omitempty" validate:"required_without=ID"`
}

// UnmarshalJSON accepts a bare string (a permission name), a bare number (an
// id) or an object with id and/or name.
func (r *PermissionRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		*r = PermissionRef{Name: name}
		return nil
	}

	if len(b) > 0 && b[0] != '{' {
		var id ID
		if err := id.UnmarshalJSON(b); err != nil {
			return err
		}
		*r = PermissionRef{ID: id}
		return nil
	}

	type plain PermissionRef
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = PermissionRef(p)
	return nil
}

// Matches reports whether r refers to p. IDs win when both sides have one;
// otherwise names are compared case-insensitively.
func (r PermissionRef) Matches(p Permission) bool {
	if !r.ID.IsZero() && !p.ID.IsZero() {
		return r.ID == p.ID
	}
	return r.Name != "" && strings.EqualFold(r.Name, p.Name)
}

// same reports whether two refs denote the same permission.
func (r PermissionRef) same(o PermissionRef) bool {
	if !r.ID.IsZero() && !o.ID.IsZero() {
		return r.ID == o.ID
	}
	return r.Name != "" && strings.EqualFold(r.Name, o.Name)
}

// Label is the human form of the ref: its name, else its id.
func (r PermissionRef) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID.String()
}

// NormalizeRefs resolves every ref against catalog (filling the missing ID or
// name) and drops duplicates, keeping first-seen order. Refs that match no
// catalog entry are kept as they are; the catalog may simply not be loaded.
func NormalizeRefs(refs []PermissionRef, catalog []Permission) []PermissionRef {
	out := make([]PermissionRef, 0, len(refs))
	for _, r := range refs {
		r.Name = strings.TrimSpace(r.Name)
		if r.ID.IsZero() && r.Name == "" {
			continue
		}

		for _, p := range catalog {
			if r.Matches(p) {
				r = p.Ref()
				break
			}
		}

		dup := false
		for _, seen := range out {
			if seen.same(r) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, r)
		}
	}
	return out
}

// HasPermission reports whether refs contains p.
func HasPermission(refs []PermissionRef, p Permission) bool {
	for _, r := range refs {
		if r.Matches(p) {
			return true
		}
	}
	return false
}
