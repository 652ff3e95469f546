package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Permission is an action a member may perform on a property.
type Permission string

const (
	PermissionView   Permission = "view"
	PermissionEdit   Permission = "edit"
	PermissionManage Permission = "manage"
	PermissionDelete Permission = "delete"
)

// Permissions lists every permission in canonical order.
var Permissions = []Permission{PermissionView, PermissionEdit, PermissionManage, PermissionDelete}

// ParsePermission converts a permission tag into a Permission.
func ParsePermission(s string) (Permission, error) {
	p := Permission(s)
	if p.bit() == 0 {
		return "", fmt.Errorf("invalid permission %q (valid: view, edit, manage, delete)", s)
	}
	return p, nil
}

func (p Permission) bit() PermissionSet {
	switch p {
	case PermissionView:
		return 1 << 0
	case PermissionEdit:
		return 1 << 1
	case PermissionManage:
		return 1 << 2
	case PermissionDelete:
		return 1 << 3
	}
	return 0
}

// PermissionSet is a set of permissions stored as a bitmask.
type PermissionSet uint8

// AllPermissions contains every permission.
const AllPermissions PermissionSet = 1<<4 - 1

// NewPermissionSet builds a set from permissions. Unknown values are ignored.
func NewPermissionSet(perms ...Permission) PermissionSet {
	var s PermissionSet
	for _, p := range perms {
		s |= p.bit()
	}
	return s
}

// ParsePermissionSet builds a set from permission tags.
func ParsePermissionSet(tags []string) (PermissionSet, error) {
	var s PermissionSet
	for _, tag := range tags {
		p, err := ParsePermission(strings.ToLower(strings.TrimSpace(tag)))
		if err != nil {
			return 0, err
		}
		s |= p.bit()
	}
	return s, nil
}

func (s PermissionSet) Has(p Permission) bool {
	b := p.bit()
	return b != 0 && s&b == b
}

func (s PermissionSet) Intersect(other PermissionSet) PermissionSet { return s & other }

func (s PermissionSet) IsEmpty() bool { return s&AllPermissions == 0 }

// SubsetOf reports whether every permission in s is also in other.
func (s PermissionSet) SubsetOf(other PermissionSet) bool { return s&^other == 0 }

// List returns the permissions in canonical order.
func (s PermissionSet) List() []Permission {
	out := make([]Permission, 0, len(Permissions))
	for _, p := range Permissions {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

func (s PermissionSet) String() string {
	list := s.List()
	parts := make([]string, len(list))
	for i, p := range list {
		parts[i] = string(p)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// MarshalJSON encodes the set as a list of permission tags.
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

// UnmarshalJSON decodes a list of permission tags.
func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return fmt.Errorf("permission set must be a list of tags: %w", err)
	}
	parsed, err := ParsePermissionSet(tags)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
