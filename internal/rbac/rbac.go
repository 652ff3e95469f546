// Package rbac holds the portfolio role table. Every authorization decision
// about roles (baseline property permissions, who may manage members, who may
// touch owners) is answered here.
package rbac

import (
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
	"github.com/realfolio/realfolio/internal/models"
)

//go:embed model.conf
var modelConf string

//go:embed policy.csv
var policyCSV string

const (
	objProperty   = "property"
	objMembership = "membership"
	objPortfolio  = "portfolio"

	actManage      = "manage"
	actAssignOwner = "assign_owner"
	actDelete      = "delete"
)

// Capabilities is the precomputed row of the role table for one role.
type Capabilities struct {
	Role            models.Role          `json:"role" yaml:"role"`
	Baseline        models.PermissionSet `json:"baseline" yaml:"-"`
	ManageMembers   bool                 `json:"manage_members" yaml:"manage_members"`
	AssignOwner     bool                 `json:"assign_owner" yaml:"assign_owner"`
	DeletePortfolio bool                 `json:"delete_portfolio" yaml:"delete_portfolio"`
}

var table = mustBuildTable()

// NewEnforcer builds a casbin enforcer from the embedded model and policy.
func NewEnforcer() (*casbin.Enforcer, error) {
	m, err := model.NewModelFromString(modelConf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse casbin model: %w", err)
	}
	e, err := casbin.NewEnforcer(m, stringadapter.NewAdapter(policyCSV))
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	return e, nil
}

func buildTable(e *casbin.Enforcer) (map[models.Role]Capabilities, error) {
	out := make(map[models.Role]Capabilities, len(models.Roles))
	allow := func(role models.Role, obj, act string) (bool, error) {
		return e.Enforce(string(role), obj, act)
	}
	for _, role := range models.Roles {
		c := Capabilities{Role: role}
		for _, p := range models.Permissions {
			ok, err := allow(role, objProperty, string(p))
			if err != nil {
				return nil, err
			}
			if ok {
				c.Baseline |= models.NewPermissionSet(p)
			}
		}
		checks := []struct {
			obj, act string
			dst      *bool
		}{
			{objMembership, actManage, &c.ManageMembers},
			{objMembership, actAssignOwner, &c.AssignOwner},
			{objPortfolio, actDelete, &c.DeletePortfolio},
		}
		for _, chk := range checks {
			ok, err := allow(role, chk.obj, chk.act)
			if err != nil {
				return nil, err
			}
			*chk.dst = ok
		}
		out[role] = c
	}
	return out, nil
}

func mustBuildTable() map[models.Role]Capabilities {
	e, err := NewEnforcer()
	if err != nil {
		panic(err)
	}
	t, err := buildTable(e)
	if err != nil {
		panic(fmt.Sprintf("rbac: failed to evaluate role table: %v", err))
	}
	return t
}

// Table returns the capabilities of every role, most privileged first.
func Table() []Capabilities {
	out := make([]Capabilities, 0, len(models.Roles))
	for _, r := range models.Roles {
		out = append(out, table[r])
	}
	return out
}

// Baseline returns the property permissions a role grants before any
// per-property restriction. Non-members get the empty set.
func Baseline(role models.Role) models.PermissionSet {
	return table[role].Baseline
}

// CanManageMembers reports whether role may invite, re-role, restrict and
// remove members.
func CanManageMembers(role models.Role) bool {
	return table[role].ManageMembers
}

// CanAssign reports whether an actor holding actor may grant target to someone.
func CanAssign(actor, target models.Role) bool {
	if !CanManageMembers(actor) {
		return false
	}
	if target == models.RoleOwner {
		return table[actor].AssignOwner
	}
	return true
}

// CanModify reports whether an actor holding actor may change or remove a
// member currently holding current.
func CanModify(actor, current models.Role) bool {
	return CanAssign(actor, current)
}

// CanDeletePortfolio reports whether role may delete the whole portfolio.
func CanDeletePortfolio(role models.Role) bool {
	return table[role].DeletePortfolio
}
