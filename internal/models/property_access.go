package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// PropertyAccess narrows a membership to specific properties.
//
// It is either Unrestricted, meaning every property in the portfolio bounded
// by the member's role, or RestrictedTo a map from property id to the
// permissions granted on that property. The zero value is Unrestricted.
// A restriction with no entries grants access to nothing.
//
// In storage Unrestricted is SQL NULL and a restriction is a JSON object.
type PropertyAccess struct {
	grants map[uuid.UUID]PermissionSet
}

// Unrestricted returns access to every property, bounded by role.
func Unrestricted() PropertyAccess {
	return PropertyAccess{}
}

// RestrictedTo returns access limited to the given properties. The map is copied.
func RestrictedTo(grants map[uuid.UUID]PermissionSet) PropertyAccess {
	copied := make(map[uuid.UUID]PermissionSet, len(grants))
	for id, perms := range grants {
		copied[id] = perms & AllPermissions
	}
	return PropertyAccess{grants: copied}
}

func (a PropertyAccess) IsRestricted() bool {
	return a.grants != nil
}

// Grant returns the permissions listed for a property. The second result is
// false when the access is unrestricted or the property is not listed.
func (a PropertyAccess) Grant(propertyID uuid.UUID) (PermissionSet, bool) {
	if a.grants == nil {
		return 0, false
	}
	perms, ok := a.grants[propertyID]
	return perms, ok
}

// PropertyIDs returns the listed property ids in sorted order.
func (a PropertyAccess) PropertyIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(a.grants))
	for id := range a.grants {
		ids = append(ids, id)
	}
	SortUUIDs(ids)
	return ids
}

// Equal reports whether both values describe the same access.
func (a PropertyAccess) Equal(b PropertyAccess) bool {
	if a.IsRestricted() != b.IsRestricted() || len(a.grants) != len(b.grants) {
		return false
	}
	for id, perms := range a.grants {
		other, ok := b.grants[id]
		if !ok || other != perms {
			return false
		}
	}
	return true
}

func (a PropertyAccess) String() string {
	if !a.IsRestricted() {
		return "unrestricted"
	}
	var buf bytes.Buffer
	buf.WriteString("restricted{")
	for i, id := range a.PropertyIDs() {
		if i > 0 {
			buf.WriteString(" ")
		}
		fmt.Fprintf(&buf, "%s:%s", id, a.grants[id])
	}
	buf.WriteString("}")
	return buf.String()
}

// MarshalJSON encodes Unrestricted as null and a restriction as an object
// keyed by property id.
func (a PropertyAccess) MarshalJSON() ([]byte, error) {
	if !a.IsRestricted() {
		return []byte("null"), nil
	}
	out := make(map[string]PermissionSet, len(a.grants))
	for id, perms := range a.grants {
		out[id.String()] = perms
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (a *PropertyAccess) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*a = Unrestricted()
		return nil
	}
	var raw map[string]PermissionSet
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("property access must be null or an object of property id to permissions: %w", err)
	}
	grants := make(map[uuid.UUID]PermissionSet, len(raw))
	for key, perms := range raw {
		id, err := uuid.Parse(key)
		if err != nil {
			return fmt.Errorf("invalid property id %q in property access", key)
		}
		grants[id] = perms
	}
	*a = RestrictedTo(grants)
	return nil
}

// GormDataType stores the value in a text column.
func (PropertyAccess) GormDataType() string {
	return "text"
}

// Value implements driver.Valuer.
func (a PropertyAccess) Value() (driver.Value, error) {
	if !a.IsRestricted() {
		return nil, nil
	}
	data, err := a.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (a *PropertyAccess) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = Unrestricted()
		return nil
	case []byte:
		return a.UnmarshalJSON(v)
	case string:
		return a.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into PropertyAccess", src)
	}
}

// SortUUIDs sorts ids in place by their byte representation.
func SortUUIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}
