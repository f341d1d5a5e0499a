package enums

import (
	"fmt"
	"strings"
)

// Role is the marketplace role carried in access tokens.
type Role string

const (
	RoleStudent    Role = "student"
	RoleStaff      Role = "staff"
	RoleAccountant Role = "accountant"
	RoleAdmin      Role = "admin"
	// RoleSystem is reserved for scheduled jobs and is never minted for users.
	RoleSystem Role = "system"
)

var validRoles = []Role{
	RoleStudent,
	RoleStaff,
	RoleAccountant,
	RoleAdmin,
	RoleSystem,
}

func (r Role) String() string {
	return string(r)
}

// IsValid reports whether the value is a known Role.
func (r Role) IsValid() bool {
	for _, candidate := range validRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRole converts raw input into a Role. Matching ignores case and surrounding space.
func ParseRole(value string) (Role, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validRoles {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", value)
}
