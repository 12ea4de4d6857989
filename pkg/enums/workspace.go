package enums

import (
	"fmt"
	"strings"
)

// WorkspaceRole is the caller's role carried in the access token.
type WorkspaceRole string

const (
	RoleOwner WorkspaceRole = "owner"
	RoleAdmin WorkspaceRole = "admin"
	RoleAgent WorkspaceRole = "agent"
)

var validWorkspaceRoles = []WorkspaceRole{
	RoleOwner,
	RoleAdmin,
	RoleAgent,
}

func (r WorkspaceRole) IsValid() bool {
	for _, candidate := range validWorkspaceRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

func ParseWorkspaceRole(value string) (WorkspaceRole, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validWorkspaceRoles {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid workspace role %q", value)
}
