package models

// Permission is a closed capability enumeration for API credentials.
// The wildcard and admin capabilities subsume every named capability.
type Permission string

const (
	// PermissionWildcard grants every capability.
	PermissionWildcard Permission = "*"

	// PermissionAdmin grants every capability plus admin-only management
	// endpoints (credential CRUD, adjustments, unscoped audit queries).
	PermissionAdmin Permission = "admin"

	// PermissionGenerate allows metered generation requests.
	PermissionGenerate Permission = "generate"

	// PermissionAgentsRead allows reading agent/character resources.
	PermissionAgentsRead Permission = "agents:read"

	// PermissionAgentsWrite allows mutating agent/character resources.
	PermissionAgentsWrite Permission = "agents:write"

	// PermissionUsageRead allows reading usage summaries and records.
	PermissionUsageRead Permission = "usage:read"

	// PermissionAuditRead allows reading the organization's audit events.
	PermissionAuditRead Permission = "audit:read"
)

// String returns the string representation of the permission
func (p Permission) String() string {
	return string(p)
}

// IsValid checks if the permission is a known capability
func (p Permission) IsValid() bool {
	switch p {
	case PermissionWildcard, PermissionAdmin, PermissionGenerate,
		PermissionAgentsRead, PermissionAgentsWrite,
		PermissionUsageRead, PermissionAuditRead:
		return true
	default:
		return false
	}
}

// Grants checks if this permission satisfies a required capability.
// Wildcard and admin satisfy everything; otherwise an exact match is required.
func (p Permission) Grants(required Permission) bool {
	if p == PermissionWildcard || p == PermissionAdmin {
		return true
	}
	return p == required
}

// ValidatePermissions checks that every entry in the set is a known
// capability and returns the rejected ones.
func ValidatePermissions(perms []string) (valid []Permission, invalid []string) {
	for _, raw := range perms {
		p := Permission(raw)
		if p.IsValid() {
			valid = append(valid, p)
		} else {
			invalid = append(invalid, raw)
		}
	}
	return valid, invalid
}
