package adminauth

import (
	"strings"
)

// Built-in scope constants
const (
	ScopeRead    = "read"    // Read dashboard data
	ScopeWrite   = "write"   // Modify dashboard data
	ScopeProfile = "profile" // Read and update the admin's own profile
	ScopeAdmin   = "admin"   // Manage other admins
)

// AllBuiltinScopes returns all built-in scope values
func AllBuiltinScopes() []string {
	return []string{ScopeRead, ScopeWrite, ScopeProfile, ScopeAdmin}
}

// DefaultAdminScopes are granted to admins created without explicit scopes
func DefaultAdminScopes() []string {
	return []string{ScopeRead, ScopeWrite, ScopeProfile}
}

// GetAdminScopesFunc returns the scopes an admin may be granted
type GetAdminScopesFunc func(admin *Admin) ([]string, error)

// ParseScopes parses a space-separated scope string into a slice
func ParseScopes(scopeString string) []string {
	if scopeString == "" {
		return nil
	}
	scopes := strings.Fields(scopeString)
	// Remove duplicates
	seen := make(map[string]bool)
	result := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}

// JoinScopes joins a slice of scopes into a space-separated string
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// IntersectScopes returns the scopes that appear in both slices, in requested order
func IntersectScopes(requested, allowed []string) []string {
	allowedSet := make(map[string]bool, len(allowed))
	for _, s := range allowed {
		allowedSet[s] = true
	}

	result := make([]string, 0, len(requested))
	seen := make(map[string]bool)
	for _, s := range requested {
		if allowedSet[s] && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}

// ContainsAllScopes checks if all required scopes are present in the granted scopes
func ContainsAllScopes(granted, required []string) bool {
	grantedSet := make(map[string]bool, len(granted))
	for _, s := range granted {
		grantedSet[s] = true
	}
	for _, s := range required {
		if !grantedSet[s] {
			return false
		}
	}
	return true
}
