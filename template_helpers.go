package auth

import "maps"

// TemplateHelpers returns the helpers and constants available to every mail
// template rendered by this package.
//
// In templates, you can then use:
//
//	{% if has_role(role, roles.admin) %}
//	{% if is_privileged(created_by_role) %}
func TemplateHelpers() map[string]any {
	roles := make(map[string]string, len(GetAllRoles()))
	for _, r := range GetAllRoles() {
		roles[r.String()] = r.String()
	}

	return map[string]any{
		"has_role":      hasRole,
		"is_privileged": isPrivileged,
		"roles":         roles,
	}
}

// TemplateHelpersWith merges data over the default helpers
func TemplateHelpersWith(data map[string]any) map[string]any {
	helpers := TemplateHelpers()
	maps.Copy(helpers, data)
	return helpers
}

func hasRole(current any, want string) bool {
	role, ok := ParseRole(toRoleString(current))
	return ok && role.String() == want
}

func isPrivileged(current any) bool {
	role, ok := ParseRole(toRoleString(current))
	return ok && role.IsPrivileged()
}

func toRoleString(v any) string {
	switch r := v.(type) {
	case Role:
		return string(r)
	case string:
		return r
	default:
		return ""
	}
}
