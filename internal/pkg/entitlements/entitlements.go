package entitlements

import (
	"sort"
	"strings"
)

// Mapping resolves which role a PayPal plan grants and which content
// categories a role unlocks.
type Mapping struct {
	DefaultRole    string
	PlanRoles      map[string]string
	RoleCategories map[string][]string
}

// RoleForPlan returns the role granted by planID, or the default role.
func (m Mapping) RoleForPlan(planID string) string {
	if role, ok := m.PlanRoles[strings.TrimSpace(planID)]; ok && role != "" {
		return role
	}
	return m.DefaultRole
}

// CategoriesForRole lists the content categories tied to role.
func (m Mapping) CategoriesForRole(role string) []string {
	cats := m.RoleCategories[strings.TrimSpace(role)]
	out := make([]string, len(cats))
	copy(out, cats)
	return out
}

// ParsePlanRoles parses "plan:role,plan2:role2". Malformed pairs are skipped.
func ParsePlanRoles(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		plan, role, ok := strings.Cut(strings.TrimSpace(pair), ":")
		plan = strings.TrimSpace(plan)
		role = strings.TrimSpace(role)
		if !ok || plan == "" || role == "" {
			continue
		}
		out[plan] = role
	}
	return out
}

// ParseRoleCategories parses "role:cat|cat2,role2:cat3".
func ParseRoleCategories(raw string) map[string][]string {
	out := make(map[string][]string)
	for _, pair := range strings.Split(raw, ",") {
		role, list, ok := strings.Cut(strings.TrimSpace(pair), ":")
		role = strings.TrimSpace(role)
		if !ok || role == "" {
			continue
		}
		seen := make(map[string]struct{})
		for _, c := range strings.Split(list, "|") {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			out[role] = append(out[role], c)
		}
		sort.Strings(out[role])
	}
	return out
}
