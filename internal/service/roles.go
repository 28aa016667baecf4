package service

import (
	"encoding/json"
	"strings"

	"github.com/and161185/untis-auth/internal/model"
)

// rolePriority lists the roles that win over any other, highest first.
var rolePriority = []model.Role{model.RoleTeacher, model.RoleStudent, model.RoleLegalGuardian}

// NormalizeRoles converts any roles shape the backend emits (a string, an object with
// role/name, or an array of either) into deduplicated uppercase role names.
func NormalizeRoles(v any) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	var visit func(v any, nested bool)
	visit = func(v any, nested bool) {
		switch t := v.(type) {
		case string:
			add(t)
		case map[string]any:
			if s, ok := t["role"].(string); ok {
				add(s)
			} else if s, ok := t["name"].(string); ok {
				add(s)
			}
		case []string:
			for _, s := range t {
				add(s)
			}
		case []any:
			if nested {
				return
			}
			for _, e := range t {
				visit(e, true)
			}
		case json.RawMessage:
			var decoded any
			if err := json.Unmarshal(t, &decoded); err == nil {
				visit(decoded, nested)
			}
		}
	}
	visit(v, false)
	return out
}

// RoleFromAppData picks the effective role of the logged-in account:
// TEACHER > STUDENT > LEGAL_GUARDIAN, else the first role listed, else RoleUnknown.
func RoleFromAppData(ad *model.AppData) model.Role {
	if ad == nil || ad.User == nil || len(ad.User.Roles) == 0 {
		return model.RoleUnknown
	}
	return pickRole(NormalizeRoles(ad.User.Roles))
}

func pickRole(roles []string) model.Role {
	if len(roles) == 0 {
		return model.RoleUnknown
	}
	for _, want := range rolePriority {
		for _, r := range roles {
			if model.Role(r) == want {
				return want
			}
		}
	}
	return model.Role(roles[0])
}
