package share

// LFPermissionScope selects which Lake Formation resource a permission level
// is being translated for.
type LFPermissionScope int

const (
	LFScopeTable LFPermissionScope = iota
	LFScopeDatabase
	LFScopeResourceLink
	LFScopeFilters
)

// lfPermissions maps data permission levels to the Lake Formation permission
// strings AWS defines per resource scope. This is an AWS-defined vocabulary
// carried as configuration, validated against current Lake Formation docs.
var lfPermissions = map[Permission]map[LFPermissionScope][]string{
	PermissionRead: {
		LFScopeTable:        {"DESCRIBE", "SELECT"},
		LFScopeDatabase:     {"DESCRIBE"},
		LFScopeResourceLink: {"DESCRIBE"},
		LFScopeFilters:      {"SELECT"},
	},
	PermissionWrite: {
		LFScopeTable:        {"INSERT"},
		LFScopeDatabase:     {"CREATE_TABLE"},
		LFScopeResourceLink: {"DESCRIBE"},
		LFScopeFilters:      {"SELECT"},
	},
	PermissionModify: {
		LFScopeTable:        {"ALTER", "DROP", "DELETE"},
		LFScopeDatabase:     {"ALTER", "DROP"},
		LFScopeResourceLink: {"DESCRIBE"},
		LFScopeFilters:      {"SELECT"},
	},
}

// LakeFormationPermissions translates a share's permission set into the
// deduplicated Lake Formation permission list for one resource scope,
// preserving first-seen order.
func LakeFormationPermissions(permissions []Permission, scope LFPermissionScope) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range permissions {
		for _, lf := range lfPermissions[p][scope] {
			if _, ok := seen[lf]; ok {
				continue
			}
			seen[lf] = struct{}{}
			out = append(out, lf)
		}
	}
	return out
}
