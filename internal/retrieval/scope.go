// Package retrieval scores stored memory against a query and assembles
// token-bounded context sections for the prompt builder.
package retrieval

// Scope is the set of active-branch message ids for one retrieval call.
// Records tagged with a branch lineage are eligible only when that lineage
// intersects the scope; untagged records are global and always eligible.
type Scope struct {
	active map[string]bool
}

// NewScope builds a scope from the caller's active-branch message ids.
// An empty id set scopes out every branch-tagged record.
func NewScope(activeMessageIDs []string) *Scope {
	active := make(map[string]bool, len(activeMessageIDs))
	for _, id := range activeMessageIDs {
		active[id] = true
	}
	return &Scope{active: active}
}

// InScope reports whether a record with the given branch lineage is
// eligible. Empty lineage means legacy/global.
func (s *Scope) InScope(branchPath []string) bool {
	if len(branchPath) == 0 {
		return true
	}
	for _, id := range branchPath {
		if s.active[id] {
			return true
		}
	}
	return false
}
