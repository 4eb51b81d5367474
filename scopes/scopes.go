// Package scopes implements the hierarchical compact/jurisdiction permission
// grammar and its evaluation, and issues access tokens carrying a caller's
// computed scope set.
//
// # Grammar
//
// Scopes are strings of two shapes:
//
//   - compact level:      {compact}/{action}        e.g. "aslp/readPrivate"
//   - jurisdiction level: {jurisdiction}/{compact}.{action}  e.g. "oh/aslp.write"
//
// A compact-level admin or matching action implies every jurisdiction in the
// compact; otherwise the exact jurisdiction-scoped string must be present.
//
// Scope sets are computed from a stored [types.UserPermission] at token
// issuance, not per request: permission changes take effect on the next
// login or token refresh.
package scopes

import (
	"fmt"
	"sort"
	"strings"
)

// Actions usable at the compact level.
const (
	ActionReadGeneral = "readGeneral"
	ActionReadPrivate = "readPrivate"
	ActionReadSSN     = "readSSN"
	ActionAdmin       = "admin"
	ActionWrite       = "write"
)

// Set is a caller's scope set. Membership checks are O(1); iteration order
// is unspecified.
type Set map[string]struct{}

// NewSet builds a Set from scope strings, ignoring empties.
func NewSet(scopes ...string) Set {
	s := make(Set, len(scopes))
	for _, scope := range scopes {
		if scope != "" {
			s[scope] = struct{}{}
		}
	}
	return s
}

// Contains reports whether the exact scope string is present.
func (s Set) Contains(scope string) bool {
	_, ok := s[scope]
	return ok
}

// Strings returns the sorted scope strings, as embedded in tokens.
func (s Set) Strings() []string {
	out := make([]string, 0, len(s))
	for scope := range s {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}

// CompactScope renders a compact-level scope string.
func CompactScope(compact, action string) string {
	return compact + "/" + action
}

// JurisdictionScope renders a jurisdiction-level scope string.
func JurisdictionScope(jurisdiction, compact, action string) string {
	return fmt.Sprintf("%s/%s.%s", jurisdiction, compact, action)
}

// Has evaluates "does the caller have action on jurisdiction within
// compact". Compact-level admin or the compact-level matching action implies
// all jurisdictions; otherwise the specific jurisdiction-scoped string must
// be present verbatim. An empty jurisdiction asks about the compact level
// only.
func Has(s Set, compact, jurisdiction, action string) bool {
	if s.Contains(CompactScope(compact, ActionAdmin)) || s.Contains(CompactScope(compact, action)) {
		return true
	}

	if jurisdiction == "" {
		return false
	}

	if s.Contains(JurisdictionScope(jurisdiction, compact, ActionAdmin)) {
		return true
	}

	return s.Contains(JurisdictionScope(jurisdiction, compact, action))
}

// Parse splits a scope string into its parts. ok is false when the string
// matches neither grammar shape.
func Parse(scope string) (compact, jurisdiction, action string, ok bool) {
	head, tail, found := strings.Cut(scope, "/")
	if !found || head == "" || tail == "" {
		return "", "", "", false
	}

	if c, a, dotted := strings.Cut(tail, "."); dotted {
		if c == "" || a == "" {
			return "", "", "", false
		}
		return c, head, a, true
	}

	return head, "", tail, true
}
