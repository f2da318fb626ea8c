// Package rbac implements wildcard permission matching and role resolution.
//
// A permission is a dot-delimited hierarchical string such as "orders.view" or
// "creators.payments.approve". Held permissions may contain wildcards:
//
//	*            matches every permission
//	orders.*     matches every permission under orders, nested included
//	*.view       matches the view action across categories, two segments only
//
// Authorization decisions always run the matcher against the unexpanded held
// set; expansion against a permission universe exists for UI enumeration only.
package rbac

import "strings"

type matchKind int

const (
	matchExact matchKind = iota
	matchFullWildcard
	matchCategoryWildcard
	matchActionWildcard
	matchNever
)

// matcher is a parsed held permission.
type matcher struct {
	kind     matchKind
	segments []string
}

func parseMatcher(perm string) matcher {
	perm = strings.TrimSpace(perm)
	if perm == "" {
		return matcher{kind: matchNever}
	}
	if perm == "*" {
		return matcher{kind: matchFullWildcard}
	}
	segs := strings.Split(perm, ".")
	stars := strings.Count(perm, "*")
	switch {
	case stars == 0:
		return matcher{kind: matchExact, segments: segs}
	case stars == 1 && len(segs) >= 2 && segs[len(segs)-1] == "*":
		return matcher{kind: matchCategoryWildcard, segments: segs[:len(segs)-1]}
	case stars == 1 && len(segs) == 2 && segs[0] == "*":
		return matcher{kind: matchActionWildcard, segments: segs[1:]}
	default:
		// Malformed wildcard placement grants nothing.
		return matcher{kind: matchNever}
	}
}

func (m matcher) matches(required []string) bool {
	switch m.kind {
	case matchFullWildcard:
		return true
	case matchExact:
		return equalSegments(m.segments, required)
	case matchCategoryWildcard:
		if len(required) <= len(m.segments) {
			return false
		}
		return equalSegments(m.segments, required[:len(m.segments)])
	case matchActionWildcard:
		// Action wildcards only apply at depth two.
		return len(required) == 2 && required[1] == m.segments[0]
	default:
		return false
	}
}

func equalSegments(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// HasPermission reports whether any held permission grants required.
// An empty or absent held set grants nothing.
func HasPermission(held []string, required string) bool {
	required = strings.TrimSpace(required)
	if required == "" || len(held) == 0 {
		return false
	}
	reqSegs := strings.Split(required, ".")
	for _, h := range held {
		if parseMatcher(h).matches(reqSegs) {
			return true
		}
	}
	return false
}

// HasAnyPermission reports whether at least one of required is granted.
func HasAnyPermission(held []string, required ...string) bool {
	for _, r := range required {
		if HasPermission(held, r) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether every one of required is granted.
// An empty required set is vacuously true.
func HasAllPermissions(held []string, required ...string) bool {
	for _, r := range required {
		if !HasPermission(held, r) {
			return false
		}
	}
	return true
}

// ResolvePermissions merges a role's explicit permission set with an inherited
// parent set, deduplicated, preserving first-seen order.
func ResolvePermissions(rolePerms, parentPerms []string) []string {
	seen := make(map[string]struct{}, len(rolePerms)+len(parentPerms))
	out := make([]string, 0, len(rolePerms)+len(parentPerms))
	for _, list := range [][]string{rolePerms, parentPerms} {
		for _, p := range list {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// ExpandWildcards materializes held wildcard entries against a concrete
// permission universe. Intended for UI enumeration; authorization decisions
// go through HasPermission directly so they never depend on a stale universe.
func ExpandWildcards(held, universe []string) []string {
	seen := make(map[string]struct{}, len(held))
	out := make([]string, 0, len(held))
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, h := range held {
		m := parseMatcher(h)
		if m.kind == matchExact {
			add(strings.TrimSpace(h))
			continue
		}
		for _, u := range universe {
			if m.matches(strings.Split(u, ".")) {
				add(u)
			}
		}
	}
	return out
}
