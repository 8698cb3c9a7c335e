package controlplane

// ScopeAdmin is the wildcard scope; it satisfies every scope check.
const ScopeAdmin = "admin"

// Well-known scopes used by the built-in methods.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

// ResolveScope reports whether a grant satisfies the requested scope.
// This is the only place that knows about the admin wildcard.
func ResolveScope(requested string, granted map[string]struct{}) bool {
	if len(granted) == 0 {
		return false
	}
	if _, ok := granted[ScopeAdmin]; ok {
		return true
	}
	if requested == "" {
		return false
	}
	_, ok := granted[requested]
	return ok
}

// NarrowScopes returns the subset of requested that allowed satisfies.
// An empty request yields the full allowed set.
func NarrowScopes(requested []string, allowed []string) []string {
	set := scopeSet(allowed)
	if len(requested) == 0 {
		return sortedScopes(set)
	}

	out := make(map[string]struct{}, len(requested))
	for _, s := range requested {
		if ResolveScope(s, set) {
			out[s] = struct{}{}
		}
	}
	return sortedScopes(out)
}

func scopeSet(scopes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}
