package auth

import "strings"

// DedupeNames trims and deduplicates requested names, preserving first-seen
// order. Empty strings are dropped.
func DedupeNames(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	result := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		result = append(result, n)
	}
	return result
}

// NormalizeExclusive resolves mutually exclusive role groups. Roles without
// an exclusive group are all kept. Within each group exactly one role
// survives: the one with the highest priority, ties broken by the
// lexicographically smallest name. The result is independent of input order.
func NormalizeExclusive(roles []Role) []Role {
	var kept []Role
	winners := make(map[string]int) // group -> index into kept
	for _, role := range roles {
		if role.ExclusiveGroup == "" {
			kept = append(kept, role)
			continue
		}
		idx, ok := winners[role.ExclusiveGroup]
		if !ok {
			winners[role.ExclusiveGroup] = len(kept)
			kept = append(kept, role)
			continue
		}
		current := kept[idx]
		if role.Priority > current.Priority ||
			(role.Priority == current.Priority && role.Name < current.Name) {
			kept[idx] = role
		}
	}
	return kept
}
