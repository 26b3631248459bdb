package sso

import "regexp"

// filterGroups returns the groups matched by re, in their original order.
func filterGroups(re *regexp.Regexp, groups []string) []string {
	if re == nil || re.String() == ".*" {
		return groups
	}
	var kept []string
	for _, g := range groups {
		if re.MatchString(g) {
			kept = append(kept, g)
		}
	}
	return kept
}
