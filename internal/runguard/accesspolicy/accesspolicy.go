// Package accesspolicy implements the "valid users" allow-list check that
// SPEC_FULL.md §4.8 step 4 requires Process Entry to run before privilege
// drop. The policy itself (where the allow-list comes from) is external;
// this package only evaluates it, the way runguard.cc's VALID_USERS loop
// tests each candidate against a comma-separated list of usernames,
// globs, and numeric uids.
package accesspolicy

import (
	"path"
	"strconv"
	"strings"
)

// Allowed reports whether uid/username is permitted to run as -u, given a
// comma-separated allow-list of numeric uids, exact usernames, or glob
// patterns (as accepted by path.Match). An empty list means "no
// allow-list configured" and is always permitted, matching the original's
// behaviour of only enforcing VALID_USERS when it is non-empty.
func Allowed(allowList string, uid int, username string) bool {
	allowList = strings.TrimSpace(allowList)
	if allowList == "" {
		return true
	}
	uidStr := strconv.Itoa(uid)
	for _, candidate := range strings.Split(allowList, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if candidate == uidStr {
			return true
		}
		if ok, _ := path.Match(candidate, username); ok {
			return true
		}
	}
	return false
}
