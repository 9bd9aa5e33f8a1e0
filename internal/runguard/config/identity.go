package config

import (
	"os/user"
	"strconv"

	rgerrors "runguard/pkg/errors"
)

// resolveUser resolves a username or numeric uid to (uid, primary gid),
// so that an explicit -u without -g defaults the group to the user's
// primary group rather than leaving it as the invoker's, per
// SPEC_FULL.md §3 "Identity & filesystem".
func resolveUser(spec string) (uid, gid int, err error) {
	var u *user.User
	if n, convErr := strconv.Atoi(spec); convErr == nil {
		u, err = user.LookupId(strconv.Itoa(n))
	} else {
		u, err = user.Lookup(spec)
	}
	if err != nil {
		return 0, 0, rgerrors.Wrap(err, rgerrors.InvalidUser).WithMessage("unknown user: " + spec)
	}
	uid, err = strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, rgerrors.Wrap(err, rgerrors.InvalidUser)
	}
	gid, err = strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, rgerrors.Wrap(err, rgerrors.InvalidUser)
	}
	return uid, gid, nil
}

func resolveGroup(spec string) (int, error) {
	var g *user.Group
	var err error
	if n, convErr := strconv.Atoi(spec); convErr == nil {
		g, err = user.LookupGroupId(strconv.Itoa(n))
	} else {
		g, err = user.LookupGroup(spec)
	}
	if err != nil {
		return 0, rgerrors.Wrap(err, rgerrors.InvalidUser).WithMessage("unknown group: " + spec)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return 0, rgerrors.Wrap(err, rgerrors.InvalidUser)
	}
	return gid, nil
}
