// Package chrootpolicy implements the compile-time chroot-prefix
// containment check from SPEC_FULL.md §4.2 step 5: before chrooting, the
// resolved root directory must lie within a configured prefix, so a
// symlink or relative-path trick in -r cannot escape the intended
// sandbox area. This mirrors runguard.cc's chdir -> getcwd -> realpath ->
// strncmp(prefix) sequence.
package chrootpolicy

import (
	"os"
	"path/filepath"
	"strings"

	rgerrors "runguard/pkg/errors"
)

// Prefix is the compiled-in containment boundary. It is a var, not a
// const, only so tests can override it; production builds never change
// it at runtime.
var Prefix = "/var/lib/runguard/chroot"

// Resolve canonicalises rootDir (which must exist and be a directory),
// asserts it lies within Prefix, and returns the canonical absolute path
// to chroot into.
func Resolve(rootDir string) (string, error) {
	if err := os.Chdir(rootDir); err != nil {
		return "", rgerrors.Wrap(err, rgerrors.ChrootFailed).WithMessage("chdir to root dir: " + rootDir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", rgerrors.Wrap(err, rgerrors.ChrootFailed).WithMessage("getcwd after chdir to root dir")
	}
	resolved, err := filepath.EvalSymlinks(cwd)
	if err != nil {
		return "", rgerrors.Wrap(err, rgerrors.ChrootFailed).WithMessage("resolve symlinks in root dir")
	}
	prefix, err := filepath.EvalSymlinks(Prefix)
	if err != nil {
		// The prefix itself must exist; a missing prefix is a
		// configuration error, not an escape attempt.
		return "", rgerrors.Wrap(err, rgerrors.ChrootFailed).WithMessage("resolve chroot prefix: " + Prefix)
	}
	if resolved != prefix && !strings.HasPrefix(resolved, prefix+string(filepath.Separator)) {
		return "", rgerrors.New(rgerrors.ChrootEscape).WithDetail("resolved", resolved).WithDetail("prefix", prefix)
	}
	return resolved, nil
}
