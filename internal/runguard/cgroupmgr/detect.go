package cgroupmgr

import (
	"bufio"
	"os"
	"strings"

	rgerrors "runguard/pkg/errors"
)

// Version identifies which cgroup contract is in effect.
type Version int

const (
	VersionUnknown Version = iota
	V1
	V2
)

// mountsPath is a var for test overrides.
var mountsPath = "/proc/mounts"

// DetectVersion reads /proc/mounts once, looking for the mount at
// /sys/fs/cgroup; type "cgroup2" selects V2, anything else selects V1,
// per SPEC_FULL.md §4.1 "Controller detection".
func DetectVersion() (Version, error) {
	f, err := os.Open(mountsPath)
	if err != nil {
		return VersionUnknown, rgerrors.Wrap(err, rgerrors.CgroupVersionUnknown)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		mountPoint, fsType := fields[1], fields[2]
		if mountPoint != mountRoot {
			continue
		}
		if fsType == "cgroup2" {
			return V2, nil
		}
		return V1, nil
	}
	if err := scanner.Err(); err != nil {
		return VersionUnknown, rgerrors.Wrap(err, rgerrors.CgroupVersionUnknown)
	}
	return VersionUnknown, rgerrors.New(rgerrors.CgroupVersionUnknown).WithMessage("no cgroup mount found at " + mountRoot)
}

// New selects and constructs a Manager for the detected version, naming
// the cgroup via UniqueName.
func New(version Version, pid int, cpuset string) (Manager, error) {
	return NewWithName(version, UniqueName(pid, cpuset))
}

// NewWithName constructs a Manager for an already-named cgroup; used by
// cmd/runguard-init, which joins a cgroup the parent already created and
// therefore has no reason to mint a fresh name.
func NewWithName(version Version, name string) (Manager, error) {
	switch version {
	case V2:
		return &managerV2{name: name}, nil
	case V1:
		return &managerV1{name: name}, nil
	default:
		return nil, rgerrors.New(rgerrors.CgroupVersionUnknown)
	}
}

// AttachByPath is a convenience wrapper for the child side of the fork
// topology: it only ever needs to attach its own pid to a cgroup the
// parent already created, so it does not need the full Manager surface.
func AttachByPath(version Version, name string, pid int) error {
	m, err := NewWithName(version, name)
	if err != nil {
		return err
	}
	return m.Attach(pid)
}
