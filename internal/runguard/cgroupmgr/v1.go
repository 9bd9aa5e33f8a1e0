// Package cgroupmgr: cgroup v1 contract — the legacy variant spec.md
// treats as "an equivalent legacy collaborator with analogous knobs".
// Grounded on runguard.cc's v1 branches (memory.limit_in_bytes +
// memory.memsw.limit_in_bytes pinned equal so swapping can't evade the
// cap, separate cpu/cpuacct/memory controller hierarchies, cpuacct.usage
// in nanoseconds).
package cgroupmgr

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	rgerrors "runguard/pkg/errors"
)

type managerV1 struct {
	name string
}

func (m *managerV1) Path() string { return m.name }

func (m *managerV1) memDir() string     { return filepath.Join(mountRoot, "memory", m.name) }
func (m *managerV1) cpuDir() string     { return filepath.Join(mountRoot, "cpu", m.name) }
func (m *managerV1) cpuacctDir() string { return filepath.Join(mountRoot, "cpuacct", m.name) }
func (m *managerV1) cpusetDir() string  { return filepath.Join(mountRoot, "cpuset", m.name) }

func (m *managerV1) Create(limits Limits) error {
	dirs := []string{m.memDir(), m.cpuDir(), m.cpuacctDir()}
	if limits.CPUSet != "" {
		dirs = append(dirs, m.cpusetDir())
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0750); err != nil {
			return rgerrors.Wrap(err, rgerrors.CgroupCreateFailed).WithMessage("mkdir " + d)
		}
	}
	if limits.MemoryBytes > 0 {
		val := strconv.FormatInt(limits.MemoryBytes, 10)
		// memsw == limit so the effective swap allowance is zero: the
		// same "no evading the cap via swap" guarantee as v2's
		// memory.swap.max=0.
		if err := writeValue(filepath.Join(m.memDir(), "memory.limit_in_bytes"), val); err != nil {
			return rgerrors.Wrap(err, rgerrors.CgroupCreateFailed).WithMessage("write memory.limit_in_bytes")
		}
		if err := writeValue(filepath.Join(m.memDir(), "memory.memsw.limit_in_bytes"), val); err != nil {
			return rgerrors.Wrap(err, rgerrors.CgroupCreateFailed).WithMessage("write memory.memsw.limit_in_bytes")
		}
	}
	if limits.CPUSet != "" {
		if err := writeValue(filepath.Join(m.cpusetDir(), "cpuset.mems"), "0"); err != nil {
			return rgerrors.Wrap(err, rgerrors.CgroupCreateFailed).WithMessage("write cpuset.mems")
		}
		if err := writeValue(filepath.Join(m.cpusetDir(), "cpuset.cpus"), limits.CPUSet); err != nil {
			return rgerrors.Wrap(err, rgerrors.CgroupCreateFailed).WithMessage("write cpuset.cpus")
		}
	}
	return nil
}

func (m *managerV1) Attach(pid int) error {
	if pid <= 0 {
		return rgerrors.New(rgerrors.CgroupAttachFailed).WithMessage("invalid pid")
	}
	pidStr := strconv.Itoa(pid)
	for _, d := range []string{m.memDir(), m.cpuDir(), m.cpuacctDir()} {
		if err := writeValue(filepath.Join(d, "tasks"), pidStr); err != nil {
			return rgerrors.Wrap(err, rgerrors.CgroupAttachFailed).WithMessage("attach to " + d)
		}
	}
	return nil
}

func (m *managerV1) Sample() (Stats, error) {
	peak, err := readInt(filepath.Join(m.memDir(), "memory.memsw.max_usage_in_bytes"))
	if err != nil {
		return Stats{}, rgerrors.Wrap(err, rgerrors.CgroupSampleFailed).WithMessage("read memory.memsw.max_usage_in_bytes")
	}
	usageNs, err := readInt(filepath.Join(m.cpuacctDir(), "cpuacct.usage"))
	if err != nil {
		return Stats{}, rgerrors.Wrap(err, rgerrors.CgroupSampleFailed).WithMessage("read cpuacct.usage")
	}
	return Stats{MemoryPeakBytes: peak, CPUTimeSeconds: float64(usageNs) / 1e9}, nil
}

func (m *managerV1) KillAll() error {
	data, err := os.ReadFile(filepath.Join(m.memDir(), "tasks"))
	if err != nil {
		return rgerrors.Wrap(err, rgerrors.CgroupKillFailed)
	}
	for _, line := range strings.Fields(string(data)) {
		pid, perr := strconv.Atoi(line)
		if perr != nil {
			continue
		}
		proc, err := os.FindProcess(pid)
		if err != nil {
			continue
		}
		_ = proc.Kill()
	}
	return nil
}

func (m *managerV1) Delete() error {
	time.Sleep(10 * time.Millisecond)
	for _, d := range []string{m.memDir(), m.cpuDir(), m.cpuacctDir(), m.cpusetDir()} {
		if err := os.Remove(d); err != nil && !os.IsNotExist(err) {
			return rgerrors.Wrap(err, rgerrors.CgroupDeleteFailed).WithMessage("remove " + d)
		}
	}
	return nil
}

func (m *managerV1) CheckEmpty() error {
	data, err := os.ReadFile(filepath.Join(m.memDir(), "tasks"))
	if err != nil {
		return rgerrors.Wrap(err, rgerrors.CgroupCheckNotEmpty)
	}
	if len(strings.TrimSpace(string(data))) != 0 {
		return rgerrors.New(rgerrors.CgroupCheckNotEmpty).WithDetail("tasks", string(data))
	}
	return nil
}

// WasOOMKilled always reports false under cgroup v1: unlike v2's
// memory.events, the v1 memory controller exposes no per-group oom-kill
// counter to read after the fact (only a live oom_control eventfd), so
// there is nothing here to sample once the group is being torn down.
func (m *managerV1) WasOOMKilled() bool {
	return false
}
