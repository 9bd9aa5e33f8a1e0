// Command runguard-init is the child helper execed by the runguard
// supervisor. It exists because Go's runtime cannot run arbitrary code
// between fork() and exec() in a multithreaded process (no preexec_fn
// hook) — the same constraint the teacher's cmd/sandbox-init solves by
// being a dedicated helper binary driven over a JSON request on stdin.
// This helper generalizes that pattern to the full ordered restrictions
// sequence SPEC_FULL.md §4.2 requires: rlimits, cgroup join, setsid,
// chroot, privilege drop, then exec.
//
//go:build linux

package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"runguard/internal/runguard/cgroupmgr"
	"runguard/internal/runguard/chrootpolicy"
	"runguard/internal/runguard/restrict"
)

// fdRequest is the inherited fd carrying the JSON restrictions request,
// analogous to the teacher's stdin-pipe convention but moved off stdin so
// the real command's stdin can be passed through untouched.
const fdRequest = 3

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "runguard-init: "+err.Error())
		os.Exit(1)
	}
}

func run() error {
	req, err := decodeRequest()
	if err != nil {
		return err
	}
	if len(req.Command) == 0 {
		return fmt.Errorf("no command in restrictions request")
	}

	env := req.Env
	os.Clearenv()
	for _, kv := range env {
		if err := setEnvPair(kv); err != nil {
			return err
		}
	}

	if err := applyRlimits(req); err != nil {
		return err
	}
	if req.CgroupPath != "" {
		if err := cgroupmgr.AttachByPath(cgroupmgr.Version(req.CgroupVersion), req.CgroupPath, os.Getpid()); err != nil {
			return fmt.Errorf("join cgroup: %w", err)
		}
	}
	if _, err := unix.Setsid(); err != nil {
		return fmt.Errorf("setsid: %w", err)
	}
	if req.RootDir != "" {
		if err := applyChroot(req); err != nil {
			return err
		}
	}
	if err := dropPrivileges(req); err != nil {
		return err
	}

	cmdPath := req.Command[0]
	if resolved, lookErr := lookPath(cmdPath); lookErr == nil {
		cmdPath = resolved
	}
	return unix.Exec(cmdPath, req.Command, env)
}

func decodeRequest() (restrict.Request, error) {
	f := os.NewFile(fdRequest, "restrict-request")
	if f == nil {
		return restrict.Request{}, fmt.Errorf("restrictions request fd %d not inherited", fdRequest)
	}
	defer f.Close()
	var req restrict.Request
	if err := json.NewDecoder(f).Decode(&req); err != nil {
		return restrict.Request{}, fmt.Errorf("decode restrictions request: %w", err)
	}
	return req, nil
}

// applyRlimits implements SPEC_FULL.md §4.2 step 2: CPU-time soft/hard
// with the +1-second grace window so SIGXCPU precedes SIGKILL, address
// space/stack left unlimited (cgroup enforces memory instead), file size
// and nproc as configured, core dumps disabled on request. A
// permission-denied raising a limit is a warning, not fatal, matching
// the original's "if a limit cannot be raised due to permissions, warn
// and continue".
func applyRlimits(req restrict.Request) error {
	if req.CPUTimeHardSeconds > 0 {
		soft := uint64(math.Ceil(req.CPUTimeHardSeconds))
		hard := soft + 1
		if err := setrlimitWarnOnEPERM(unix.RLIMIT_CPU, soft, hard); err != nil {
			return fmt.Errorf("setrlimit RLIMIT_CPU: %w", err)
		}
	}
	if err := setrlimitWarnOnEPERM(unix.RLIMIT_AS, unix.RLIM_INFINITY, unix.RLIM_INFINITY); err != nil {
		return fmt.Errorf("setrlimit RLIMIT_AS: %w", err)
	}
	if err := setrlimitWarnOnEPERM(unix.RLIMIT_STACK, unix.RLIM_INFINITY, unix.RLIM_INFINITY); err != nil {
		return fmt.Errorf("setrlimit RLIMIT_STACK: %w", err)
	}
	if req.FileBytes > 0 {
		val := uint64(req.FileBytes)
		if err := setrlimitWarnOnEPERM(unix.RLIMIT_FSIZE, val, val); err != nil {
			return fmt.Errorf("setrlimit RLIMIT_FSIZE: %w", err)
		}
	}
	if req.NProc > 0 {
		val := uint64(req.NProc)
		if err := setrlimitWarnOnEPERM(unix.RLIMIT_NPROC, val, val); err != nil {
			return fmt.Errorf("setrlimit RLIMIT_NPROC: %w", err)
		}
	}
	if req.NoCore {
		if err := setrlimitWarnOnEPERM(unix.RLIMIT_CORE, 0, 0); err != nil {
			return fmt.Errorf("setrlimit RLIMIT_CORE: %w", err)
		}
	}
	return nil
}

func setrlimitWarnOnEPERM(resource int, soft, hard uint64) error {
	err := unix.Setrlimit(resource, &unix.Rlimit{Cur: soft, Max: hard})
	if err == nil {
		return nil
	}
	if err == unix.EPERM {
		fmt.Fprintf(os.Stderr, "runguard-init: warning: cannot raise rlimit %d: %v\n", resource, err)
		return nil
	}
	return err
}

func applyChroot(req restrict.Request) error {
	resolved, err := chrootpolicy.Resolve(req.RootDir)
	if err != nil {
		return err
	}
	if err := unix.Chroot(resolved); err != nil {
		return fmt.Errorf("chroot: %w", err)
	}
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("chdir / after chroot: %w", err)
	}
	if req.RootChdir != "" {
		if err := os.Chdir(req.RootChdir); err != nil {
			return fmt.Errorf("chdir to root_chdir: %w", err)
		}
	}
	return nil
}

// dropPrivileges implements SPEC_FULL.md §4.2 step 6: setgid and clear
// supplementary groups before setuid (ordering matters — setuid first
// would strip the privilege needed to then call setgid), or permanently
// drop effective uid to the real uid otherwise. The post-drop assertion
// that neither euid nor uid is zero is non-negotiable.
func dropPrivileges(req restrict.Request) error {
	if req.HasGID {
		if err := unix.Setgid(req.GID); err != nil {
			return fmt.Errorf("setgid: %w", err)
		}
		if err := unix.Setgroups(nil); err != nil {
			return fmt.Errorf("clear supplementary groups: %w", err)
		}
	}
	if req.HasUID {
		if err := unix.Setuid(req.UID); err != nil {
			return fmt.Errorf("setuid: %w", err)
		}
	} else {
		if err := unix.Setuid(req.RealUID); err != nil {
			return fmt.Errorf("drop effective uid to real uid: %w", err)
		}
	}
	if unix.Geteuid() == 0 || unix.Getuid() == 0 {
		return fmt.Errorf("privilege drop assertion failed: still running as uid 0")
	}
	return nil
}

func setEnvPair(kv string) error {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return os.Setenv(kv[:i], kv[i+1:])
		}
	}
	return fmt.Errorf("malformed environment assignment: %q", kv)
}

func lookPath(cmd string) (string, error) {
	if len(cmd) > 0 && (cmd[0] == '/' || cmd[0] == '.') {
		return cmd, nil
	}
	return exec.LookPath(cmd)
}
