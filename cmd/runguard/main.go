// Command runguard is the Process Entry point (SPEC_FULL.md §4.8): it
// sequences limit/identity parsing, cgroup-version detection, metadata
// file setup, the valid-users and cpuset checks, pipe and signal
// controller setup, cgroup creation, namespace unsharing, the OOM-score
// reset, and finally starts cmd/runguard-init as the restricted child and
// runs the Supervisor Loop to completion.
//
//go:build linux

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"runguard/internal/runguard/accesspolicy"
	"runguard/internal/runguard/cgroupmgr"
	"runguard/internal/runguard/config"
	"runguard/internal/runguard/iopump"
	"runguard/internal/runguard/report"
	"runguard/internal/runguard/restrict"
	"runguard/internal/runguard/sigctl"
	"runguard/internal/runguard/supervisor"
	rgerrors "runguard/pkg/errors"
	"runguard/pkg/utils/logger"
)

func main() {
	os.Exit(mainImpl())
}

func mainImpl() int {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "runguard: "+err.Error())
		return 1
	}

	initLogging(cfg)
	defer logger.Sync()

	sink, openErr := report.Open(cfg.MetadataFile)
	if openErr != nil {
		fmt.Fprintln(os.Stderr, "runguard: open metadata file: "+openErr.Error())
		return 1
	}
	defer sink.Close()

	exitCode, runErr := run(cfg, sink)
	if runErr != nil {
		sink.FailFatal(runErr.Error())
		fmt.Fprintln(os.Stderr, "runguard: "+runErr.Error())
		return rgerrors.GetCode(runErr).ExitCode()
	}
	return exitCode
}

// initLogging picks the zap level from, in order of precedence, -q, -v,
// then the RUNGUARD_VERBOSE env var used when neither flag is given.
func initLogging(cfg *config.Config) {
	level := "info"
	if os.Getenv("RUNGUARD_VERBOSE") != "" || cfg.Verbose {
		level = "debug"
	}
	if cfg.Quiet {
		level = "error"
	}
	_ = logger.Init(logger.Config{Level: level, Format: "console", OutputPath: "stderr"})
}

// run implements SPEC_FULL.md §4.8 steps 2-10.
func run(cfg *config.Config, sink *report.Sink) (exitCode int, err error) {
	// Step 2: detect cgroup version.
	version, err := cgroupmgr.DetectVersion()
	if err != nil {
		return 0, err
	}

	// Step 4: valid-users allow-list check, before anything privileged.
	if cfg.Identity.HasUID {
		username := strconv.Itoa(cfg.Identity.RunUID)
		if u, lookErr := user.LookupId(username); lookErr == nil {
			username = u.Username
		}
		if !accesspolicy.Allowed(cfg.ValidUsers, cfg.Identity.RunUID, username) {
			return 0, rgerrors.New(rgerrors.UserNotAllowed).WithDetail("uid", cfg.Identity.RunUID)
		}
	}

	// Step 5: cpuset range validation.
	if err := validateCPUSet(cfg.Limits.CPUSet); err != nil {
		return 0, err
	}

	// Step 6: pipes + signal controller (installed before fork so no
	// SIGCHLD delivered during the narrow race window is lost).
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return 0, rgerrors.Wrap(err, rgerrors.PipeFailed)
	}
	defer stdoutR.Close()
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		return 0, rgerrors.Wrap(err, rgerrors.PipeFailed)
	}
	defer stderrR.Close()

	ctl := sigctl.New(0, cfg.NotifyPID, cfg.HasNotifyPID)
	defer ctl.Stop()

	// Step 7: create the cgroup before fork so the child can join it
	// before exec and before it loses privileges.
	mgr, err := cgroupmgr.New(version, os.Getpid(), cfg.Limits.CPUSet)
	if err != nil {
		return 0, err
	}
	if err := mgr.Create(cgroupmgr.Limits{MemoryBytes: cfg.Limits.MemoryBytes, CPUSet: cfg.Limits.CPUSet}); err != nil {
		return 0, err
	}
	defer func() {
		_ = mgr.KillAll()
		_ = mgr.Delete()
	}()

	// Step 8: unshare namespaces before fork. CLONE_NEWNS-class flags are
	// thread-scoped, so the OS thread must be locked before and must not
	// be released until after the fork that inherits this namespace set
	// — see SPEC_FULL.md §9 "Namespaces unshare before fork".
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := unshareNamespaces(); err != nil {
		return 0, err
	}

	// Step 9: reset a negative OOM-score-adj inherited from the caller.
	resetOOMScoreAdj()

	// Step 10: fork (build + start the restricted child) then run the
	// Supervisor Loop.
	req := buildRequest(cfg, mgr.Path(), int(version))
	cmd, reqW, err := startChild(cfg, req, stdoutW, stderrW)
	if err != nil {
		return 0, err
	}
	// Parent closes its copies of the write ends once the child has them.
	_ = stdoutW.Close()
	_ = stderrW.Close()
	_ = reqW.Close()

	childPID := cmd.Process.Pid
	ctl.SetChildPGID(childPID) // the child called setsid(); its pgid == its pid

	if err := mgr.Attach(childPID); err != nil {
		logger.Warnf(context.Background(), "attach child to cgroup failed: %v", err)
	}

	if err := unix.SetNonblock(int(stdoutR.Fd()), true); err != nil {
		return 0, rgerrors.Wrap(err, rgerrors.PipeFailed)
	}
	if err := unix.SetNonblock(int(stderrR.Fd()), true); err != nil {
		return 0, rgerrors.Wrap(err, rgerrors.PipeFailed)
	}

	stdoutSink, stderrSink, closeSinks, err := openRedirectFiles(cfg)
	if err != nil {
		return 0, err
	}
	defer closeSinks()

	stdoutPump := iopump.New(stdoutR, stdoutSink, cfg.Limits.StreamCapBytes)
	stderrPump := iopump.New(stderrR, stderrSink, cfg.Limits.StreamCapBytes)

	hardWall := time.Duration(0)
	if cfg.Limits.WallTime.Set {
		hardWall = time.Duration(cfg.Limits.WallTime.Hard * float64(time.Second))
	}

	start := time.Now()
	result, runErr := supervisor.Run(supervisor.Params{
		Cmd:         cmd,
		Ctl:         ctl,
		StdoutPump:  stdoutPump,
		StderrPump:  stderrPump,
		HardWallDur: hardWall,
	})
	wallElapsed := time.Since(start)
	if runErr != nil {
		return 0, runErr
	}

	if err := mgr.CheckEmpty(); err != nil {
		logger.Warnf(context.Background(), "cgroup not empty after reap: %v", err)
	}

	stats, sampleErr := mgr.Sample()
	if sampleErr != nil {
		return 0, sampleErr
	}
	if result.WaitStatus.Signaled() && result.WaitStatus.Signal() == syscall.SIGKILL && mgr.WasOOMKilled() {
		logger.Warnf(context.Background(), "child killed by the kernel OOM killer inside its cgroup")
	}

	outcome := &report.Outcome{
		WaitStatus:      result.WaitStatus,
		WallTimeSeconds: wallElapsed.Seconds(),
		CPUTimeSeconds:  stats.CPUTimeSeconds,
		MemoryPeakBytes: stats.MemoryPeakBytes,
		ReceivedSignal:  ctl.ReceivedSignal(),
		ReportClock:     cfg.Limits.ReportClock,
		StdinBytes:      0,
		StdoutBytes:     stdoutPump.BytesRead(),
		StderrBytes:     stderrPump.BytesRead(),
		StdoutPassed:    stdoutPump.BytesPassed(),
		StderrPassed:    stderrPump.BytesPassed(),
	}
	if state := cmd.ProcessState; state != nil {
		outcome.UserTimeSeconds = state.UserTime().Seconds()
		outcome.SysTimeSeconds = state.SystemTime().Seconds()
	}
	if ctl.WallLimitReachedHard() {
		outcome.WallLimitReached |= report.HardLimit
	}
	outcome.ApplySoftLimits(cfg.Limits)

	code, codeErr := outcome.ExitCode()
	if codeErr != nil {
		return 0, rgerrors.Wrap(codeErr, rgerrors.UnknownExitStatus)
	}

	outcome.WriteTo(sink, code)
	return code, nil
}

func validateCPUSet(cpuset string) error {
	if cpuset == "" {
		return nil
	}
	n, err := strconv.Atoi(cpuset)
	if err != nil {
		return nil // non-bare-integer specs (e.g. "0,2-3") are passed through uninterpreted
	}
	online := runtime.NumCPU()
	if n < 0 || n >= online {
		return rgerrors.New(rgerrors.InvalidCPUSet).WithDetail("cpu", n).WithDetail("online", online)
	}
	return nil
}

// unshareNamespaces detaches this process from the shared kernel views
// SPEC_FULL.md §6 names: files, fs, IPC, network, mount, UTS, and SysV
// semaphores, matching runguard.cc's unshare() flag set exactly.
func unshareNamespaces() error {
	flags := unix.CLONE_FILES | unix.CLONE_FS |
		unix.CLONE_NEWIPC | unix.CLONE_NEWNET | unix.CLONE_NEWNS | unix.CLONE_NEWUTS |
		unix.CLONE_SYSVSEM
	if err := unix.Unshare(flags); err != nil {
		return rgerrors.Wrap(err, rgerrors.UnshareFailed)
	}
	return nil
}

// resetOOMScoreAdj implements SPEC_FULL.md §4.8 step 9: a negative
// inherited oom_score_adj would bias the kernel OOM killer away from this
// process's children, turning an out-of-memory condition into a
// misleading timeout instead. Only resets when negative; a non-negative
// value (including the default 0) is left untouched.
func resetOOMScoreAdj() {
	const path = "/proc/self/oom_score_adj"
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	val, err := strconv.Atoi(trimNewline(string(data)))
	if err != nil || val >= 0 {
		return
	}
	_ = os.WriteFile(path, []byte("0\n"), 0644)
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}

func buildRequest(cfg *config.Config, cgroupPath string, cgroupVersion int) restrict.Request {
	req := restrict.Request{
		Command:       cfg.Command,
		CgroupPath:    cgroupPath,
		CgroupVersion: cgroupVersion,
		RootDir:       cfg.Identity.RootDir,
		RootChdir:     cfg.Identity.RootChdir,
		NoCore:        cfg.Limits.NoCoreDump,
		RealUID:       os.Getuid(),
	}
	if cfg.Limits.CPUTime.Set {
		req.CPUTimeSoftSeconds = cfg.Limits.CPUTime.Soft
		req.CPUTimeHardSeconds = cfg.Limits.CPUTime.Hard
	}
	if cfg.Limits.FileBytes != config.Unlimited {
		req.FileBytes = cfg.Limits.FileBytes
	}
	if cfg.Limits.NProc != config.Unlimited {
		req.NProc = cfg.Limits.NProc
	}
	if cfg.Identity.HasGID {
		req.HasGID = true
		req.GID = cfg.Identity.RunGID
	}
	if cfg.Identity.HasUID {
		req.HasUID = true
		req.UID = cfg.Identity.RunUID
	}
	req.Env = buildEnv(cfg)
	return req
}

func buildEnv(cfg *config.Config) []string {
	var env []string
	if cfg.PreserveEnv {
		env = os.Environ()
	} else if path, ok := os.LookupEnv("PATH"); ok {
		env = []string{"PATH=" + path}
	}
	env = append(env, cfg.EnvAssigns...)
	return env
}

// startChild starts cmd/runguard-init, wiring: stdin passthrough, stdout
// and stderr to the pipe write ends the I/O pump reads from, and the JSON
// restrictions request on fd 3. Go's exec.Cmd performs the fd-1/fd-2
// dup-then-close sequence itself, so the parent never manually dup2s
// pipe ends onto child fds (SPEC_FULL.md §9 "Stdout/stderr plumbing
// reuses os/exec").
func startChild(cfg *config.Config, req restrict.Request, stdoutW, stderrW *os.File) (*exec.Cmd, *os.File, error) {
	reqR, reqW, err := os.Pipe()
	if err != nil {
		return nil, nil, rgerrors.Wrap(err, rgerrors.PipeFailed)
	}

	helperPath, err := exec.LookPath("runguard-init")
	if err != nil {
		reqR.Close()
		reqW.Close()
		return nil, nil, rgerrors.Wrap(err, rgerrors.ExecFailed).WithMessage("locate runguard-init")
	}

	cmd := exec.Command(helperPath)
	cmd.Stdin = os.Stdin
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.ExtraFiles = []*os.File{reqR} // inherited as fd 3 in the child

	go func() {
		enc := json.NewEncoder(reqW)
		_ = enc.Encode(req)
		_ = reqW.Close()
	}()

	if err := cmd.Start(); err != nil {
		reqR.Close()
		return nil, nil, rgerrors.Wrap(err, rgerrors.ForkFailed)
	}
	_ = reqR.Close()
	return cmd, reqW, nil
}

func openRedirectFiles(cfg *config.Config) (stdout, stderr *os.File, closeFn func(), err error) {
	closeFn = func() {}
	stdout = os.Stdout
	stderr = os.Stderr
	if cfg.StdoutFile != "" {
		stdout, err = os.OpenFile(cfg.StdoutFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return nil, nil, closeFn, rgerrors.Wrap(err, rgerrors.InternalServerError)
		}
	}
	if cfg.StderrFile != "" {
		stderr, err = os.OpenFile(cfg.StderrFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			if stdout != os.Stdout {
				stdout.Close()
			}
			return nil, nil, closeFn, rgerrors.Wrap(err, rgerrors.InternalServerError)
		}
	}
	closeFn = func() {
		if stdout != os.Stdout {
			stdout.Close()
		}
		if stderr != os.Stderr {
			stderr.Close()
		}
	}
	return stdout, stderr, closeFn, nil
}
