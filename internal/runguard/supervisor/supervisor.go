// Package supervisor implements the RUNNING -> DRAINING -> REAPED
// transitions of the Supervisor Loop state machine (SPEC_FULL.md §4.5),
// given a command the Process Entry has already started. Fork, restrict,
// and exec happen before this package is reached (cmd/runguard/main.go
// starts cmd/runguard-init); this package owns only the multiplexed wait.
//
// Go has no single pselect call spanning both signals and pipe fds, so
// where the C original blocks in one syscall, this loop runs cooperating
// goroutines (one per pumped stream, one for cmd.Wait()) feeding a single
// select, which is this corpus's idiom for the same multiplexed-wait role
// (the teacher's engine_linux.go already runs a wall-timer goroutine
// alongside cmd.Wait() and reconciles via a done channel).
package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"runguard/internal/runguard/iopump"
	"runguard/internal/runguard/sigctl"
)

// Params bundles everything Run needs once the child is already started.
type Params struct {
	Cmd         *exec.Cmd
	Ctl         *sigctl.Controller
	StdoutPump  *iopump.Pump
	StderrPump  *iopump.Pump
	HardWallDur time.Duration // 0 = no wall-time limit armed
}

// Result is what Run hands back to the Outcome Reporter.
type Result struct {
	WaitStatus syscall.WaitStatus
}

// Run drives RUNNING through REAPED: waits on signals, the two pump
// goroutines, and child exit concurrently, terminates the child group on
// SIGTERM, and only samples the final outcome once the child has been
// reaped AND both pumps have reported their own EOF — never while a pump
// goroutine is still touching its Pump's counters or fd.
func Run(p Params) (Result, error) {
	if p.HardWallDur > 0 {
		p.Ctl.ArmWallTimer(p.HardWallDur)
		defer p.Ctl.DisarmWallTimer()
	}

	pumpErrs := make(chan error, 2)
	go func() { pumpErrs <- p.StdoutPump.PumpUntilClosed() }()
	go func() { pumpErrs <- p.StderrPump.PumpUntilClosed() }()

	waitDone := make(chan error, 1)
	go func() { waitDone <- p.Cmd.Wait() }()

	pumpsRemaining := 2
	reaped := false
	var waitErr error

	for {
		if p.Ctl.ErrorInSignalHandler() {
			return Result{}, fmt.Errorf("signal handler reported an error during termination")
		}
		select {
		case sig := <-p.Ctl.Events():
			if sig == syscall.SIGTERM {
				p.Ctl.HandleSIGTERM()
			}
			// SIGCHLD carries no payload the loop needs directly; the
			// cmd.Wait() goroutine above is what actually observes the
			// exit and unblocks waitDone.

		case err := <-pumpErrs:
			if err != nil {
				return Result{}, fmt.Errorf("io pump: %w", err)
			}
			pumpsRemaining--
			if pumpsRemaining == 0 && reaped {
				return reapResult(p, waitErr)
			}

		case werr := <-waitDone:
			waitErr = werr
			reaped = true
			if pumpsRemaining == 0 {
				return reapResult(p, waitErr)
			}
		}
	}
}

// reapResult is only reached once both PumpUntilClosed goroutines have
// exited (so their Pumps are no longer mutated from another goroutine) and
// cmd.Wait() has populated ProcessState.
func reapResult(p Params, waitErr error) (Result, error) {
	if p.Ctl.ErrorInSignalHandler() {
		return Result{}, fmt.Errorf("signal handler reported an error during termination")
	}
	ws, ok := extractWaitStatus(p.Cmd.ProcessState)
	if !ok {
		return Result{}, fmt.Errorf("unknown exit status for pid %d: %v", p.Cmd.Process.Pid, waitErr)
	}
	return Result{WaitStatus: ws}, nil
}

// extractWaitStatus pulls the raw wait(2) status word out of the
// *os.ProcessState exec.Cmd.Wait() populates, however it exited.
func extractWaitStatus(state *os.ProcessState) (syscall.WaitStatus, bool) {
	if state == nil {
		return 0, false
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	return ws, ok
}
