// Package sigctl implements the Signal & Timer Controller
// (SPEC_FULL.md §4.3) in Go idiom: one goroutine owns a channel
// registered with os/signal.Notify, which already serializes signal
// delivery the way the C original's pselect atomically unmasks SIGCHLD —
// so "handler sets a flag, loop interprets it" (spec.md §9) becomes
// "goroutine receives on a channel, loop selects on it", with no manual
// signal masking required.
package sigctl

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// KillDelay is the pause between SIGTERM and SIGKILL in the terminate
// sequence, matching runguard.cc's killdelay = 100ms.
const KillDelay = 100 * time.Millisecond

// Controller owns the one signal channel for the process. Exactly one
// Controller should exist per supervisor instance.
type Controller struct {
	ch        chan os.Signal
	wallTimer *time.Timer

	childPGID int
	notifyPID int
	hasNotify bool

	receivedSignal       atomic.Int32 // syscall.Signal value, 0 = none
	wallLimitReachedHard atomic.Bool
	errorInSignalHandler atomic.Bool

	mu         sync.Mutex
	killedOnce bool
}

// New creates a Controller for the given child process-group id (the
// kill target is always -childPGID, the whole group). notifyPID/hasNotify
// mirror the -U cooperating-process advisory from SPEC_FULL.md §4.3.
func New(childPGID int, notifyPID int, hasNotify bool) *Controller {
	c := &Controller{
		childPGID: childPGID,
		notifyPID: notifyPID,
		hasNotify: hasNotify,
	}
	c.ch = make(chan os.Signal, 4)
	signal.Notify(c.ch, syscall.SIGCHLD, syscall.SIGTERM)
	return c
}

// SetChildPGID records the kill target once the child has been started
// and has called setsid() (its pgid then equals its pid). The supervisor
// constructs the Controller before the child exists, so this is set
// after Start() rather than passed to New.
func (c *Controller) SetChildPGID(pgid int) {
	c.childPGID = pgid
}

// ArmWallTimer arms the single-shot hard wall-time timer, standing in for
// setitimer in the original. When it fires, the timer's own goroutine runs
// the terminate sequence as a wall alarm (recorded as SIGALRM); nothing is
// sent on the Events() channel.
func (c *Controller) ArmWallTimer(d time.Duration) {
	c.wallTimer = time.AfterFunc(d, func() {
		c.terminate(true)
	})
}

// DisarmWallTimer stops the timer; called right after reap so a slow
// metadata write cannot self-trigger a spurious termination.
func (c *Controller) DisarmWallTimer() {
	if c.wallTimer != nil {
		c.wallTimer.Stop()
	}
}

// Events returns the channel the Supervisor Loop selects on for SIGCHLD
// and SIGTERM.
func (c *Controller) Events() <-chan os.Signal {
	return c.ch
}

// HandleSIGTERM runs the terminate sequence for an externally delivered
// SIGTERM; call this when a receive from Events() yields syscall.SIGTERM.
func (c *Controller) HandleSIGTERM() {
	c.terminate(false)
}

// terminate implements the handler body from SPEC_FULL.md §4.3: notify
// the cooperating pid (wall-alarm case only), record the signal, mark the
// hard bit on wall timeout, then SIGTERM the child group, wait
// KillDelay, SIGKILL, wait KillDelay again.
func (c *Controller) terminate(isWallAlarm bool) {
	c.mu.Lock()
	if c.killedOnce {
		c.mu.Unlock()
		return
	}
	c.killedOnce = true
	c.mu.Unlock()

	if isWallAlarm {
		if c.hasNotify {
			_ = unix.Kill(c.notifyPID, syscall.SIGUSR1)
		}
		c.wallLimitReachedHard.Store(true)
		c.receivedSignal.Store(int32(syscall.SIGALRM))
	} else {
		c.receivedSignal.Store(int32(syscall.SIGTERM))
	}

	c.killGroup(syscall.SIGTERM)
	time.Sleep(KillDelay)
	c.killGroup(syscall.SIGKILL)
	time.Sleep(KillDelay)
}

func (c *Controller) killGroup(sig syscall.Signal) {
	if c.childPGID <= 0 {
		return
	}
	if err := unix.Kill(-c.childPGID, sig); err != nil && err != unix.ESRCH {
		c.errorInSignalHandler.Store(true)
	}
}

// WallLimitReachedHard reports whether the hard wall-time limit fired.
func (c *Controller) WallLimitReachedHard() bool {
	return c.wallLimitReachedHard.Load()
}

// ReceivedSignal returns the last terminating signal observed, or 0.
func (c *Controller) ReceivedSignal() syscall.Signal {
	return syscall.Signal(c.receivedSignal.Load())
}

// ErrorInSignalHandler reports whether a kill() call failed with
// something other than ESRCH, which the Supervisor Loop must treat as
// fatal on its next iteration.
func (c *Controller) ErrorInSignalHandler() bool {
	return c.errorInSignalHandler.Load()
}

// Stop releases the signal registration; call once during shutdown.
func (c *Controller) Stop() {
	signal.Stop(c.ch)
}
