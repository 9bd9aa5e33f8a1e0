package report

import (
	"fmt"
	"syscall"

	"runguard/internal/runguard/config"
)

// LimitBit mirrors spec.md's {soft=1, hard=2} bitmask.
type LimitBit int

const (
	SoftLimit LimitBit = 1
	HardLimit LimitBit = 2
)

// Outcome aggregates everything the Outcome Reporter needs to classify
// and write, gathered by the Supervisor Loop across reap, cgroup
// sampling, and the I/O pump.
type Outcome struct {
	WaitStatus syscall.WaitStatus

	WallTimeSeconds float64
	UserTimeSeconds float64
	SysTimeSeconds  float64
	CPUTimeSeconds  float64 // from the cgroup sample; authoritative over user+sys

	MemoryPeakBytes int64

	WallLimitReached LimitBit // 0, SoftLimit, or SoftLimit|HardLimit
	CPULimitReached  LimitBit

	StdinBytes   int64
	StdoutBytes  int64
	StderrBytes  int64
	StdoutPassed int64
	StderrPassed int64

	ReceivedSignal syscall.Signal // 0 = none

	// ReportClock is the configured -t/-C report clock ("wall-time" or
	// "cpu-time", set from config.Limits.ReportClock). It is fixed by the
	// command line, not by which limit actually fired.
	ReportClock string
}

// ExitCode derives the process exit code from the wait status per
// SPEC_FULL.md §4.5: normal exit returns WEXITSTATUS; a terminating
// signal (including SIGXCPU, which additionally sets the cpu hard bit)
// returns 128+signal; a stop is mapped the same way, to 128+stop signal
// (no warning is emitted for a signal or a stop); anything else is
// returned as an error, which the caller treats as a fatal "unknown exit
// status".
func (o *Outcome) ExitCode() (code int, err error) {
	ws := o.WaitStatus
	switch {
	case ws.Exited():
		return ws.ExitStatus(), nil
	case ws.Signaled():
		sig := ws.Signal()
		if sig == syscall.SIGXCPU {
			o.CPULimitReached |= HardLimit
		}
		return 128 + int(sig), nil
	case ws.Stopped():
		return 128 + int(ws.StopSignal()), nil
	default:
		return 0, fmt.Errorf("unknown exit status: %v", ws)
	}
}

// TimeUsed returns the configured report clock, matching the "time-used"
// metadata key. Unlike the limit bits, this follows runguard.cc's
// outputtimetype: whichever of -t/-C came last on the command line,
// defaulting to "cpu-time" when neither was given, regardless of which
// limit (if any) actually fired.
func (o *Outcome) TimeUsed() string {
	if o.ReportClock == "" {
		return "cpu-time"
	}
	return o.ReportClock
}

// authoritativeLimit returns the LimitBit of the configured report
// clock, matching runguard.cc:446-464 where timelimit_reached is
// computed from only the clock named by outputtimetype.
func (o *Outcome) authoritativeLimit() LimitBit {
	if o.TimeUsed() == "wall-time" {
		return o.WallLimitReached
	}
	return o.CPULimitReached
}

// TimeResult derives the time-result metadata value. Hard-limit
// precedence (spec.md §4.6, §8) considers either clock's hard bit: if
// either wall or cpu hard bit is set, the result is "hard-timelimit"
// regardless of TimeUsed. The soft bit, however, is reported only from
// the authoritative (configured) clock, matching runguard.cc.
func (o *Outcome) TimeResult() string {
	if o.WallLimitReached&HardLimit != 0 || o.CPULimitReached&HardLimit != 0 {
		return "hard-timelimit"
	}
	if o.authoritativeLimit()&SoftLimit != 0 {
		return "soft-timelimit"
	}
	return ""
}

// ApplySoftLimits sets the soft bits by comparing measured times against
// the configured soft limits, the parent-side half of soft-limit
// detection described in SPEC_FULL.md §4.6 (hard bits come from the
// signal handler / SIGXCPU instead).
func (o *Outcome) ApplySoftLimits(limits config.Limits) {
	if limits.WallTime.Set && o.WallTimeSeconds >= limits.WallTime.Soft {
		o.WallLimitReached |= SoftLimit
	}
	if limits.CPUTime.Set && o.CPUTimeSeconds >= limits.CPUTime.Soft {
		o.CPULimitReached |= SoftLimit
	}
}

// OutputTruncated derives the "output-truncated" metadata value.
func (o *Outcome) OutputTruncated() string {
	stdout := o.StdoutPassed < o.StdoutBytes
	stderr := o.StderrPassed < o.StderrBytes
	switch {
	case stdout && stderr:
		return "stdout,stderr"
	case stdout:
		return "stdout"
	case stderr:
		return "stderr"
	default:
		return ""
	}
}

// WriteTo emits the full metadata record for this outcome to sink, per
// the key table in SPEC_FULL.md §4.6. exitCode is passed in because
// ExitCode() has already been resolved by the caller (cmd/runguard's run
// derives it once and reports an internal error instead if derivation
// itself failed).
func (o *Outcome) WriteTo(sink *Sink, exitCode int) {
	sink.WriteKV("exitcode", fmt.Sprintf("%d", exitCode))
	if o.ReceivedSignal != 0 {
		sink.WriteKV("signal", fmt.Sprintf("%d", int(o.ReceivedSignal)))
	}
	sink.WriteKV("wall-time", fmt.Sprintf("%.3f", o.WallTimeSeconds))
	sink.WriteKV("user-time", fmt.Sprintf("%.3f", o.UserTimeSeconds))
	sink.WriteKV("sys-time", fmt.Sprintf("%.3f", o.SysTimeSeconds))
	sink.WriteKV("cpu-time", fmt.Sprintf("%.3f", o.CPUTimeSeconds))
	sink.WriteKV("memory-bytes", fmt.Sprintf("%d", o.MemoryPeakBytes))
	sink.WriteKV("time-used", o.TimeUsed())
	sink.WriteKV("time-result", o.TimeResult())
	sink.WriteKV("output-truncated", o.OutputTruncated())
	sink.WriteKV("stdin-bytes", fmt.Sprintf("%d", o.StdinBytes))
	sink.WriteKV("stdout-bytes", fmt.Sprintf("%d", o.StdoutBytes))
	sink.WriteKV("stderr-bytes", fmt.Sprintf("%d", o.StderrBytes))
}
