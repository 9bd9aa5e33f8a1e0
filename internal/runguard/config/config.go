// Package config parses the runguard command line into the immutable
// limit and identity values the rest of the supervisor consumes.
package config

import (
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	rgerrors "runguard/pkg/errors"
)

const version = "runguard 1.0"

// envAssignments implements flag.Value so repeated -V occurrences
// accumulate instead of overwriting each other, per SPEC_FULL.md §6 marking
// -V KEY=VALUE[;...] as repeatable.
type envAssignments struct {
	assigns []string
}

func (e *envAssignments) String() string {
	return strings.Join(e.assigns, ";")
}

func (e *envAssignments) Set(s string) error {
	e.assigns = append(e.assigns, splitAssignments(s)...)
	return nil
}

// timeLimitFlag backs -t/-C. Besides holding the raw "soft[:hard]" text,
// Set records which of the two flags was given last into *clock, matching
// runguard.cc:1148-1153 where the report clock (outputtimetype) tracks
// whichever of -t/-C appears last on the command line, independent of
// which limit actually fires at run time.
type timeLimitFlag struct {
	value string
	clock string // "wall-time" or "cpu-time"
	last  *string
}

func (t *timeLimitFlag) String() string { return t.value }

func (t *timeLimitFlag) Set(s string) error {
	t.value = s
	*t.last = t.clock
	return nil
}

// TimeLimit is a soft/hard pair of seconds, as accepted by -t/-C.
type TimeLimit struct {
	Soft float64
	Hard float64
	Set  bool
}

// Limits holds every resource restriction, immutable once parsed.
type Limits struct {
	WallTime       TimeLimit
	CPUTime        TimeLimit
	MemoryBytes    int64 // -1 means unlimited
	FileBytes      int64 // -1 means unlimited
	NProc          int64 // -1 means unlimited
	CPUSet         string
	StreamCapBytes int64 // -1 means unlimited
	NoCoreDump     bool

	// ReportClock is "wall-time" or "cpu-time": whichever of -t/-C was
	// given last on the command line, defaulting to "cpu-time" when
	// neither is given, per runguard.cc:1097,1148,1153.
	ReportClock string
}

// Unlimited is the sentinel for "no limit configured".
const Unlimited int64 = -1

// Identity holds the privilege-drop and filesystem-isolation parameters.
type Identity struct {
	RunUID    int
	RunGID    int
	HasUID    bool
	HasGID    bool
	RootDir   string
	RootChdir string
}

// Config is the fully parsed command line.
type Config struct {
	Limits   Limits
	Identity Identity

	StdoutFile    string
	StderrFile    string
	MetadataFile  string
	PreserveEnv   bool
	EnvAssigns    []string // raw "KEY=VALUE" pairs, already split on ';'
	NotifyPID     int
	HasNotifyPID  bool
	Verbose       bool
	Quiet         bool
	ValidUsers    string
	Command       []string
}

// Parse parses args (as os.Args[1:]) into a Config. It implements the
// short-flag surface documented in SPEC_FULL.md §6; "--" (or the first
// non-flag token once all recognised flags are consumed) begins the
// command to run.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("runguard", flag.ContinueOnError)
	fs.Usage = func() { printUsage(fs) }

	var (
		root       = fs.String("r", "", "root directory to chroot into")
		user       = fs.String("u", "", "username or uid to run as")
		group      = fs.String("g", "", "group name or gid to run as")
		dir        = fs.String("d", "", "working directory inside the chroot")
		memSize    = fs.Int64("m", 0, "memory limit in KB (0 = unlimited)")
		fileSize   = fs.Int64("f", 0, "output file size limit in KB (0 = unlimited)")
		nproc      = fs.Int64("p", 0, "process count limit (0 = unlimited)")
		cpuset     = fs.String("P", "", "cpuset, e.g. \"0,2-3\"")
		noCore     = fs.Bool("c", false, "disable core dumps")
		outFile    = fs.String("o", "", "redirect stdout to this file")
		errFile    = fs.String("e", "", "redirect stderr to this file")
		streamSize = fs.Int64("s", 0, "stdout/stderr truncation cap in KB (0 = unlimited)")
		preserve   = fs.Bool("E", false, "preserve the caller's environment")
		metaFile   = fs.String("M", "", "metadata output file")
		notifyPID  = fs.Int("U", 0, "pid to notify with SIGUSR1 on wall timeout")
		verbose    = fs.Bool("v", false, "verbose logging")
		quiet      = fs.Bool("q", false, "quiet logging")
		validUsers = fs.String("valid-users", "", "comma-separated allow-list of usernames/globs/uids for -u")
		showVer    = fs.Bool("version", false, "print version and exit")
	)
	var envVars envAssignments
	fs.Var(&envVars, "V", "KEY=VALUE[;KEY2=VALUE2...] to export to the child (repeatable)")

	reportClock := "cpu-time"
	wallTime := &timeLimitFlag{clock: "wall-time", last: &reportClock}
	cpuTime := &timeLimitFlag{clock: "cpu-time", last: &reportClock}
	fs.Var(wallTime, "t", "wall-time limit: soft[:hard] seconds")
	fs.Var(cpuTime, "C", "cpu-time limit: soft[:hard] seconds")

	if err := fs.Parse(args); err != nil {
		return nil, rgerrors.New(rgerrors.InvalidFlag).WithMessage(err.Error())
	}
	if *showVer {
		fmt.Println(version)
		os.Exit(0)
	}

	cfg := &Config{
		StdoutFile:   *outFile,
		StderrFile:   *errFile,
		MetadataFile: *metaFile,
		PreserveEnv:  *preserve,
		Verbose:      *verbose,
		Quiet:        *quiet,
		ValidUsers:   *validUsers,
		Command:      fs.Args(),
	}

	if len(cfg.Command) == 0 {
		return nil, rgerrors.New(rgerrors.MissingCommand)
	}

	cfg.EnvAssigns = envVars.assigns

	if *notifyPID > 0 {
		cfg.NotifyPID = *notifyPID
		cfg.HasNotifyPID = true
	}

	var err error
	cfg.Limits.WallTime, err = parseTimeLimit(wallTime.value)
	if err != nil {
		return nil, err
	}
	cfg.Limits.CPUTime, err = parseTimeLimit(cpuTime.value)
	if err != nil {
		return nil, err
	}
	cfg.Limits.MemoryBytes = kbToBytesSaturating(*memSize)
	cfg.Limits.FileBytes = kbToBytesSaturating(*fileSize)
	cfg.Limits.StreamCapBytes = kbToBytesSaturating(*streamSize)
	cfg.Limits.NProc = nonZeroOrUnlimited(*nproc)
	cfg.Limits.CPUSet = *cpuset
	cfg.Limits.NoCoreDump = *noCore
	cfg.Limits.ReportClock = reportClock

	cfg.Identity.RootDir = *root
	cfg.Identity.RootChdir = *dir

	if *user != "" {
		uid, gid, err := resolveUser(*user)
		if err != nil {
			return nil, err
		}
		cfg.Identity.RunUID = uid
		cfg.Identity.HasUID = true
		cfg.Identity.RunGID = gid
		cfg.Identity.HasGID = true
	}
	if *group != "" {
		gid, err := resolveGroup(*group)
		if err != nil {
			return nil, err
		}
		cfg.Identity.RunGID = gid
		cfg.Identity.HasGID = true
	}

	return cfg, nil
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: runguard [options] -- command [args...]")
	fs.PrintDefaults()
}

// parseTimeLimit parses "soft" or "soft:hard" into a TimeLimit, defaulting
// hard to soft per SPEC_FULL.md §6.
func parseTimeLimit(s string) (TimeLimit, error) {
	if s == "" {
		return TimeLimit{}, nil
	}
	parts := strings.SplitN(s, ":", 2)
	soft, err := strconv.ParseFloat(parts[0], 64)
	if err != nil || soft <= 0 {
		return TimeLimit{}, rgerrors.New(rgerrors.InvalidLimit).WithMessage("invalid time limit: " + s)
	}
	hard := soft
	if len(parts) == 2 {
		hard, err = strconv.ParseFloat(parts[1], 64)
		if err != nil || hard < soft {
			return TimeLimit{}, rgerrors.New(rgerrors.InvalidLimit).WithMessage("hard time limit must be >= soft: " + s)
		}
	}
	return TimeLimit{Soft: soft, Hard: hard, Set: true}, nil
}

// kbToBytesSaturating converts kilobytes to bytes, saturating to Unlimited
// on overflow or a non-positive input, mirroring the C original's
// saturate-to-RLIM_INFINITY behaviour for oversized -m/-f/-s values.
func kbToBytesSaturating(kb int64) int64 {
	if kb <= 0 {
		return Unlimited
	}
	const maxKB = math.MaxInt64 / 1024
	if kb > maxKB {
		return Unlimited
	}
	return kb * 1024
}

func nonZeroOrUnlimited(n int64) int64 {
	if n <= 0 {
		return Unlimited
	}
	return n
}

// splitAssignments splits a "KEY=VALUE;KEY2=VALUE2" string per SPEC_FULL.md
// §4.2 step 1.
func splitAssignments(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
