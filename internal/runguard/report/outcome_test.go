package report

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"runguard/internal/runguard/config"
)

func TestExitCodeNormal(t *testing.T) {
	o := &Outcome{WaitStatus: makeExitedStatus(42)}
	code, err := o.ExitCode()
	if err != nil {
		t.Fatal(err)
	}
	if code != 42 {
		t.Fatalf("code = %d, want 42", code)
	}
}

func TestExitCodeSignaled(t *testing.T) {
	o := &Outcome{WaitStatus: makeSignaledStatus(syscall.SIGKILL)}
	code, err := o.ExitCode()
	if err != nil {
		t.Fatal(err)
	}
	if code != 128+int(syscall.SIGKILL) {
		t.Fatalf("code = %d, want %d", code, 128+int(syscall.SIGKILL))
	}
}

func TestExitCodeSIGXCPUSetsHardBit(t *testing.T) {
	o := &Outcome{WaitStatus: makeSignaledStatus(syscall.SIGXCPU)}
	if _, err := o.ExitCode(); err != nil {
		t.Fatal(err)
	}
	if o.CPULimitReached&HardLimit == 0 {
		t.Fatal("expected CPULimitReached hard bit to be set on SIGXCPU")
	}
}

func TestTimeResultHardPrecedence(t *testing.T) {
	o := &Outcome{WallLimitReached: SoftLimit, CPULimitReached: HardLimit}
	if got := o.TimeResult(); got != "hard-timelimit" {
		t.Fatalf("TimeResult() = %q, want hard-timelimit", got)
	}
}

func TestTimeResultSoftOnAuthoritativeClock(t *testing.T) {
	o := &Outcome{WallLimitReached: SoftLimit, ReportClock: "wall-time"}
	if got := o.TimeResult(); got != "soft-timelimit" {
		t.Fatalf("TimeResult() = %q, want soft-timelimit", got)
	}
}

func TestTimeResultSoftOnNonAuthoritativeClockIsIgnored(t *testing.T) {
	// A soft breach on wall-time doesn't count when the configured report
	// clock is cpu-time, matching runguard.cc:446-464.
	o := &Outcome{WallLimitReached: SoftLimit, ReportClock: "cpu-time"}
	if got := o.TimeResult(); got != "" {
		t.Fatalf("TimeResult() = %q, want empty", got)
	}
}

func TestTimeResultSoftDefaultsToCPUTimeClock(t *testing.T) {
	o := &Outcome{CPULimitReached: SoftLimit}
	if got := o.TimeResult(); got != "soft-timelimit" {
		t.Fatalf("TimeResult() = %q, want soft-timelimit", got)
	}
}

func TestTimeResultNone(t *testing.T) {
	o := &Outcome{}
	if got := o.TimeResult(); got != "" {
		t.Fatalf("TimeResult() = %q, want empty", got)
	}
}

func TestTimeUsedDefaultsToCPUTime(t *testing.T) {
	o := &Outcome{}
	if got := o.TimeUsed(); got != "cpu-time" {
		t.Fatalf("TimeUsed() = %q, want cpu-time", got)
	}
}

func TestTimeUsedFollowsConfiguredClockNotWhichLimitFired(t *testing.T) {
	// -t configured as the report clock but the cpu limit is what actually
	// fired: time-used still reports wall-time, per runguard.cc:1097-1153.
	o := &Outcome{ReportClock: "wall-time", CPULimitReached: SoftLimit}
	if got := o.TimeUsed(); got != "wall-time" {
		t.Fatalf("TimeUsed() = %q, want wall-time", got)
	}
}

func TestApplySoftLimits(t *testing.T) {
	o := &Outcome{WallTimeSeconds: 2.0, CPUTimeSeconds: 0.5}
	limits := config.Limits{
		WallTime: config.TimeLimit{Soft: 1.0, Hard: 3.0, Set: true},
		CPUTime:  config.TimeLimit{Soft: 1.0, Hard: 3.0, Set: true},
	}
	o.ApplySoftLimits(limits)
	if o.WallLimitReached&SoftLimit == 0 {
		t.Fatal("expected wall soft bit set")
	}
	if o.CPULimitReached&SoftLimit != 0 {
		t.Fatal("did not expect cpu soft bit set")
	}
}

func TestOutputTruncated(t *testing.T) {
	cases := []struct {
		name                       string
		stdoutPassed, stdoutBytes int64
		stderrPassed, stderrBytes int64
		want                       string
	}{
		{"none", 10, 10, 10, 10, ""},
		{"stdout only", 5, 10, 10, 10, "stdout"},
		{"stderr only", 10, 10, 5, 10, "stderr"},
		{"both", 5, 10, 5, 10, "stdout,stderr"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := &Outcome{StdoutPassed: tc.stdoutPassed, StdoutBytes: tc.stdoutBytes, StderrPassed: tc.stderrPassed, StderrBytes: tc.stderrBytes}
			if got := o.OutputTruncated(); got != tc.want {
				t.Fatalf("OutputTruncated() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSinkFailFatalOnlyOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta")
	sink, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	sink.FailFatal("first failure")
	sink.FailFatal("second failure, should be suppressed")
	sink.WriteKV("exitcode", "1")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "first failure") {
		t.Fatalf("missing first failure record: %q", content)
	}
	if strings.Contains(content, "second failure") {
		t.Fatalf("second failure should have been suppressed: %q", content)
	}
	if strings.Contains(content, "exitcode") {
		t.Fatalf("writes after FailFatal should be suppressed: %q", content)
	}
}

func TestSinkDisabledWithNoPath(t *testing.T) {
	sink, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	sink.WriteKV("exitcode", "0") // must not panic
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func makeExitedStatus(code int) syscall.WaitStatus {
	// syscall.WaitStatus on linux/amd64 is a uint32 wrapping the raw wait(2)
	// status word; exited processes encode the exit code in bits 8-15.
	return syscall.WaitStatus(code << 8)
}

func makeSignaledStatus(sig syscall.Signal) syscall.WaitStatus {
	return syscall.WaitStatus(int(sig))
}
