package config

import "testing"

func TestParseTimeLimit(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		wantErr bool
		soft    float64
		hard    float64
	}{
		{"empty", "", false, 0, 0},
		{"soft only", "1.5", false, 1.5, 1.5},
		{"soft and hard", "1:2", false, 1, 2},
		{"hard less than soft", "2:1", true, 0, 0},
		{"non numeric", "abc", true, 0, 0},
		{"zero soft", "0", true, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseTimeLimit(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Soft != tc.soft || got.Hard != tc.hard {
				t.Fatalf("got %+v, want soft=%v hard=%v", got, tc.soft, tc.hard)
			}
		})
	}
}

func TestKBToBytesSaturating(t *testing.T) {
	cases := []struct {
		name string
		kb   int64
		want int64
	}{
		{"zero", 0, Unlimited},
		{"negative", -5, Unlimited},
		{"normal", 1024, 1024 * 1024},
		{"overflow", 1 << 62, Unlimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := kbToBytesSaturating(tc.kb); got != tc.want {
				t.Fatalf("kbToBytesSaturating(%d) = %d, want %d", tc.kb, got, tc.want)
			}
		})
	}
}

func TestParseRequiresCommand(t *testing.T) {
	if _, err := Parse([]string{"-t", "1"}); err == nil {
		t.Fatal("expected error when no command is given")
	}
}

func TestParseBasic(t *testing.T) {
	cfg, err := Parse([]string{"-t", "1:2", "-m", "1024", "--", "echo", "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Limits.WallTime.Set || cfg.Limits.WallTime.Soft != 1 || cfg.Limits.WallTime.Hard != 2 {
		t.Fatalf("wall time not parsed: %+v", cfg.Limits.WallTime)
	}
	if cfg.Limits.MemoryBytes != 1024*1024 {
		t.Fatalf("memory bytes = %d, want %d", cfg.Limits.MemoryBytes, 1024*1024)
	}
	if len(cfg.Command) != 2 || cfg.Command[0] != "echo" {
		t.Fatalf("command = %v", cfg.Command)
	}
}

func TestParseReportClockDefaultsToCPUTime(t *testing.T) {
	cfg, err := Parse([]string{"--", "echo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Limits.ReportClock != "cpu-time" {
		t.Fatalf("ReportClock = %q, want cpu-time", cfg.Limits.ReportClock)
	}
}

func TestParseReportClockFollowsLastOfDashTDashC(t *testing.T) {
	cfg, err := Parse([]string{"-C", "5", "-t", "5", "--", "echo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Limits.ReportClock != "wall-time" {
		t.Fatalf("ReportClock = %q, want wall-time", cfg.Limits.ReportClock)
	}

	cfg, err = Parse([]string{"-t", "5", "-C", "5", "--", "echo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Limits.ReportClock != "cpu-time" {
		t.Fatalf("ReportClock = %q, want cpu-time", cfg.Limits.ReportClock)
	}
}

func TestParseRepeatedEnvFlag(t *testing.T) {
	cfg, err := Parse([]string{"-V", "A=1;B=2", "-V", "C=3", "--", "echo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"A=1", "B=2", "C=3"}
	if len(cfg.EnvAssigns) != len(want) {
		t.Fatalf("EnvAssigns = %v, want %v", cfg.EnvAssigns, want)
	}
	for i, v := range want {
		if cfg.EnvAssigns[i] != v {
			t.Fatalf("EnvAssigns[%d] = %q, want %q", i, cfg.EnvAssigns[i], v)
		}
	}
}
