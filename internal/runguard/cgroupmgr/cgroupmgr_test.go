package cgroupmgr

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func withFakeMountRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old := mountRoot
	mountRoot = dir
	t.Cleanup(func() { mountRoot = old })
	return dir
}

func TestUniqueNameTruncatesCPUSetPrefix(t *testing.T) {
	name := UniqueName(1234, "0123456789012345678")
	if !strings.HasPrefix(name, "domjudge/dj_cgroup_1234_0123456789012345_") {
		t.Fatalf("unexpected name: %s", name)
	}
}

func TestUniqueNameEmptyCPUSet(t *testing.T) {
	name := UniqueName(1, "")
	if !strings.Contains(name, "_none_") {
		t.Fatalf("expected 'none' placeholder, got %s", name)
	}
}

func TestManagerV2CreateAttachSample(t *testing.T) {
	withFakeMountRoot(t)
	m := &managerV2{name: "domjudge/test_cgroup"}
	if err := m.Create(Limits{MemoryBytes: 1024 * 1024}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Attach(4242); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if data, err := os.ReadFile(filepath.Join(m.dir(), "cgroup.procs")); err != nil || string(data) != "4242" {
		t.Fatalf("cgroup.procs = %q, %v; want \"4242\"", data, err)
	}
	if err := os.WriteFile(filepath.Join(m.dir(), "cpu.stat"), []byte("usage_usec 2000000\n"), 0640); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(m.dir(), "memory.peak"), []byte("524288\n"), 0640); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(m.dir(), "cgroup.procs"), []byte(""), 0640); err != nil {
		t.Fatal(err)
	}
	stats, err := m.Sample()
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if stats.MemoryPeakBytes != 524288 {
		t.Fatalf("MemoryPeakBytes = %d", stats.MemoryPeakBytes)
	}
	if stats.CPUTimeSeconds != 2.0 {
		t.Fatalf("CPUTimeSeconds = %v", stats.CPUTimeSeconds)
	}
	if err := m.CheckEmpty(); err != nil {
		t.Fatalf("CheckEmpty: %v", err)
	}
}

func TestManagerV2CheckEmptyFailsWhenPopulated(t *testing.T) {
	withFakeMountRoot(t)
	m := &managerV2{name: "domjudge/test_cgroup"}
	if err := m.Create(Limits{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := os.WriteFile(filepath.Join(m.dir(), "cgroup.procs"), []byte("4242\n"), 0640); err != nil {
		t.Fatal(err)
	}
	if err := m.CheckEmpty(); err == nil {
		t.Fatal("expected CheckEmpty to fail with a surviving process")
	}
}

func TestManagerV2SampleMissingMemoryPeakIsFatal(t *testing.T) {
	withFakeMountRoot(t)
	m := &managerV2{name: "domjudge/test_cgroup"}
	if err := m.Create(Limits{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Sample(); err == nil {
		t.Fatal("expected fatal error when memory.peak is missing")
	}
}

func TestDetectVersion(t *testing.T) {
	dir := t.TempDir()
	withFakeMountRoot(t)
	mountsFile := filepath.Join(dir, "mounts")
	content := "cgroup2 " + mountRoot + " cgroup2 rw 0 0\n"
	if err := os.WriteFile(mountsFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	oldMountsPath := mountsPath
	mountsPath = mountsFile
	defer func() { mountsPath = oldMountsPath }()

	v, err := DetectVersion()
	if err != nil {
		t.Fatalf("DetectVersion: %v", err)
	}
	if v != V2 {
		t.Fatalf("expected V2, got %v", v)
	}
}
