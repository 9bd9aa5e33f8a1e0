package chrootpolicy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveWithinPrefix(t *testing.T) {
	base := t.TempDir()
	sandbox := filepath.Join(base, "sandbox")
	if err := os.Mkdir(sandbox, 0755); err != nil {
		t.Fatal(err)
	}
	oldPrefix := Prefix
	oldWD, _ := os.Getwd()
	Prefix = base
	defer func() {
		Prefix = oldPrefix
		_ = os.Chdir(oldWD)
	}()

	got, err := Resolve(sandbox)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := filepath.EvalSymlinks(sandbox)
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestResolveEscapesPrefix(t *testing.T) {
	base := t.TempDir()
	prefix := filepath.Join(base, "prefix")
	outside := filepath.Join(base, "outside")
	for _, d := range []string{prefix, outside} {
		if err := os.Mkdir(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	oldPrefix := Prefix
	oldWD, _ := os.Getwd()
	Prefix = prefix
	defer func() {
		Prefix = oldPrefix
		_ = os.Chdir(oldWD)
	}()

	if _, err := Resolve(outside); err == nil {
		t.Fatal("expected escape error")
	}
}
