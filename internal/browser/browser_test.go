package browser

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeBrowser writes a tiny shell script that sleeps so tests can launch
// and kill a real child process without depending on an installed browser.
func fakeBrowser(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-browser.sh")
	script := "#!/bin/sh\ntrap 'exit 0' TERM\nsleep 30 &\nwait $!\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("write fake browser: %v", err)
	}
	return path
}

func TestLaunchRefusesDuplicateSession(t *testing.T) {
	exe := fakeBrowser(t)
	sup := NewSupervisor(exe)

	h, err := sup.Launch(LaunchOptions{SessionID: "s1"})
	if err != nil {
		t.Fatalf("unexpected launch error: %v", err)
	}
	defer sup.Kill("s1")

	if _, err := sup.Launch(LaunchOptions{SessionID: "s1"}); err != ErrAlreadyRunning {
		t.Fatalf("want ErrAlreadyRunning, got %v", err)
	}

	if !sup.Has("s1") {
		t.Fatalf("expected supervisor to report the session has a browser")
	}
	if h.PID == 0 {
		t.Fatalf("expected a non-zero pid")
	}
}

func TestKillReportsUnknownSession(t *testing.T) {
	sup := NewSupervisor(fakeBrowser(t))
	if sup.Kill("nope") {
		t.Fatalf("expected Kill to report false for an unknown session")
	}
}

func TestKillTerminatesAndClearsBookkeeping(t *testing.T) {
	exe := fakeBrowser(t)
	sup := NewSupervisor(exe)

	exited := make(chan struct{}, 1)
	sup.OnExited(func(sessionID string, code *int) {
		exited <- struct{}{}
	})

	if _, err := sup.Launch(LaunchOptions{SessionID: "s1"}); err != nil {
		t.Fatalf("unexpected launch error: %v", err)
	}

	if !sup.Kill("s1") {
		t.Fatalf("expected Kill to report true for a known session")
	}

	select {
	case <-exited:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for onExited")
	}

	if sup.Has("s1") {
		t.Fatalf("expected bookkeeping cleared after exit")
	}
}

func TestFindExecutablePrefersOverride(t *testing.T) {
	exe := fakeBrowser(t)
	sup := NewSupervisor(exe)

	found, ok := sup.FindExecutable()
	if !ok || found != exe {
		t.Fatalf("want override %s, got %s (ok=%v)", exe, found, ok)
	}
}
