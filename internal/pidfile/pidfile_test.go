package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "envd.pid")

	f, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("pidfile not written: %v", err)
	}
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("Expected own PID in pidfile, got %s", data)
	}

	// A second acquire must refuse while the owner lives.
	if _, err := Acquire(path); err == nil {
		t.Error("Expected second Acquire to fail while owner is running")
	}

	if err := f.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected pidfile to be removed")
	}
}

func TestAcquireReplacesStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "envd.pid")

	// A PID that cannot belong to a live process.
	if err := os.WriteFile(path, []byte("999999999"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	f, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire over stale pidfile failed: %v", err)
	}
	defer f.Release()

	data, _ := os.ReadFile(path)
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("Expected stale pidfile replaced, got %s", data)
	}
}

func TestReleaseTwiceIsSafe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "envd.pid")

	f, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := f.Release(); err != nil {
		t.Fatalf("first Release failed: %v", err)
	}
	if err := f.Release(); err != nil {
		t.Errorf("second Release failed: %v", err)
	}
}
