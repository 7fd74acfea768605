package lockfile

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xfidelity/xfidelity/internal/xfierrors"
)

func TestAcquireThenReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir, "corr-1", 0, nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".xfiResults", fileName)); err != nil {
		t.Fatalf("expected lockfile to exist: %v", err)
	}

	lock.Release()
	if _, err := os.Stat(filepath.Join(dir, ".xfiResults", fileName)); !os.IsNotExist(err) {
		t.Fatalf("expected lockfile removed after Release, stat err = %v", err)
	}

	if _, err := Acquire(dir, "corr-2", 0, nil); err != nil {
		t.Fatalf("expected reacquire to succeed after release, got %v", err)
	}
}

func TestAcquireFailsWhileHeld(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir, "corr-1", 0, nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	_, err = Acquire(dir, "corr-2", 0, nil)
	if !errors.Is(err, xfierrors.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestAcquireBreaksStaleLock(t *testing.T) {
	dir := t.TempDir()
	resultsDir := filepath.Join(dir, ".xfiResults")
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	stale := record{PID: 999999, CorrelationID: "stale-run", AcquiredAt: time.Now().Add(-10 * time.Minute)}
	body, _ := json.Marshal(stale)
	if err := os.WriteFile(filepath.Join(resultsDir, fileName), body, 0o644); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}

	lock, err := Acquire(dir, "corr-new", 5*time.Minute, nil)
	if err != nil {
		t.Fatalf("expected a stale lock to be broken, got %v", err)
	}
	lock.Release()
}

func TestAcquireIsAtMostOneWinnerUnderConcurrency(t *testing.T) {
	dir := t.TempDir()

	const n = 16
	var wg sync.WaitGroup
	locks := make([]*Lock, n)
	errs := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			locks[i], errs[i] = Acquire(dir, "corr-race", 0, nil)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < n; i++ {
		if errs[i] == nil {
			winners++
			continue
		}
		if !errors.Is(errs[i], xfierrors.ErrAlreadyRunning) {
			t.Fatalf("goroutine %d: expected ErrAlreadyRunning or nil, got %v", i, errs[i])
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one concurrent Acquire to win, got %d", winners)
	}

	for _, l := range locks {
		if l != nil {
			l.Release()
		}
	}
}

func TestAcquireRespectsCustomStaleTimeout(t *testing.T) {
	dir := t.TempDir()
	resultsDir := filepath.Join(dir, ".xfiResults")
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	recent := record{PID: os.Getpid(), CorrelationID: "recent-run", AcquiredAt: time.Now().Add(-2 * time.Second)}
	body, _ := json.Marshal(recent)
	if err := os.WriteFile(filepath.Join(resultsDir, fileName), body, 0o644); err != nil {
		t.Fatalf("write recent lock: %v", err)
	}

	if _, err := Acquire(dir, "corr-new", 1*time.Minute, nil); !errors.Is(err, xfierrors.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning for a lock younger than the stale timeout, got %v", err)
	}
}
