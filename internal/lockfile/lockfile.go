// Package lockfile implements the A6 subprocess single-flight lock
// (SPEC_FULL.md §5): a named lockfile under a repo's .xfiResults/
// directory enforcing at-most-one concurrent analysis per workspace,
// with a stale-lock break past a hard timeout. Adapted from the
// teacher's internal/killswitch/killswitch.go sentinel-file idiom
// (KillSwitch.fileWatchPath / CheckFileKill), here repurposed from
// "KILL file present blocks all actions" to "lock file present and not
// stale blocks a concurrent run".
package lockfile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xfidelity/xfidelity/internal/xfierrors"
)

const fileName = "xfidelity.lock"

// DefaultStaleTimeout is how old an existing lockfile must be before it
// is considered abandoned (e.g. the prior process crashed without
// releasing it) and broken on startup.
const DefaultStaleTimeout = 5 * time.Minute

// record is the lockfile's JSON body: who holds it and since when.
type record struct {
	PID           int       `json:"pid"`
	CorrelationID string    `json:"correlationId"`
	AcquiredAt    time.Time `json:"acquiredAt"`
}

// Lock represents a held single-flight lock. Release must be called
// once the analysis run completes, whether it succeeded or failed.
type Lock struct {
	path   string
	logger *slog.Logger
}

// Acquire attempts to take the single-flight lock for repoPath's
// .xfiResults directory. It returns xfierrors.ErrAlreadyRunning if a
// non-stale lock is already held. staleTimeout of 0 uses
// DefaultStaleTimeout.
func Acquire(repoPath, correlationID string, staleTimeout time.Duration, logger *slog.Logger) (*Lock, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if staleTimeout <= 0 {
		staleTimeout = DefaultStaleTimeout
	}

	dir := filepath.Join(repoPath, ".xfiResults")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lockfile: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, fileName)

	rec := record{PID: os.Getpid(), CorrelationID: correlationID, AcquiredAt: time.Now()}
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("lockfile: encode: %w", err)
	}

	if err := createExclusive(path, body); err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("lockfile: write %s: %w", path, err)
		}

		// Another holder's file is already there -- it's either a live
		// concurrent run or an abandoned lock past staleTimeout. Only
		// the latter gets broken and retried; a live lock is contention.
		existing, ok := readRecord(path)
		if ok && time.Since(existing.AcquiredAt) < staleTimeout {
			return nil, xfierrors.ErrAlreadyRunning
		}
		if ok {
			logger.Warn("breaking stale lockfile", "path", path, "age", time.Since(existing.AcquiredAt), "heldBy", existing.PID)
		}
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("lockfile: remove stale %s: %w", path, rmErr)
		}
		if err := createExclusive(path, body); err != nil {
			if os.IsExist(err) {
				return nil, xfierrors.ErrAlreadyRunning
			}
			return nil, fmt.Errorf("lockfile: write %s: %w", path, err)
		}
	}

	return &Lock{path: path, logger: logger.With("component", "lockfile.Lock")}, nil
}

// createExclusive atomically creates path and writes body to it, failing
// with an os.IsExist error if path already exists -- the O_EXCL flag
// makes the create-and-check a single kernel operation, closing the
// read-then-write race two processes starting at the same instant would
// otherwise hit.
func createExclusive(path string, body []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(body)
	return err
}

func readRecord(path string) (record, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return record{}, false
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, false
	}
	return rec, true
}

// Release removes the lockfile, freeing the workspace for the next run.
func (l *Lock) Release() {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		l.logger.Warn("failed to remove lockfile", "path", l.path, "error", err)
	}
}
