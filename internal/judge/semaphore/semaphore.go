// Package semaphore implements the machine-wide, fail-fast admission gate for the judge.
//
// The gate is a lock file created exclusively. Holding the file means holding the
// judge; a second caller gets a busy error immediately and is never queued.
package semaphore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	appErr "codeassess/pkg/errors"
	"codeassess/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultStaleAfter is how old a lock may get before it is reclaimed regardless of its owner.
	DefaultStaleAfter = 120 * time.Second
	// DefaultLockName is the file name used under the OS temp directory.
	DefaultLockName = "codeassess-judge.lock"

	EnvLockPath   = "JUDGE_LOCK_PATH"
	EnvStaleAfter = "JUDGE_LOCK_STALE_MS"
)

// Acquirer is the admission contract consumed by the judge entry point.
type Acquirer interface {
	TryAcquire(ctx context.Context) (*Handle, error)
}

// Config controls where the lock lives and when it goes stale.
type Config struct {
	Path       string        `yaml:"path"`
	StaleAfter time.Duration `yaml:"staleAfter"`
}

// ConfigFromEnv fills unset fields from JUDGE_LOCK_PATH and JUDGE_LOCK_STALE_MS.
func ConfigFromEnv(cfg Config) Config {
	if cfg.Path == "" {
		cfg.Path = os.Getenv(EnvLockPath)
	}
	if cfg.StaleAfter == 0 {
		if raw := os.Getenv(EnvStaleAfter); raw != "" {
			if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
				cfg.StaleAfter = time.Duration(ms) * time.Millisecond
			}
		}
	}
	return cfg
}

// lockInfo is the lock file payload.
type lockInfo struct {
	PID       int   `json:"pid"`
	StartedAt int64 `json:"startedAt"` // unix milliseconds
}

// Semaphore is a single-slot lock-file gate.
type Semaphore struct {
	path       string
	staleAfter time.Duration
	pid        int
	now        func() time.Time
	alive      func(pid int) bool
}

// Option customizes a Semaphore.
type Option func(*Semaphore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Semaphore) { s.now = now }
}

// WithLivenessCheck overrides how owner processes are checked.
func WithLivenessCheck(alive func(pid int) bool) Option {
	return func(s *Semaphore) { s.alive = alive }
}

// New creates a semaphore. An empty path selects the OS temp directory.
func New(cfg Config, opts ...Option) *Semaphore {
	path := cfg.Path
	if path == "" {
		path = filepath.Join(os.TempDir(), DefaultLockName)
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	s := &Semaphore{
		path:       path,
		staleAfter: staleAfter,
		pid:        os.Getpid(),
		now:        time.Now,
		alive:      processAlive,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the lock file location.
func (s *Semaphore) Path() string {
	return s.path
}

// TryAcquire takes the judge slot or fails immediately with a JudgeBusy error.
// A stale lock is reclaimed and acquisition is retried exactly once.
func (s *Semaphore) TryAcquire(ctx context.Context) (*Handle, error) {
	handle, err := s.create()
	if err == nil {
		return handle, nil
	}
	if !errors.Is(err, os.ErrExist) {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "create judge lock failed")
	}

	state := s.inspect()
	switch {
	case state.missing:
		// Released between our create and read; only the retry below may take it.
	case !state.stale:
		return nil, appErr.Busy("").
			WithDetail("lock_path", s.path).
			WithDetail("owner_pid", state.info.PID).
			WithDetail("started_at", state.info.StartedAt)
	default:
		logger.Warn(ctx, "reclaiming stale judge lock",
			zap.String("lock_path", s.path),
			zap.Int("owner_pid", state.info.PID),
			zap.String("reason", state.reason),
		)
		if !s.reclaim(state.raw) {
			return nil, appErr.Busy("").WithDetail("lock_path", s.path)
		}
	}

	handle, err = s.create()
	if err == nil {
		return handle, nil
	}
	if errors.Is(err, os.ErrExist) {
		return nil, appErr.Busy("").WithDetail("lock_path", s.path)
	}
	return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "create judge lock failed")
}

// create writes the payload to a private file and hard-links it into place,
// so the lock never exists without its content.
func (s *Semaphore) create() (*Handle, error) {
	payload, _ := json.Marshal(lockInfo{PID: s.pid, StartedAt: s.now().UnixMilli()})
	tmp := s.path + ".tmp-" + uuid.NewString()
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("create lock temp file: %w", err)
	}
	defer os.Remove(tmp)
	_, werr := f.Write(payload)
	cerr := f.Close()
	if werr != nil {
		return nil, fmt.Errorf("write lock file: %w", werr)
	}
	if cerr != nil {
		return nil, fmt.Errorf("close lock file: %w", cerr)
	}
	if err := os.Link(tmp, s.path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, os.ErrExist
		}
		return nil, fmt.Errorf("link lock file: %w", err)
	}
	return &Handle{path: s.path, payload: payload}, nil
}

// lockState is one observation of the lock file.
type lockState struct {
	raw     []byte
	info    lockInfo
	missing bool
	stale   bool
	reason  string
}

// inspect reads the current lock. Unreadable or corrupt locks are stale;
// a missing one is reported as such and never reclaimed.
func (s *Semaphore) inspect() lockState {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return lockState{missing: true}
	}
	if err != nil {
		return lockState{stale: true, reason: "unreadable"}
	}
	state := lockState{raw: raw, stale: true}
	if err := json.Unmarshal(raw, &state.info); err != nil || state.info.PID <= 0 || state.info.StartedAt <= 0 {
		state.reason = "corrupt"
		return state
	}
	if !s.alive(state.info.PID) {
		state.reason = "owner not alive"
		return state
	}
	if s.now().Sub(time.UnixMilli(state.info.StartedAt)) > s.staleAfter {
		state.reason = "expired"
		return state
	}
	state.stale = false
	return state
}

// reclaim removes the lock only if it still matches what was judged stale.
// The file is renamed aside first so a lock created concurrently by someone
// else is put back instead of being deleted. A nil observation means the lock
// was unreadable, and only a still unreadable file matches it.
func (s *Semaphore) reclaim(observed []byte) bool {
	tomb := s.path + ".stale-" + uuid.NewString()
	if err := os.Rename(s.path, tomb); err != nil {
		// Gone already; the exclusive retry decides who gets it.
		return errors.Is(err, os.ErrNotExist)
	}
	defer os.Remove(tomb)
	current, err := os.ReadFile(tomb)
	var matches bool
	if observed == nil {
		matches = err != nil
	} else {
		matches = err == nil && bytes.Equal(current, observed)
	}
	if !matches {
		_ = os.Link(tomb, s.path)
		return false
	}
	return true
}

// Handle is a held judge slot.
type Handle struct {
	path    string
	payload []byte
	once    sync.Once
}

// Release deletes the lock file. It is idempotent and never fails;
// a lock that was reclaimed and re-taken by another owner is left alone.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		current, err := os.ReadFile(h.path)
		if err != nil || !bytes.Equal(current, h.payload) {
			return
		}
		_ = os.Remove(h.path)
	})
}
