// Package counter implements the shared counter store: a single
// lock-guarded JSON file holding per-capture receipt counts, mutated by
// whichever receiver process currently holds the exclusive-create lock.
/*
 * Copyright (c) 2024, quidich data-transfer project contributors.
 */
package counter

import (
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	pkgerrors "github.com/pkg/errors"

	"github.com/quidich/framestream/cmn"
	"github.com/quidich/framestream/cmn/cos"
	"github.com/quidich/framestream/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	retryAttempts = 5
	retryDelay    = 2 * time.Millisecond
)

// Store is the JSON-backed map of capture_id -> core.CaptureRecord living
// at <dir>/state.json, guarded by <dir>/state.lock.
type Store struct {
	statePath string
	lockPath  string
}

// New returns a Store rooted at dir (typically
// <receiver_install_dir>/.global_recv_state).
func New(dir string) *Store {
	return &Store{
		statePath: filepath.Join(dir, "state.json"),
		lockPath:  filepath.Join(dir, "state.lock"),
	}
}

// Update applies fn to the capture's current record under the store lock,
// persisting the whole map atomically, and returns the record post-update.
// On lock contention exhausted past the retry budget it returns
// cmn.ErrCounterContended rather than silently skipping the update.
func (s *Store) Update(captureID string, fn func(*core.CaptureRecord)) (core.CaptureRecord, error) {
	if err := os.MkdirAll(filepath.Dir(s.statePath), 0o755); err != nil {
		return core.CaptureRecord{}, cmn.Wrap(cmn.ErrDiskIO, err, "mkdir state dir")
	}

	var rec core.CaptureRecord
	var updateErr error
	acquired := cos.RetryBusyWait(retryAttempts, retryDelay, func() bool {
		return cos.TryLock(s.lockPath)
	})
	if !acquired {
		return core.CaptureRecord{}, cmn.ErrCounterContended
	}
	defer cos.ReleaseLock(s.lockPath)

	state, err := s.load()
	if err != nil {
		return core.CaptureRecord{}, err
	}
	rec = state[captureID]
	fn(&rec)
	state[captureID] = rec
	if updateErr = s.save(state); updateErr != nil {
		return core.CaptureRecord{}, updateErr
	}
	return rec, nil
}

// WithAll acquires the store lock once, loads the whole map, lets fn mutate
// it in place, then persists the result — one lock/read/write cycle per
// poll, not one per capture.
func (s *Store) WithAll(fn func(map[string]core.CaptureRecord)) error {
	if err := os.MkdirAll(filepath.Dir(s.statePath), 0o755); err != nil {
		return cmn.Wrap(cmn.ErrDiskIO, err, "mkdir state dir")
	}
	acquired := cos.RetryBusyWait(retryAttempts, retryDelay, func() bool {
		return cos.TryLock(s.lockPath)
	})
	if !acquired {
		return cmn.ErrCounterContended
	}
	defer cos.ReleaseLock(s.lockPath)

	state, err := s.load()
	if err != nil {
		return err
	}
	fn(state)
	return s.save(state)
}

// Get reads a single record without taking the write lock (a best-effort
// snapshot; callers that need read-modify-write consistency use Update).
func (s *Store) Get(captureID string) (core.CaptureRecord, error) {
	state, err := s.load()
	if err != nil {
		return core.CaptureRecord{}, err
	}
	return state[captureID], nil
}

func (s *Store) load() (map[string]core.CaptureRecord, error) {
	b, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]core.CaptureRecord), nil
		}
		return nil, cmn.Wrap(cmn.ErrDiskIO, err, "read state")
	}
	if len(b) == 0 {
		return make(map[string]core.CaptureRecord), nil
	}
	state := make(map[string]core.CaptureRecord)
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, cmn.Wrap(cmn.ErrDiskIO, err, "parse state")
	}
	return state, nil
}

// save writes state atomically via a sibling temp file + rename, the same
// durability pattern the receiver uses for payload writes.
func (s *Store) save(state map[string]core.CaptureRecord) error {
	b, err := json.Marshal(state)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal state")
	}
	tmp := s.statePath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return cmn.Wrap(cmn.ErrDiskIO, err, "open state temp file")
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(tmp)
		return cmn.Wrap(cmn.ErrDiskIO, err, "write state temp file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return cmn.Wrap(cmn.ErrDiskIO, err, "fsync state temp file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return cmn.Wrap(cmn.ErrDiskIO, err, "close state temp file")
	}
	if err := os.Rename(tmp, s.statePath); err != nil {
		os.Remove(tmp)
		return cmn.Wrap(cmn.ErrDiskIO, err, "rename state temp file")
	}
	return nil
}
