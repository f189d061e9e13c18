// Package cleanup implements the per-capture cleanup coordinator:
// first-worker-wins removal of leftover data for a capture, latched behind
// a TTL'd JSON sentinel so repeated receipts don't re-wipe.
/*
 * Copyright (c) 2024, quidich data-transfer project contributors.
 */
package cleanup

import (
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/quidich/framestream/cmn"
	"github.com/quidich/framestream/cmn/cos"
	"github.com/quidich/framestream/cmn/nlog"
	"github.com/quidich/framestream/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config parametrizes the coordinator for one receiver process.
type Config struct {
	DestBase   string // normalized, the guard-prefix root
	OutDir     string // this receiver's out_dir (out_dir/<capture_id> is one candidate subtree)
	CameraName string // basename(OutDir), also the sentinel directory name
	MaxCount   int    // cleanup_max_count
	TTL        time.Duration
}

// Coordinator runs the cleanup protocol for captures landing under one
// receiver out_dir.
type Coordinator struct {
	cfg         Config
	sentinelDir string
}

// New returns a Coordinator. It does not create any directories eagerly;
// MaybeClean creates the sentinel directory on first use.
func New(cfg Config) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		sentinelDir: filepath.Join(cfg.DestBase, ".recv_sentinels", cfg.CameraName),
	}
}

// MaybeClean runs the cleanup protocol for captureID. ran reports
// whether this call actually performed the deletion (true) or skipped it
// (false: it lost the lock race, or the sentinel count is already at
// MaxCount) — useful for tests and verbose logging, not
// part of the write path's correctness.
func (c *Coordinator) MaybeClean(captureID string) (ran bool, err error) {
	if err := os.MkdirAll(c.sentinelDir, 0o755); err != nil {
		return false, cmn.Wrap(cmn.ErrDiskIO, err, "mkdir sentinel dir")
	}

	lockPath := filepath.Join(c.sentinelDir, captureID+".done.lock")
	if !cos.TryLockOnce(lockPath) {
		// another worker owns the cleanup for this capture; proceed to
		// write without cleaning.
		return false, nil
	}
	defer cos.ReleaseLock(lockPath)

	sentinelPath := filepath.Join(c.sentinelDir, captureID+".done")
	sentinel := c.readSentinel(sentinelPath)

	now := time.Now()
	if c.cfg.TTL > 0 && now.Sub(time.Unix(0, int64(sentinel.TS*float64(time.Second)))) >= c.cfg.TTL {
		sentinel.Count = 0
	}

	if sentinel.Count >= c.cfg.MaxCount {
		return false, nil
	}

	for _, dir := range c.candidateSubtrees(captureID) {
		if !cos.GuardPrefix(c.cfg.DestBase, dir) {
			nlog.Warningf("cleanup: refusing to remove %s: escapes dest_base %s", dir, c.cfg.DestBase)
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			nlog.Warningf("cleanup: remove %s: %v", dir, err)
		}
	}

	sentinel.Count++
	sentinel.TS = float64(now.UnixNano()) / float64(time.Second)
	if err := c.writeSentinel(sentinelPath, sentinel); err != nil {
		return true, err
	}
	return true, nil
}

// candidateSubtrees is out_dir/<capture_id> and the sibling
// dest_base/<capture_id>/<camera_name>.
func (c *Coordinator) candidateSubtrees(captureID string) []string {
	return []string{
		filepath.Join(c.cfg.OutDir, captureID),
		filepath.Join(c.cfg.DestBase, captureID, c.cfg.CameraName),
	}
}

func (c *Coordinator) readSentinel(path string) core.CleanupSentinel {
	b, err := os.ReadFile(path)
	if err != nil {
		return core.CleanupSentinel{}
	}
	var s core.CleanupSentinel
	if err := json.Unmarshal(b, &s); err != nil {
		return core.CleanupSentinel{}
	}
	return s
}

func (c *Coordinator) writeSentinel(path string, s core.CleanupSentinel) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return cmn.Wrap(cmn.ErrDiskIO, err, "write sentinel temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return cmn.Wrap(cmn.ErrDiskIO, err, "rename sentinel temp file")
	}
	return nil
}
