// Package aggregator implements the single-leader process that polls the
// shared counter store for captures past their emit threshold, builds each
// capture's disk_paths, writes the frame-paths key to an external KV
// store, and publishes a capture-complete event.
/*
 * Copyright (c) 2024, quidich data-transfer project contributors.
 */
package aggregator

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/quidich/framestream/cmn"
	"github.com/quidich/framestream/cmn/cos"
	"github.com/quidich/framestream/cmn/nlog"
	"github.com/quidich/framestream/core"
	"github.com/quidich/framestream/counter"
	"github.com/quidich/framestream/metrics"
	"github.com/quidich/framestream/pubsub"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultWarmUp       = 50 * time.Millisecond
	leaderLockName      = "leader.lock"
)

// Config wires an Aggregator's dependencies and tunables.
type Config struct {
	GlobalStateDir string // holds state.json/state.lock (shared with receivers) and leader.lock
	EmitThreshold  int
	Cameras        cmn.CamerasConfig
	PollInterval   time.Duration
	WarmUp         time.Duration
	Store          FramePathStore // nil disables the KV write
	Publisher      *pubsub.Publisher
	Topic          string
	Archiver       Archiver // nil disables archival mirroring
}

// Aggregator is the leader-elected poll loop.
type Aggregator struct {
	cfg            Config
	counter        *counter.Store
	leaderLockPath string
	isLeader       bool
}

// New constructs an Aggregator. Call TryBecomeLeader before Run.
func New(cfg Config) *Aggregator {
	return &Aggregator{
		cfg:            cfg,
		counter:        counter.New(cfg.GlobalStateDir),
		leaderLockPath: filepath.Join(cfg.GlobalStateDir, leaderLockName),
	}
}

// TryBecomeLeader attempts to claim leader.lock, reclaiming a stale lock
// left by a crashed prior leader (cos.TryLock's stale-PID check). Only the
// process holding the lock runs the poll loop; every other replica should
// retry TryBecomeLeader periodically while idle.
func (a *Aggregator) TryBecomeLeader() bool {
	a.isLeader = cos.TryLock(a.leaderLockPath)
	if a.isLeader {
		metrics.AggregatorIsLeader.Set(1)
	}
	return a.isLeader
}

// Run blocks, polling the counter store until ctx is cancelled, and
// releases the leader lock on exit so a standby can take over. Returns
// cmn.ErrNoLeader if called without having won TryBecomeLeader first.
func (a *Aggregator) Run(ctx context.Context) error {
	if !a.isLeader {
		return cmn.ErrNoLeader
	}
	defer func() {
		cos.ReleaseLock(a.leaderLockPath)
		a.isLeader = false
		metrics.AggregatorIsLeader.Set(0)
	}()

	warmUp := a.cfg.WarmUp
	if warmUp <= 0 {
		warmUp = defaultWarmUp
	}
	select {
	case <-time.After(warmUp):
	case <-ctx.Done():
		return nil
	}

	interval := a.cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.pollOnce(ctx)
		}
	}
}

// pollOnce scans the whole counter map under a single lock/read/write
// cycle, emits every capture that just crossed emit_threshold, and marks
// it emitted in the same write.
func (a *Aggregator) pollOnce(ctx context.Context) {
	t0 := time.Now()
	defer func() { metrics.AggregatorPollSeconds.Observe(time.Since(t0).Seconds()) }()

	err := a.counter.WithAll(func(state map[string]core.CaptureRecord) {
		for captureID, rec := range state {
			if rec.Emitted || rec.Count < a.cfg.EmitThreshold {
				continue
			}
			a.emit(ctx, captureID, rec)
			metrics.AggregatorEmitted.Inc()

			now := time.Now().Unix()
			if rec.FirstEmitTS == 0 {
				rec.FirstEmitTS = now
			}
			rec.LastEmitTS = now
			rec.Emitted = true
			state[captureID] = rec
		}
	})
	if err != nil {
		nlog.Warningf("aggregator: poll: %v", err)
	}
}

// emit performs the three side effects of crossing the threshold: the KV
// store write, the pub/sub event, and the optional archival mirror. Each is
// best-effort — a failure here is logged, not fatal, and never blocks
// marking the capture emitted.
func (a *Aggregator) emit(ctx context.Context, captureID string, rec core.CaptureRecord) {
	diskPaths := a.buildDiskPaths(captureID)

	if a.cfg.Store != nil && rec.Key != "" {
		key := framePathsKey(rec.Key)
		if err := a.cfg.Store.WriteFramePaths(ctx, key, diskPaths); err != nil {
			nlog.Warningf("aggregator: write frame paths for %s: %v", captureID, err)
		}
	}

	if a.cfg.Publisher != nil {
		body, err := json.Marshal(core.CaptureCompleteEvent{
			BallID:       captureID,
			DiskPaths:    diskPaths,
			DragonflyKey: rec.Key,
			Side:         rec.Side,
		})
		if err != nil {
			nlog.Warningf("aggregator: marshal event for %s: %v", captureID, err)
		} else if err := a.cfg.Publisher.Publish(a.cfg.Topic, body); err != nil {
			nlog.Warningf("aggregator: publish event for %s: %v", captureID, err)
		}
	}

	if a.cfg.Archiver != nil {
		manifest := []byte(strings.Join(diskPaths, "\n"))
		if err := a.cfg.Archiver.ArchiveManifest(ctx, captureID, manifest); err != nil {
			nlog.Warningf("aggregator: archive manifest for %s: %v", captureID, err)
		}
	}
}

// buildDiskPaths mirrors build_disk_paths: one entry per configured camera,
// "<camera.dest_path>/<capture_id>/<camera_id>".
func (a *Aggregator) buildDiskPaths(captureID string) []string {
	ids := a.cfg.Cameras.SortedCameraIDs()
	paths := make([]string, 0, len(ids))
	for _, camID := range ids {
		cc := a.cfg.Cameras[camID]
		paths = append(paths, filepath.ToSlash(filepath.Join(cc.DestPath, captureID, camID)))
	}
	return paths
}

// framePathsKey strips a trailing "_V0" from the dragonfly key and appends
// "_FRAMEPATHS", matching the original's key derivation for the
// frame-paths write (distinct from the per-frame key itself).
func framePathsKey(key string) string {
	return strings.TrimSuffix(key, "_V0") + "_FRAMEPATHS"
}
