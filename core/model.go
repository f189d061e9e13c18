// Package core holds the shared data-model types: captures ("balls"),
// the per-capture counter record, cleanup sentinel, and pub/sub message
// bodies, plus process exit codes. The camera descriptor itself
// (camera_id, src_dir, dest_path) lives in cmn.CameraConfig, since it is
// always handled alongside the rest of the camera-config JSON schema.
/*
 * Copyright (c) 2024, quidich data-transfer project contributors.
 */
package core

// Process exit codes.
const (
	ExitOK             = 0
	ExitGenericFailure = 1
	ExitUsageError     = 2
	ExitPartialFailure = 4 // reserved for the separate clear tool, not used here
)

// Metadata is the opaque key/side pair threaded through a capture
// end-to-end: wire record -> counter store -> aggregator event.
type Metadata struct {
	Key  string // "dragonfly key" in the glossary
	Side string
}

// CaptureRecord is the shared counter store's per-capture record.
type CaptureRecord struct {
	Count       int    `json:"count"`
	Key         string `json:"key,omitempty"`
	Side        string `json:"side,omitempty"`
	Emitted     bool   `json:"emitted"`
	FirstEmitTS int64  `json:"first_emit_ts,omitempty"`
	LastEmitTS  int64  `json:"last_emit_ts,omitempty"`
}

// CleanupSentinel is the per-(capture,camera) cleanup marker.
type CleanupSentinel struct {
	Count int     `json:"count"`
	TS    float64 `json:"ts"`
}

// CaptureCompleteEvent is the body the aggregator publishes on the pub/sub
// bus: {ball_id, diskpaths, dragonfly_key, side}.
type CaptureCompleteEvent struct {
	BallID       string   `json:"ball_id"`
	DiskPaths    []string `json:"diskpaths"`
	DragonflyKey string   `json:"dragonfly_key"`
	Side         string   `json:"side"`
}

// TriggerMessage is the JSON consumed by the trigger bridge:
// {frame_id, ball_id, dragonfly_key, side, isStopped}.
type TriggerMessage struct {
	FrameID      string `json:"frame_id"`
	BallID       string `json:"ball_id"`
	DragonflyKey string `json:"dragonfly_key"`
	Side         string `json:"side"`
	IsStopped    bool   `json:"isStopped"`
}
