package cmn

import (
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	pkgerrors "github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CameraConfig is one entry of the camera-config JSON file: a JSON object
// keyed by camera id. The file's `dest_base` key (the receiver's out_dir
// parent, spec.md §6) is not modeled here: every component in this tree
// that needs a dest_base derives it from the running receiver's own
// out_dir (see ReceiverConfig.DestBase below), not from this config file,
// whose loader is an out-of-scope external collaborator (spec.md §1).
type CameraConfig struct {
	Src      string `json:"src"`
	DestPath string `json:"dest_path"`
}

// CamerasConfig is the full configuration file: camera id -> CameraConfig.
type CamerasConfig map[string]CameraConfig

// LoadCamerasConfig reads and validates the camera-config JSON file. The
// loader itself is intentionally minimal (no hot-reload, no schema registry):
// this is just enough to get a Go struct.
func LoadCamerasConfig(path string) (CamerasConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "read camera config %s", path)
	}
	var cfg CamerasConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, Wrapf(ErrConfig, err, "parse camera config %s", path)
	}
	for id, cc := range cfg {
		if cc.Src == "" || cc.DestPath == "" {
			return nil, Wrapf(ErrConfig, nil, "camera %q: src and dest_path are required", id)
		}
	}
	return cfg, nil
}

// SortedCameraIDs returns camera ids in ascending sorted order, giving the
// trigger bridge's per-camera fan-out a deterministic port assignment.
func (c CamerasConfig) SortedCameraIDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	return ids
}

// TailerConfig holds the tailer's completeness-detection knobs.
type TailerConfig struct {
	Pattern         string
	LookaheadK      int
	StableMs        int
	StablePasses    int
	MaxWaitS        int
	ScanIntervalMs  int
	MaxFiles        int
	Once            bool
	CleanupPartsAge time.Duration
	CleanupInterval time.Duration
	DryRun          bool
}

// DefaultTailerConfig returns the conservative defaults used when a caller
// doesn't override the tailer's completeness-detection knobs.
func DefaultTailerConfig() TailerConfig {
	return TailerConfig{
		Pattern:         "*.jpg",
		LookaheadK:      4,
		StableMs:        5,
		StablePasses:    1,
		MaxWaitS:        1,
		ScanIntervalMs:  50,
		CleanupPartsAge: time.Second,
		CleanupInterval: 10 * time.Second,
	}
}

// ReceiverConfig holds one receiver worker process's parameters.
type ReceiverConfig struct {
	ListenIP          string
	Port              int
	OutDir            string
	ReusePort         bool
	ExpectCountFirst  bool
	UseDestPaths      bool
	CleanupMaxCount   int
	CleanupTTL        time.Duration
	EmitThreshold     int
	GlobalStateDir    string
	Verbose           bool
}

// Validate requires camera_name to equal basename(out_dir), since cleanup
// derives the capture id from that assumption and would silently target
// the wrong subtree if it didn't hold. The check is skipped when cameraID
// is empty.
func (c *ReceiverConfig) Validate(cameraID string) error {
	if cameraID != "" && filepath.Base(filepath.Clean(c.OutDir)) != cameraID {
		return Wrapf(ErrConfig, nil,
			"out_dir %q must end in camera id %q", c.OutDir, cameraID)
	}
	if c.EmitThreshold <= 0 {
		return Wrapf(ErrConfig, nil, "emit_threshold must be > 0")
	}
	return nil
}

// DestBase is the parent of OutDir — the root that cleanup's path
// derivation must never escape.
func (c *ReceiverConfig) DestBase() string {
	return filepath.Dir(filepath.Clean(c.OutDir))
}
