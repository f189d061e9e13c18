// Package cos ("common os") holds the small path-safety and filename-parsing
// primitives shared by the tailer, receiver, and cleanup coordinator.
/*
 * Copyright (c) 2024, quidich data-transfer project contributors.
 */
package cos

import (
	"path/filepath"
	"strings"
)

// CleanParts normalizes a relative destination path and splits it into
// non-empty, non-"."/".." components.
func CleanParts(destPath string) []string {
	norm := filepath.ToSlash(filepath.Clean(destPath))
	raw := strings.Split(norm, "/")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p == "" || p == "." || p == ".." {
			continue
		}
		parts = append(parts, p)
	}
	return parts
}

// GuardPrefix reports whether target, once cleaned, lives under base. Used
// before any recursive delete: a dest_path containing enough ".." to climb
// above dest_base must never be honored.
func GuardPrefix(base, target string) bool {
	base = filepath.Clean(base)
	target = filepath.Clean(target)
	if target == base {
		return true
	}
	return strings.HasPrefix(target, base+string(filepath.Separator))
}

// CaptureIDFromDestPath derives the capture ("ball") id from a receiver-side
// dest_path, given the camera id the receiver believes it is (basename of
// out_dir, see cmn.ReceiverConfig.Validate).
func CaptureIDFromDestPath(destPath, cameraID string) (captureID string, ok bool) {
	parts := CleanParts(destPath)
	if len(parts) == 0 {
		return "", false
	}
	camIdx := -1
	for i, p := range parts {
		if p == cameraID {
			camIdx = i
			break
		}
	}
	if camIdx > 0 {
		return parts[camIdx-1], true
	}
	return parts[0], true
}

// CaptureIDFromThirdLast derives the counter-store capture identifier: when
// dest_path has at least three path components, the capture identifier is
// the third-from-last component.
func CaptureIDFromThirdLast(destPath string) (captureID string, ok bool) {
	parts := CleanParts(destPath)
	if len(parts) < 3 {
		return "", false
	}
	return parts[len(parts)-3], true
}
