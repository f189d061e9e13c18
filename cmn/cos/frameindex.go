package cos

import (
	"fmt"
	"regexp"
	"strconv"
)

// FrameIndex is the result of parsing a frame filename into its reconstructible
// parts: prefix + zero-padded(num, width) + suffix == the original name.
type FrameIndex struct {
	Prefix string
	Num    int64
	Width  int
	Suffix string
}

// Three patterns in priority order:
//
//  1. frame_camera09_000000000.jpg  -> prefix="frame_camera09_" num=0 suffix=".jpg"
//  2. frame_000000_camera01.jpg     -> prefix="frame_" num=0 suffix="_camera01.jpg"
//  3. trailing numeric run before an optional extension (fallback)
var (
	patFrameAfterCamera  = regexp.MustCompile(`^(.*_camera\d+_)(\d+)(\.[^.]+)$`)
	patFrameBeforeCamera = regexp.MustCompile(`^(frame_)(\d+)(_camera\d+\.[^.]+)$`)
	patTrailingNumeric   = regexp.MustCompile(`^(.*?)(\d+)(\.[^.]*)?$`)
)

// ParseFrameIndex extracts (prefix, num, width, suffix) from name, trying the
// three patterns in order. Returns ok=false if none match.
func ParseFrameIndex(name string) (fi FrameIndex, ok bool) {
	if m := patFrameAfterCamera.FindStringSubmatch(name); m != nil {
		return mkFrameIndex(m[1], m[2], m[3]), true
	}
	if m := patFrameBeforeCamera.FindStringSubmatch(name); m != nil {
		return mkFrameIndex(m[1], m[2], m[3]), true
	}
	if m := patTrailingNumeric.FindStringSubmatch(name); m != nil {
		return mkFrameIndex(m[1], m[2], m[3]), true
	}
	return FrameIndex{}, false
}

func mkFrameIndex(prefix, digits, suffix string) FrameIndex {
	n, _ := strconv.ParseInt(digits, 10, 64)
	return FrameIndex{Prefix: prefix, Num: n, Width: len(digits), Suffix: suffix}
}

// MakeName reconstructs the filename for a given frame number at this index's
// width, e.g. MakeName("frame_", 5, 9, ".jpg") == "frame_000000005.jpg".
func MakeName(prefix string, num int64, width int, suffix string) string {
	return fmt.Sprintf("%s%0*d%s", prefix, width, num, suffix)
}

// NameAt returns the filename that would exist at fi.Num+delta, same
// prefix/width/suffix — the building block of the tailer's lookahead check.
func (fi FrameIndex) NameAt(delta int64) string {
	return MakeName(fi.Prefix, fi.Num+delta, fi.Width, fi.Suffix)
}
