package cos

import "testing"

func TestGuardPrefix(t *testing.T) {
	base := "/dst"
	cases := []struct {
		target string
		want   bool
	}{
		{"/dst/capA/camera01", true},
		{"/dst", true},
		{"/dst/../etc", false},
		{"/dstEVIL/capA", false},
		{"/other", false},
	}
	for _, c := range cases {
		if got := GuardPrefix(base, c.target); got != c.want {
			t.Errorf("GuardPrefix(%q,%q) = %v, want %v", base, c.target, got, c.want)
		}
	}
}

func TestCleanPartsDropsDotDot(t *testing.T) {
	parts := CleanParts("capA/../../etc/passwd")
	for _, p := range parts {
		if p == ".." {
			t.Fatalf("CleanParts must drop '..': got %v", parts)
		}
	}
}

func TestCaptureIDFromThirdLast(t *testing.T) {
	id, ok := CaptureIDFromThirdLast("capA/camera01/frame_0001.jpg")
	if !ok || id != "capA" {
		t.Fatalf("got (%q,%v), want (capA,true)", id, ok)
	}
	if _, ok := CaptureIDFromThirdLast("frame_0001.jpg"); ok {
		t.Fatal("expected ok=false for short dest_path")
	}
}

func TestCaptureIDFromDestPath(t *testing.T) {
	id, ok := CaptureIDFromDestPath("capA/camera01/frame.jpg", "camera01")
	if !ok || id != "capA" {
		t.Fatalf("got (%q,%v), want (capA,true)", id, ok)
	}
	// camera component absent: falls back to first path component.
	id, ok = CaptureIDFromDestPath("capA/frame.jpg", "camera01")
	if !ok || id != "capA" {
		t.Fatalf("got (%q,%v), want (capA,true)", id, ok)
	}
}
