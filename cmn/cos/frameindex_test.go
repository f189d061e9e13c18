package cos

import "testing"

func TestParseFrameIndex(t *testing.T) {
	cases := []struct {
		name   string
		prefix string
		num    int64
		width  int
		suffix string
	}{
		{"frame_camera09_000000123.jpg", "frame_camera09_", 123, 9, ".jpg"},
		{"frame_000000_camera01.jpg", "frame_", 0, 6, "_camera01.jpg"},
		{"plain0042.jpg", "plain", 42, 4, ".jpg"},
	}
	for _, c := range cases {
		fi, ok := ParseFrameIndex(c.name)
		if !ok {
			t.Fatalf("%s: expected a match", c.name)
		}
		if fi.Prefix != c.prefix || fi.Num != c.num || fi.Width != c.width || fi.Suffix != c.suffix {
			t.Fatalf("%s: got %+v, want {%s %d %d %s}", c.name, fi, c.prefix, c.num, c.width, c.suffix)
		}
		if got := MakeName(fi.Prefix, fi.Num, fi.Width, fi.Suffix); got != c.name {
			t.Fatalf("MakeName round-trip: got %s want %s", got, c.name)
		}
	}
}

func TestNameAt(t *testing.T) {
	fi, ok := ParseFrameIndex("f_0000001.jpg")
	if !ok {
		t.Fatal("expected match")
	}
	if got := fi.NameAt(4); got != "f_0000005.jpg" {
		t.Fatalf("got %s want f_0000005.jpg", got)
	}
}
