package wire

import (
	"bytes"
	"strings"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{Name: "a.jpg", DestPath: "", Key: "", Side: "", Size: 10},
		{Name: "frame_camera01_000000001.jpg", DestPath: "capA/camera01/frame_camera01_000000001.jpg", Key: "BPL_1_V0", Side: "FE", Size: 123456},
		{Name: "x.jpg", DestPath: "", Key: "", Side: "", Size: 0},
	}
	for _, h := range cases {
		var buf bytes.Buffer
		if err := WriteHeader(&buf, h); err != nil {
			t.Fatalf("WriteHeader: %v", err)
		}
		got, err := ReadHeader(&buf)
		if err != nil {
			t.Fatalf("ReadHeader: %v", err)
		}
		if got != h {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
		}
	}
}

func TestReadHeaderZeroLengthFieldsAreAccepted(t *testing.T) {
	var buf bytes.Buffer
	h := Header{Name: "n.jpg", Size: 1}
	if err := WriteHeader(&buf, h); err != nil {
		t.Fatal(err)
	}
	got, err := ReadHeader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.DestPath != "" || got.Key != "" || got.Side != "" {
		t.Fatalf("expected empty optional fields, got %+v", got)
	}
}

func TestReadHeaderCapBoundary(t *testing.T) {
	// Exactly at the 4096 limit: accepted.
	name := strings.Repeat("a", MaxNameLen)
	var buf bytes.Buffer
	if err := writeU64(&buf, uint64(len(name))); err != nil {
		t.Fatal(err)
	}
	buf.WriteString(name)
	// fill in the rest of the header fields as empty/zero so ReadHeader succeeds
	for i := 0; i < 3; i++ {
		if err := writeU64(&buf, 0); err != nil {
			t.Fatal(err)
		}
	}
	if err := writeU64(&buf, 0); err != nil {
		t.Fatal(err)
	}
	got, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("expected name at exactly the cap to be accepted: %v", err)
	}
	if got.Name != name {
		t.Fatal("name mismatch")
	}
}

func TestReadHeaderOverCapIsRejected(t *testing.T) {
	var buf bytes.Buffer
	if err := writeU64(&buf, MaxNameLen+1); err != nil {
		t.Fatal(err)
	}
	buf.Write(make([]byte, MaxNameLen+1))
	if _, err := ReadHeader(&buf); err == nil {
		t.Fatal("expected an error for name_len over the cap")
	}
}

func TestAckRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAck(&buf); err != nil {
		t.Fatal(err)
	}
	if err := ReadAck(&buf); err != nil {
		t.Fatal(err)
	}
}

func TestCountHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCountHeader(&buf, 3); err != nil {
		t.Fatal(err)
	}
	n, err := ReadCountHeader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("got %d want 3", n)
	}
}
