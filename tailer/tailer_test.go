package tailer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quidich/framestream/cmn"
)

func writeFrame(t *testing.T, dir, name string, size int) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLookaheadFastPath(t *testing.T) {
	dir := t.TempDir()
	writeFrame(t, dir, "frame_camera01_000000001.jpg", 100)
	writeFrame(t, dir, "frame_camera01_000000002.jpg", 100)
	writeFrame(t, dir, "frame_camera01_000000003.jpg", 100)
	writeFrame(t, dir, "frame_camera01_000000004.jpg", 100)
	writeFrame(t, dir, "frame_camera01_000000005.jpg", 100)

	cfg := cmn.DefaultTailerConfig()
	cfg.LookaheadK = 4
	cfg.Once = true
	tl := New(dir, cfg, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got []string
	for name := range tl.Run(ctx) {
		got = append(got, name)
	}
	// only frame 1 has its lookahead target (frame 5); frames 2-5 have none
	// (frames 6-9 are absent), so they fall back to the stability loop and
	// are still emitted once stable.
	want := []string{
		"frame_camera01_000000001.jpg",
		"frame_camera01_000000002.jpg",
		"frame_camera01_000000003.jpg",
		"frame_camera01_000000004.jpg",
		"frame_camera01_000000005.jpg",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestStartAfterWatermark(t *testing.T) {
	dir := t.TempDir()
	writeFrame(t, dir, "a.jpg", 10)
	writeFrame(t, dir, "b.jpg", 10)
	writeFrame(t, dir, "c.jpg", 10)

	cfg := cmn.DefaultTailerConfig()
	cfg.LookaheadK = 0
	cfg.StableMs = 1
	cfg.StablePasses = 1
	cfg.MaxWaitS = 1
	cfg.Once = true
	tl := New(dir, cfg, "a.jpg")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got []string
	for name := range tl.Run(ctx) {
		got = append(got, name)
	}
	if len(got) != 2 || got[0] != "b.jpg" || got[1] != "c.jpg" {
		t.Fatalf("got %v, want [b.jpg c.jpg]", got)
	}
}

func TestMaxFilesStopsEarly(t *testing.T) {
	dir := t.TempDir()
	writeFrame(t, dir, "a.jpg", 10)
	writeFrame(t, dir, "b.jpg", 10)
	writeFrame(t, dir, "c.jpg", 10)

	cfg := cmn.DefaultTailerConfig()
	cfg.LookaheadK = 0
	cfg.StableMs = 1
	cfg.StablePasses = 1
	cfg.MaxWaitS = 1
	cfg.Once = true
	cfg.MaxFiles = 1
	tl := New(dir, cfg, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got []string
	for name := range tl.Run(ctx) {
		got = append(got, name)
	}
	if len(got) != 1 {
		t.Fatalf("got %v, want exactly 1 file", got)
	}
}

func TestCleanupStaleParts(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "x.jpg.part")
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	cfg := cmn.DefaultTailerConfig()
	cfg.CleanupPartsAge = time.Second
	tl := New(dir, cfg, "")
	if n := tl.cleanupStaleParts(); n != 1 {
		t.Fatalf("got %d, want 1", n)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("expected stale .part file to be removed")
	}
}

func TestCleanupStalePartsDryRun(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "x.jpg.part")
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	cfg := cmn.DefaultTailerConfig()
	cfg.CleanupPartsAge = time.Second
	cfg.DryRun = true
	tl := New(dir, cfg, "")
	if n := tl.cleanupStaleParts(); n != 1 {
		t.Fatalf("got %d, want 1", n)
	}
	if _, err := os.Stat(stale); err != nil {
		t.Fatal("dry-run must not remove the file")
	}
}
