package aggregator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/quidich/framestream/cmn"
	"github.com/quidich/framestream/core"
	"github.com/quidich/framestream/counter"
	"github.com/quidich/framestream/pubsub"
)

func testCameras() cmn.CamerasConfig {
	return cmn.CamerasConfig{
		"camera01": {Src: "/src/01", DestPath: "/dst"},
		"camera02": {Src: "/src/02", DestPath: "/dst"},
	}
}

func TestBuildDiskPaths(t *testing.T) {
	a := New(Config{GlobalStateDir: t.TempDir(), Cameras: testCameras()})
	got := a.buildDiskPaths("capA")
	want := []string{"/dst/capA/camera01", "/dst/capA/camera02"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFramePathsKeyStripsTrailingV0(t *testing.T) {
	if got := framePathsKey("abc_V0"); got != "abc_FRAMEPATHS" {
		t.Fatalf("got %s", got)
	}
	if got := framePathsKey("abc"); got != "abc_FRAMEPATHS" {
		t.Fatalf("got %s", got)
	}
}

func TestTryBecomeLeaderIsExclusive(t *testing.T) {
	dir := t.TempDir()
	a1 := New(Config{GlobalStateDir: dir, Cameras: testCameras()})
	a2 := New(Config{GlobalStateDir: dir, Cameras: testCameras()})

	if !a1.TryBecomeLeader() {
		t.Fatal("a1 should win leadership")
	}
	if a2.TryBecomeLeader() {
		t.Fatal("a2 should not win leadership while a1 holds it")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a1.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if !a2.TryBecomeLeader() {
		t.Fatal("a2 should win leadership after a1 released it")
	}
}

func TestRunWithoutLeadershipReturnsErrNoLeader(t *testing.T) {
	a := New(Config{GlobalStateDir: t.TempDir(), Cameras: testCameras()})
	if err := a.Run(context.Background()); err != cmn.ErrNoLeader {
		t.Fatalf("got %v, want cmn.ErrNoLeader", err)
	}
}

// fakeStore records every WriteFramePaths call for assertions.
type fakeStore struct {
	calls  map[string][]string
	writes int
}

func newFakeStore() *fakeStore { return &fakeStore{calls: make(map[string][]string)} }

func (f *fakeStore) WriteFramePaths(_ context.Context, key string, paths []string) error {
	f.calls[key] = paths
	f.writes++
	return nil
}
func (f *fakeStore) Close() error { return nil }

func TestPollOnceEmitsCrossedThresholdOnce(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore()

	pub, err := pubsub.NewPublisher(context.Background(), "inproc://aggregator-test-1")
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()

	a := New(Config{
		GlobalStateDir: dir,
		EmitThreshold:  2,
		Cameras:        testCameras(),
		Store:          store,
		Publisher:      pub,
	})

	cs := counter.New(dir)
	if _, err := cs.Update("capA", func(r *core.CaptureRecord) {
		r.Count = 2
		r.Key = "KEY1_V0"
		r.Side = "FE"
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := cs.Update("capB", func(r *core.CaptureRecord) {
		r.Count = 1
		r.Key = "KEY2_V0"
	}); err != nil {
		t.Fatal(err)
	}

	a.pollOnce(context.Background())

	recA, err := cs.Get("capA")
	if err != nil {
		t.Fatal(err)
	}
	if !recA.Emitted {
		t.Fatal("capA should be marked emitted")
	}
	if recA.FirstEmitTS == 0 {
		t.Fatal("expected FirstEmitTS to be set")
	}
	if _, ok := store.calls["KEY1_FRAMEPATHS"]; !ok {
		t.Fatalf("expected a frame-paths write for KEY1_FRAMEPATHS, got %v", store.calls)
	}

	recB, err := cs.Get("capB")
	if err != nil {
		t.Fatal(err)
	}
	if recB.Emitted {
		t.Fatal("capB has not crossed the threshold and must not be emitted")
	}

	// A second poll must not re-emit capA: the store's write count is unchanged.
	before := store.writes
	a.pollOnce(context.Background())
	if store.writes != before {
		t.Fatalf("expected no additional writes on second poll, got %d writes", store.writes)
	}
}

// fakeArchiver records every ArchiveManifest call for assertions.
type fakeArchiver struct {
	calls map[string][]byte
}

func newFakeArchiver() *fakeArchiver { return &fakeArchiver{calls: make(map[string][]byte)} }

func (f *fakeArchiver) ArchiveManifest(_ context.Context, captureID string, body []byte) error {
	f.calls[captureID] = body
	return nil
}

func TestPollOnceMirrorsManifestToArchiver(t *testing.T) {
	dir := t.TempDir()
	archiver := newFakeArchiver()

	a := New(Config{
		GlobalStateDir: dir,
		EmitThreshold:  2,
		Cameras:        testCameras(),
		Archiver:       archiver,
	})

	cs := counter.New(dir)
	if _, err := cs.Update("capA", func(r *core.CaptureRecord) {
		r.Count = 2
		r.Key = "KEY1_V0"
		r.Side = "FE"
	}); err != nil {
		t.Fatal(err)
	}

	a.pollOnce(context.Background())

	body, ok := archiver.calls["capA"]
	if !ok {
		t.Fatalf("expected an archive manifest call for capA, got %v", archiver.calls)
	}
	want := "/dst/capA/camera01\n/dst/capA/camera02"
	if string(body) != want {
		t.Fatalf("manifest body = %q, want %q", body, want)
	}
}

func TestBuntStoreWriteFramePathsRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fp.db")
	s, err := NewBuntStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	want := []string{"/dst/capA/camera01", "/dst/capA/camera02"}
	if err := s.WriteFramePaths(context.Background(), "KEY1_FRAMEPATHS", want); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected db file to exist: %v", err)
	}

	var got string
	if err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get("KEY1_FRAMEPATHS")
		got = v
		return err
	}); err != nil {
		t.Fatal(err)
	}
	if got != strings.Join(want, "\n") {
		t.Fatalf("got %q, want %q", got, strings.Join(want, "\n"))
	}
}

func TestRunStopsPromptlyOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	a := New(Config{GlobalStateDir: dir, EmitThreshold: 1, Cameras: testCameras(), WarmUp: time.Millisecond, PollInterval: time.Millisecond})
	if !a.TryBecomeLeader() {
		t.Fatal("expected to win leadership")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
