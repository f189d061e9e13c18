package counter

import (
	"sync"
	"testing"

	"github.com/quidich/framestream/core"
)

func TestUpdateIncrementsCount(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	rec, err := s.Update("capA", func(r *core.CaptureRecord) {
		r.Count++
		r.Key = "K1"
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Count != 1 || rec.Key != "K1" {
		t.Fatalf("got %+v", rec)
	}

	rec, err = s.Update("capA", func(r *core.CaptureRecord) {
		r.Count++
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Count != 2 || rec.Key != "K1" {
		t.Fatalf("expected key to persist across updates, got %+v", rec)
	}
}

func TestUpdateConcurrentWriters(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Update("capA", func(r *core.CaptureRecord) {
				r.Count++
			}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	rec, err := s.Get("capA")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Count != n {
		t.Fatalf("got count=%d, want %d", rec.Count, n)
	}
}

func TestWithAllMutatesWholeMap(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	if _, err := s.Update("capA", func(r *core.CaptureRecord) { r.Count = 5 }); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Update("capB", func(r *core.CaptureRecord) { r.Count = 2 }); err != nil {
		t.Fatal(err)
	}

	err := s.WithAll(func(state map[string]core.CaptureRecord) {
		for id, rec := range state {
			if rec.Count >= 5 {
				rec.Emitted = true
				state[id] = rec
			}
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	a, _ := s.Get("capA")
	b, _ := s.Get("capB")
	if !a.Emitted {
		t.Fatal("expected capA to be marked emitted")
	}
	if b.Emitted {
		t.Fatal("capB should not be marked emitted")
	}
}

func TestGetOnMissingStateReturnsZeroValue(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	rec, err := s.Get("nope")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Count != 0 {
		t.Fatalf("got %+v, want zero value", rec)
	}
}
