// Package tailer implements the directory tailer: a lazy, strictly-
// increasing sequence of filenames, each of which has passed a
// completeness check before being emitted.
/*
 * Copyright (c) 2024, quidich data-transfer project contributors.
 */
package tailer

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/karrick/godirwalk"
	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/quidich/framestream/cmn"
	"github.com/quidich/framestream/cmn/cos"
	"github.com/quidich/framestream/cmn/nlog"
	"github.com/quidich/framestream/hk"
)

// Tailer walks SrcDir for names matching Pattern, strictly greater than a
// watermark, each subjected to the lookahead/stability completeness check
// before being handed to the caller.
type Tailer struct {
	SrcDir string
	Cfg    cmn.TailerConfig

	lastName string
	seen     *cuckoo.CuckooFilter
	hkName   string
}

// New constructs a Tailer rooted at srcDir. startAfter is the initial
// watermark: only names lexicographically greater are ever emitted.
func New(srcDir string, cfg cmn.TailerConfig, startAfter string) *Tailer {
	return &Tailer{
		SrcDir:   srcDir,
		Cfg:      cfg,
		lastName: startAfter,
		seen:     cuckoo.NewDefaultCuckooFilter(),
		hkName:   "tailer." + srcDir,
	}
}

// Run streams completed filenames onto the returned channel. The channel is
// closed when ctx is cancelled, or after one pass if Cfg.Once, or once
// Cfg.MaxFiles have been emitted. The caller must drain the channel or
// cancel ctx to avoid leaking the background goroutine.
func (t *Tailer) Run(ctx context.Context) <-chan string {
	out := make(chan string)

	if t.Cfg.CleanupInterval > 0 {
		hk.Reg(t.hkName, func() time.Duration {
			t.cleanupStaleParts()
			return t.Cfg.CleanupInterval
		}, t.Cfg.CleanupInterval)
	}
	// startup sweep, regardless of periodic cleanup being enabled
	t.cleanupStaleParts()

	go func() {
		defer close(out)
		if t.Cfg.CleanupInterval > 0 {
			defer hk.Unreg(t.hkName)
		}

		emitted := 0
		for {
			names, err := t.discoverOnce()
			if err != nil {
				nlog.Warningf("tailer: list %s: %v", t.SrcDir, err)
			}
			for _, name := range names {
				if t.Cfg.MaxFiles > 0 && emitted >= t.Cfg.MaxFiles {
					break
				}
				if name <= t.lastName {
					continue
				}
				if !t.seen.InsertUnique([]byte(name)) {
					// already emitted this name in a prior pass; the
					// lexicographic watermark should have caught this,
					// this is the belt-and-suspenders case.
					continue
				}
				full := filepath.Join(t.SrcDir, name)
				if !t.isComplete(ctx, full, name) {
					t.lastName = name
					continue
				}
				select {
				case out <- name:
					emitted++
				case <-ctx.Done():
					return
				}
				t.lastName = name
			}

			if t.Cfg.Once || (t.Cfg.MaxFiles > 0 && emitted >= t.Cfg.MaxFiles) {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(t.Cfg.ScanIntervalMs) * time.Millisecond):
			}
		}
	}()

	return out
}

// discoverOnce lists SrcDir, filters by Cfg.Pattern, and returns names in
// lexicographic order.
func (t *Tailer) discoverOnce() ([]string, error) {
	names, err := godirwalk.ReadDirnames(t.SrcDir, nil)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		ok, err := filepath.Match(t.Cfg.Pattern, n)
		if err != nil || !ok {
			continue
		}
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// isComplete runs the lookahead fast path, falling back to the stability
// loop.
func (t *Tailer) isComplete(ctx context.Context, full, name string) bool {
	if t.Cfg.LookaheadK > 0 {
		if fi, ok := cos.ParseFrameIndex(name); ok {
			next := filepath.Join(t.SrcDir, fi.NameAt(int64(t.Cfg.LookaheadK)))
			if _, err := os.Stat(next); err == nil {
				return true
			}
		}
	}
	return t.waitStable(ctx, full, name)
}

// waitStable polls full's size until it holds StablePasses consecutive
// equal readings, giving up (but treating the file as complete if it
// exists) after MaxWaitS.
func (t *Tailer) waitStable(ctx context.Context, full, name string) bool {
	deadline := time.Now().Add(time.Duration(t.Cfg.MaxWaitS) * time.Second)

	for {
		if _, err := os.Stat(full); err == nil {
			break
		}
		if time.Now().After(deadline) {
			return false
		}
		if !sleepCtx(ctx, 10*time.Millisecond) {
			return false
		}
	}

	var last int64 = -1
	stable := 0
	for stable < t.Cfg.StablePasses {
		if time.Now().After(deadline) {
			nlog.Warningf("tailer: %s did not stabilize within %ds, treating as complete", name, t.Cfg.MaxWaitS)
			return true
		}
		if !sleepCtx(ctx, time.Duration(t.Cfg.StableMs)*time.Millisecond) {
			return false
		}
		fi, err := os.Stat(full)
		if err != nil {
			return false
		}
		if fi.Size() == last {
			stable++
		} else {
			stable = 0
			last = fi.Size()
		}
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// cleanupStaleParts removes "<pattern>.part" files older than
// Cfg.CleanupPartsAge. In DryRun mode it only logs what it would have
// removed.
func (t *Tailer) cleanupStaleParts() int {
	names, err := godirwalk.ReadDirnames(t.SrcDir, nil)
	if err != nil {
		return 0
	}
	partPattern := t.Cfg.Pattern + ".part"
	now := time.Now()
	cleaned := 0
	for _, n := range names {
		ok, err := filepath.Match(partPattern, n)
		if err != nil || !ok {
			continue
		}
		full := filepath.Join(t.SrcDir, n)
		fi, err := os.Stat(full)
		if err != nil {
			continue
		}
		if now.Sub(fi.ModTime()) <= t.Cfg.CleanupPartsAge {
			continue
		}
		if t.Cfg.DryRun {
			nlog.Infof("tailer: dry-run would remove stale part file %s", n)
			cleaned++
			continue
		}
		if err := os.Remove(full); err == nil {
			cleaned++
		}
	}
	if cleaned > 0 {
		nlog.Infof("tailer: removed %d stale .part files in %s", cleaned, t.SrcDir)
	}
	return cleaned
}
