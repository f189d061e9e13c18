// Package receiver implements the receiver worker: one TCP listener,
// optionally SO_REUSEPORT-shared across sibling processes, decoding file
// records through the wire codec and writing them durably.
/*
 * Copyright (c) 2024, quidich data-transfer project contributors.
 */
package receiver

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/OneOfOne/xxhash"

	"github.com/quidich/framestream/cleanup"
	"github.com/quidich/framestream/cmn"
	"github.com/quidich/framestream/cmn/cos"
	"github.com/quidich/framestream/cmn/nlog"
	"github.com/quidich/framestream/core"
	"github.com/quidich/framestream/counter"
	"github.com/quidich/framestream/metrics"
	"github.com/quidich/framestream/wire"
)

// Worker serves one (listen_ip, port), backed by a cleanup coordinator and
// a shared counter store.
type Worker struct {
	cfg      cmn.ReceiverConfig
	cameraID string
	destBase string

	cleanup *cleanup.Coordinator
	counter *counter.Store
}

// New validates cfg against cameraID and wires the cleanup and counter
// collaborators.
func New(cfg cmn.ReceiverConfig, cameraID string) (*Worker, error) {
	if err := cfg.Validate(cameraID); err != nil {
		return nil, err
	}
	destBase := cfg.DestBase()
	w := &Worker{
		cfg:      cfg,
		cameraID: cameraID,
		destBase: destBase,
		cleanup: cleanup.New(cleanup.Config{
			DestBase:   destBase,
			OutDir:     cfg.OutDir,
			CameraName: cameraID,
			MaxCount:   cfg.CleanupMaxCount,
			TTL:        cfg.CleanupTTL,
		}),
	}
	if cfg.GlobalStateDir != "" {
		w.counter = counter.New(cfg.GlobalStateDir)
	}
	return w, nil
}

// ListenAndServe binds (cfg.ListenIP, cfg.Port) and accepts connections
// until ctx is cancelled. Each connection is served by its own goroutine;
// within one connection, files are handled strictly sequentially.
func (w *Worker) ListenAndServe(ctx context.Context) error {
	lc := net.ListenConfig{Control: reusePortControl(w.cfg.ReusePort)}
	addr := net.JoinHostPort(w.cfg.ListenIP, strconv.Itoa(w.cfg.Port))
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return cmn.Wrap(cmn.ErrConfig, err, "listen "+addr)
	}

	stopStats := startDiskStatsSampler(w.destBase, w.cfg.Verbose)
	defer stopStats()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	nlog.Infof("receiver[%s]: listening on %s (reuseport=%v)", w.cameraID, addr, w.cfg.ReusePort)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return cmn.Wrap(cmn.ErrTransientNetwork, err, "accept")
		}
		go w.handleConn(conn)
	}
}

func (w *Worker) handleConn(conn net.Conn) {
	defer conn.Close()
	peer := conn.RemoteAddr()
	if w.cfg.Verbose {
		nlog.Infof("receiver[%s]: connected %s", w.cameraID, peer)
	}

	var remaining int64 = -1
	if w.cfg.ExpectCountFirst {
		n, err := wire.ReadCountHeader(conn)
		if err != nil {
			nlog.Warningf("receiver[%s]: %s: read count header: %v", w.cameraID, peer, err)
			return
		}
		remaining = int64(n)
	}

	didCleanup := false
	for {
		h, err := wire.ReadHeader(conn)
		if err != nil {
			if err != io.EOF && w.cfg.Verbose {
				nlog.Infof("receiver[%s]: %s closed: %v", w.cameraID, peer, err)
			}
			return
		}

		if w.cfg.UseDestPaths && !didCleanup && h.DestPath != "" {
			if captureID, ok := cos.CaptureIDFromDestPath(h.DestPath, w.cameraID); ok {
				ran, err := w.cleanup.MaybeClean(captureID)
				if err != nil {
					nlog.Warningf("receiver[%s]: cleanup %s: %v", w.cameraID, captureID, err)
				} else if ran {
					metrics.CleanupRuns.WithLabelValues(w.cameraID).Inc()
				}
			}
			didCleanup = true
		}

		finalPath := w.finalPath(h)
		digest, err := w.writeFile(conn, finalPath, h.Size)
		if err != nil {
			nlog.Errorf("receiver[%s]: %s: %v", w.cameraID, h.Name, err)
			metrics.ReceiverWriteErrors.WithLabelValues(w.cameraID).Inc()
			return
		}
		if w.cfg.Verbose {
			nlog.Infof("receiver[%s]: %s: xxhash64=%016x", w.cameraID, h.Name, digest)
		}
		metrics.ReceiverFilesReceived.WithLabelValues(w.cameraID).Inc()
		metrics.ReceiverBytesReceived.WithLabelValues(w.cameraID).Add(float64(h.Size))

		if err := wire.WriteAck(conn); err != nil {
			nlog.Warningf("receiver[%s]: %s: write ack: %v", w.cameraID, h.Name, err)
			return
		}
		if w.cfg.Verbose {
			target := h.DestPath
			if target == "" {
				target = h.Name
			}
			nlog.Infof("receiver[%s]: ok %s", w.cameraID, target)
		}

		w.updateCounter(h)

		if remaining >= 0 {
			remaining--
			if remaining == 0 {
				if w.cfg.Verbose {
					nlog.Infof("receiver[%s]: received declared file count; closing %s", w.cameraID, peer)
				}
				return
			}
		}
	}
}

// finalPath computes out_dir/dest_path (destination-path mode) or
// out_dir/name, normalizing away any ".."/"." components.
func (w *Worker) finalPath(h wire.Header) string {
	if w.cfg.UseDestPaths && h.DestPath != "" {
		parts := cos.CleanParts(h.DestPath)
		elems := append([]string{w.cfg.OutDir}, parts...)
		return filepath.Join(elems...)
	}
	return filepath.Join(w.cfg.OutDir, h.Name)
}

// writeFile streams exactly size bytes from conn into finalPath+".part",
// fsyncs, then atomically renames over finalPath. On any failure the
// partial file is unlinked and the caller closes the connection; the
// sender will reconnect and retry the same file. The returned xxhash64
// digest is a diagnostic only — it is logged at verbose level, never
// compared against anything the sender sent, since the wire protocol (§4.A)
// carries no checksum field for the receiver to verify against.
func (w *Worker) writeFile(conn net.Conn, finalPath string, size uint64) (uint64, error) {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return 0, cmn.Wrap(cmn.ErrDiskIO, err, "mkdir "+filepath.Dir(finalPath))
	}
	tmp := finalPath + ".part"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, cmn.Wrap(cmn.ErrDiskIO, err, "open "+tmp)
	}

	digest := xxhash.New64()
	_, copyErr := io.CopyN(io.MultiWriter(f, digest), conn, int64(size))
	if copyErr != nil {
		f.Close()
		os.Remove(tmp)
		return 0, cmn.Wrap(cmn.ErrProtocolViolation, copyErr, "receive payload")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, cmn.Wrap(cmn.ErrDiskIO, err, "fsync "+tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, cmn.Wrap(cmn.ErrDiskIO, err, "close "+tmp)
	}
	if err := os.Rename(tmp, finalPath); err != nil {
		os.Remove(tmp)
		return 0, cmn.Wrap(cmn.ErrDiskIO, err, "rename "+tmp)
	}
	return digest.Sum64(), nil
}

// updateCounter bumps the shared counter for the capture derived from
// dest_path's third-from-last component, overwriting key/side if this
// record carried non-empty values.
func (w *Worker) updateCounter(h wire.Header) {
	if w.counter == nil || !w.cfg.UseDestPaths || h.DestPath == "" {
		return
	}
	captureID, ok := cos.CaptureIDFromThirdLast(h.DestPath)
	if !ok {
		return
	}
	_, err := w.counter.Update(captureID, func(r *core.CaptureRecord) {
		r.Count++
		if h.Key != "" {
			r.Key = h.Key
		}
		if h.Side != "" {
			r.Side = h.Side
		}
	})
	if err != nil {
		nlog.Warningf("receiver[%s]: counter update %s: %v", w.cameraID, captureID, err)
		if errors.Is(err, cmn.ErrCounterContended) {
			metrics.CounterLockContended.Inc()
		}
	}
}
