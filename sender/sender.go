// Package sender implements the sender engine: a pool of persistent TCP
// connections draining a shared bounded queue of file jobs, each file
// transmitted through the wire codec with bounded per-file retry.
/*
 * Copyright (c) 2024, quidich data-transfer project contributors.
 */
package sender

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teris-io/shortid"
	"golang.org/x/sync/errgroup"

	"github.com/quidich/framestream/cmn"
	"github.com/quidich/framestream/cmn/nlog"
	"github.com/quidich/framestream/core"
	"github.com/quidich/framestream/metrics"
	"github.com/quidich/framestream/wire"
)

const (
	defaultMaxRetries     = 3
	defaultConnectTimeout = 5 * time.Second
	defaultAckTimeout     = 5 * time.Second
)

// Config parametrizes one sender engine instance.
type Config struct {
	Host              string
	Port              int
	NumConnections    int
	Meta              core.Metadata
	DestPathPrefix    string
	PreserveStructure bool

	// CameraID labels this engine's metrics; defaults to "unknown" when unset.
	CameraID string

	// SendCountFirst selects counted mode: a single connection, a count
	// header, then the backlog streamed in order. Requires Once.
	SendCountFirst bool
	Once           bool

	MaxRetries     int
	ConnectTimeout time.Duration
	AckTimeout     time.Duration
	Verbose        bool
}

func (c *Config) setDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = defaultAckTimeout
	}
	if c.CameraID == "" {
		c.CameraID = "unknown"
	}
}

// Job is one file queued for transmission.
type Job struct {
	SrcPath  string
	Name     string
	DestPath string
}

// Report is the engine's final accounting.
type Report struct {
	Files   int64         `json:"files"`
	Bytes   int64         `json:"bytes"`
	Elapsed time.Duration `json:"-"`
	Failed  []string      `json:"failed"`

	ElapsedSeconds float64 `json:"elapsed_seconds"`
	MBps           float64 `json:"mbps"`
	FPS            float64 `json:"fps"`
}

func (r *Report) finalize() {
	r.ElapsedSeconds = r.Elapsed.Seconds()
	secs := r.ElapsedSeconds
	if secs <= 0 {
		secs = 1e-9
	}
	r.MBps = float64(r.Bytes) / (1024 * 1024) / secs
	r.FPS = float64(r.Files) / secs
}

// Sender drives num_connections workers against a shared bounded queue.
type Sender struct {
	cfg Config

	filesSent int64
	bytesSent int64

	failedMu sync.Mutex
	failed   []string

	sid string
}

// New validates the counted-mode precondition: a send_count_first engine
// that isn't single-connection/backlog-only would desynchronize the
// receiver's count header from the stream. Returns a ready-to-run Sender.
func New(cfg Config) (*Sender, error) {
	cfg.setDefaults()
	if cfg.NumConnections <= 0 {
		return nil, cmn.Wrapf(cmn.ErrConfig, nil, "num_connections must be > 0")
	}
	if cfg.SendCountFirst {
		if cfg.NumConnections != 1 {
			return nil, cmn.Wrapf(cmn.ErrConfig, nil,
				"send_count_first requires num_connections==1, got %d", cfg.NumConnections)
		}
		if !cfg.Once {
			return nil, cmn.Wrapf(cmn.ErrConfig, nil,
				"send_count_first requires once=true (backlog only)")
		}
	}
	sid, _ := shortid.Generate()
	return &Sender{cfg: cfg, sid: sid}, nil
}

// GenerateDestPath computes the dest_path field for a file record: empty
// prefix means "use the name as-is"; PreserveStructure keeps the relative
// path of name under srcDir under the prefix; otherwise only the base
// filename is placed under the prefix.
func GenerateDestPath(srcDir, name, destPathPrefix string, preserveStructure bool) string {
	if destPathPrefix == "" {
		return name
	}
	if preserveStructure {
		rel, err := filepath.Rel(srcDir, filepath.Join(srcDir, name))
		if err != nil {
			rel = name
		}
		return filepath.ToSlash(filepath.Join(destPathPrefix, rel))
	}
	return filepath.ToSlash(filepath.Join(destPathPrefix, filepath.Base(name)))
}

// Run drains names (as produced by a tailer.Tailer) from srcDir and reports
// final counters once names is closed and every queued job has either
// succeeded or exhausted its retry budget.
func (s *Sender) Run(ctx context.Context, names <-chan string, srcDir string) Report {
	t0 := time.Now()
	var rep Report
	if s.cfg.SendCountFirst {
		s.runCounted(ctx, names, srcDir)
	} else {
		s.runPooled(ctx, names, srcDir)
	}
	rep.Files = atomic.LoadInt64(&s.filesSent)
	rep.Bytes = atomic.LoadInt64(&s.bytesSent)
	rep.Elapsed = time.Since(t0)
	s.failedMu.Lock()
	rep.Failed = append([]string(nil), s.failed...)
	s.failedMu.Unlock()
	rep.finalize()
	return rep
}

func (s *Sender) runPooled(ctx context.Context, names <-chan string, srcDir string) {
	queueSize := s.cfg.NumConnections * 128
	if queueSize < 1024 {
		queueSize = 1024
	}
	queue := make(chan Job, queueSize)

	var producer sync.WaitGroup
	producer.Add(1)
	go func() {
		defer producer.Done()
		defer close(queue)
		for name := range names {
			job := Job{
				SrcPath:  filepath.Join(srcDir, name),
				Name:     name,
				DestPath: GenerateDestPath(srcDir, name, s.cfg.DestPathPrefix, s.cfg.PreserveStructure),
			}
			select {
			case queue <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.NumConnections; i++ {
		id := i
		g.Go(func() error {
			s.worker(gctx, id, queue)
			return nil
		})
	}
	producer.Wait()
	_ = g.Wait()
}

func (s *Sender) worker(ctx context.Context, id int, queue <-chan Job) {
	var conn net.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()
	for job := range queue {
		if err := s.sendWithRetry(ctx, &conn, job); err != nil {
			nlog.Errorf("sender[%s] worker %d: %s: %v", s.sid, id, job.Name, err)
			metrics.SenderFilesFailed.WithLabelValues(s.cfg.CameraID).Inc()
			s.failedMu.Lock()
			s.failed = append(s.failed, job.Name)
			s.failedMu.Unlock()
		}
	}
}

// runCounted implements counted mode: drain the (Once-bounded) backlog into
// a slice first, then stream it over a single connection behind a count
// header.
func (s *Sender) runCounted(ctx context.Context, names <-chan string, srcDir string) {
	var jobs []Job
	for name := range names {
		jobs = append(jobs, Job{
			SrcPath:  filepath.Join(srcDir, name),
			Name:     name,
			DestPath: GenerateDestPath(srcDir, name, s.cfg.DestPathPrefix, s.cfg.PreserveStructure),
		})
	}

	var conn net.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	c, err := s.dial()
	if err != nil {
		nlog.Errorf("sender[%s] counted mode: connect: %v", s.sid, err)
		metrics.SenderFilesFailed.WithLabelValues(s.cfg.CameraID).Add(float64(len(jobs)))
		s.failedMu.Lock()
		for _, j := range jobs {
			s.failed = append(s.failed, j.Name)
		}
		s.failedMu.Unlock()
		return
	}
	conn = c

	if err := wire.WriteCountHeader(conn, uint64(len(jobs))); err != nil {
		nlog.Errorf("sender[%s] counted mode: count header: %v", s.sid, err)
		return
	}

	for _, job := range jobs {
		if err := s.sendWithRetry(ctx, &conn, job); err != nil {
			nlog.Errorf("sender[%s] counted mode: %s: %v", s.sid, job.Name, err)
			metrics.SenderFilesFailed.WithLabelValues(s.cfg.CameraID).Inc()
			s.failedMu.Lock()
			s.failed = append(s.failed, job.Name)
			s.failedMu.Unlock()
		}
	}
}

// sendWithRetry attempts job up to cfg.MaxRetries+1 times total. *connp is
// reused across attempts and across jobs; a failed attempt closes it so the
// next attempt reconnects.
func (s *Sender) sendWithRetry(ctx context.Context, connp *net.Conn, job Job) error {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if *connp == nil {
			c, err := s.dial()
			if err != nil {
				lastErr = cmn.Wrap(cmn.ErrTransientNetwork, err, "connect")
				continue
			}
			*connp = c
		}
		if err := s.sendFile(*connp, job); err != nil {
			lastErr = err
			(*connp).Close()
			*connp = nil
			if s.cfg.Verbose {
				nlog.Warningf("sender[%s] retry %d/%d for %s: %v", s.sid, attempt+1, s.cfg.MaxRetries, job.Name, err)
			}
			continue
		}
		return nil
	}
	return lastErr
}

func (s *Sender) dial() (net.Conn, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	conn, err := net.DialTimeout("tcp", addr, s.cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

// sendFile streams one file record end-to-end: header, payload (zero-copy
// via io.Copy against the underlying *net.TCPConn's ReadFrom(sendfile)
// fast path on Linux), then the single ACK byte.
func (s *Sender) sendFile(conn net.Conn, job Job) error {
	f, err := os.Open(job.SrcPath)
	if err != nil {
		return cmn.Wrap(cmn.ErrDiskIO, err, "open "+job.Name)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return cmn.Wrap(cmn.ErrDiskIO, err, "stat "+job.Name)
	}
	size := st.Size()

	h := wire.Header{
		Name:     job.Name,
		DestPath: job.DestPath,
		Key:      s.cfg.Meta.Key,
		Side:     s.cfg.Meta.Side,
		Size:     uint64(size),
	}
	if err := wire.WriteHeader(conn, h); err != nil {
		return cmn.Wrap(cmn.ErrTransientNetwork, err, "write header")
	}

	n, err := io.Copy(conn, io.LimitReader(f, size))
	if err != nil {
		return cmn.Wrap(cmn.ErrTransientNetwork, err, "write payload")
	}
	if n != size {
		return cmn.Wrapf(cmn.ErrTransientNetwork, nil,
			"incomplete transfer of %s: sent %d/%d bytes", job.Name, n, size)
	}

	if dl, ok := conn.(interface{ SetReadDeadline(time.Time) error }); ok {
		_ = dl.SetReadDeadline(time.Now().Add(s.cfg.AckTimeout))
		defer dl.SetReadDeadline(time.Time{})
	}
	if err := wire.ReadAck(conn); err != nil {
		return cmn.Wrap(cmn.ErrTransientNetwork, err, "read ack")
	}

	atomic.AddInt64(&s.filesSent, 1)
	atomic.AddInt64(&s.bytesSent, size)
	metrics.SenderFilesSent.WithLabelValues(s.cfg.CameraID).Inc()
	metrics.SenderBytesSent.WithLabelValues(s.cfg.CameraID).Add(float64(size))
	if s.cfg.Verbose {
		nlog.Infof("sender[%s] -> %s -> %s (%d bytes)", s.sid, job.Name, job.DestPath, size)
	}
	return nil
}
