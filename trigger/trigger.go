// Package trigger implements the bridge that turns an incoming
// "start capture" message into one sender per configured camera, with a
// derived starting offset and destination layout.
/*
 * Copyright (c) 2024, quidich data-transfer project contributors.
 */
package trigger

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"

	"github.com/quidich/framestream/cmn"
	"github.com/quidich/framestream/cmn/nlog"
	"github.com/quidich/framestream/core"
	"github.com/quidich/framestream/pubsub"
	"github.com/quidich/framestream/sender"
	"github.com/quidich/framestream/tailer"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultTimeout = 5 * time.Minute
	defaultGrace   = time.Second
)

var frameIDPattern = regexp.MustCompile(`^frame_[^_]+_(\d{9})\.jpg$`)

// Options parametrizes one Bridge.
type Options struct {
	Cameras        cmn.CamerasConfig
	BaseHost       string
	BasePort       int
	NumConnections int

	// Timeout bounds a whole capture cycle; Grace is how long, after
	// Timeout expires, the bridge waits for senders to unwind cooperatively
	// before abandoning them (there is no true kill signal for a goroutine,
	// only cooperative cancellation followed by abandonment).
	Timeout time.Duration
	Grace   time.Duration

	// Detach, when set, returns from HandleMessage as soon as the sender
	// fleet is launched instead of waiting for it to finish.
	Detach bool

	// Republisher, when non-nil, re-broadcasts the raw trigger message on
	// a local PUB socket so peer machines receive the same trigger.
	Republisher    *pubsub.Publisher
	RepublishTopic string
}

// Bridge fans an incoming trigger message out to one sender per camera.
type Bridge struct {
	opts Options
}

// New returns a Bridge configured with opts.
func New(opts Options) *Bridge {
	return &Bridge{opts: opts}
}

// ParseMessage decodes a trigger message body:
// {frame_id, ball_id, dragonfly_key, side, isStopped}.
func ParseMessage(body []byte) (core.TriggerMessage, error) {
	var msg core.TriggerMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, cmn.Wrap(cmn.ErrProtocolViolation, err, "parse trigger message")
	}
	return msg, nil
}

// extractFrameSuffix pulls the zero-padded 9-digit frame number out of a
// frame_id matching frame_<camera>_<9-digit>.jpg.
func extractFrameSuffix(frameID string) (string, error) {
	m := frameIDPattern.FindStringSubmatch(frameID)
	if m == nil {
		return "", cmn.Wrapf(cmn.ErrProtocolViolation, nil,
			"frame_id %q does not match frame_<camera>_<9-digit>.jpg", frameID)
	}
	return m[1], nil
}

// HandleMessage parses body and, unless the message reports the capture as
// already stopped, fans a sender out to every configured camera. It is the
// shared entry point for both the pub/sub subscriber and request/reply
// flavors.
func (b *Bridge) HandleMessage(ctx context.Context, body []byte) error {
	msg, err := ParseMessage(body)
	if err != nil {
		return err
	}
	if msg.IsStopped {
		return nil
	}
	suffix, err := extractFrameSuffix(msg.FrameID)
	if err != nil {
		return err
	}

	if b.opts.Republisher != nil {
		if err := b.opts.Republisher.Publish(b.opts.RepublishTopic, body); err != nil {
			nlog.Warningf("trigger: republish for capture %s: %v", msg.BallID, err)
		}
	}

	return b.fanOut(ctx, msg, suffix)
}

// fanOut launches one sender per camera concurrently, bounded by an overall
// wall-clock timeout: cooperative cancel via context, then abandon after a
// grace period rather than truly killing a goroutine.
func (b *Bridge) fanOut(ctx context.Context, msg core.TriggerMessage, suffix string) error {
	timeout := b.opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	fctx, cancel := context.WithTimeout(ctx, timeout)

	ids := b.opts.Cameras.SortedCameraIDs()
	g, gctx := errgroup.WithContext(fctx)
	for idx, camID := range ids {
		idx, camID := idx, camID
		cc := b.opts.Cameras[camID]
		g.Go(func() error {
			return b.runSender(gctx, idx, camID, cc, msg, suffix)
		})
	}

	if b.opts.Detach {
		go func() {
			defer cancel()
			if err := g.Wait(); err != nil {
				nlog.Warningf("trigger: capture %s: %v", msg.BallID, err)
			}
		}()
		return nil
	}
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	grace := b.opts.Grace
	if grace <= 0 {
		grace = defaultGrace
	}
	select {
	case err := <-done:
		return err
	case <-fctx.Done():
		select {
		case err := <-done:
			return err
		case <-time.After(grace):
			nlog.Warningf("trigger: capture %s: senders did not stop within the grace period, abandoning", msg.BallID)
			return cmn.Wrap(cmn.ErrTransientNetwork, fctx.Err(), "capture cycle timeout")
		}
	}
}

// runSender drives one camera's sender: destination host/port is the base
// port offset by the camera's sorted index, start_after is
// "frame_<camera>_<suffix>.jpg", and dest_path is
// "<camera.dest_path>/<capture_id>/<camera_id>".
func (b *Bridge) runSender(ctx context.Context, idx int, camID string, cc cmn.CameraConfig, msg core.TriggerMessage, suffix string) error {
	startAfter := fmt.Sprintf("frame_%s_%s.jpg", camID, suffix)
	destPrefix := filepath.ToSlash(filepath.Join(cc.DestPath, msg.BallID, camID))

	numConn := b.opts.NumConnections
	if numConn <= 0 {
		numConn = 1
	}

	snd, err := sender.New(sender.Config{
		Host:              b.opts.BaseHost,
		Port:              b.opts.BasePort + idx,
		NumConnections:    numConn,
		Meta:              core.Metadata{Key: msg.DragonflyKey, Side: msg.Side},
		DestPathPrefix:    destPrefix,
		PreserveStructure: false,
		Once:              true,
		CameraID:          camID,
	})
	if err != nil {
		return cmn.Wrapf(cmn.ErrConfig, err, "camera %s: build sender", camID)
	}

	tailCfg := cmn.DefaultTailerConfig()
	tailCfg.Once = true
	t := tailer.New(cc.Src, tailCfg, startAfter)
	names := t.Run(ctx)

	report := snd.Run(ctx, names, cc.Src)
	if len(report.Failed) > 0 {
		return cmn.Wrapf(cmn.ErrTransientNetwork, nil, "camera %s: %d file(s) failed", camID, len(report.Failed))
	}
	return nil
}

// RunSubscriberLoop drives the pub/sub subscriber flavor: receive, handle,
// repeat, until ctx is cancelled.
func RunSubscriberLoop(ctx context.Context, sub *pubsub.Subscriber, bridge *Bridge) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		body, err := sub.Recv()
		if err != nil {
			return err
		}
		if err := bridge.HandleMessage(ctx, body); err != nil {
			nlog.Warningf("trigger: handle message: %v", err)
		}
	}
}

// RunReplyLoop drives the request/reply flavor: same parsing, replies
// synchronously with success or error once the sender fleet terminates.
func RunReplyLoop(ctx context.Context, rep *pubsub.ReplyServer, bridge *Bridge) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		body, err := rep.Recv()
		if err != nil {
			return err
		}
		handleErr := bridge.HandleMessage(ctx, body)
		resp := map[string]string{"status": "ok"}
		if handleErr != nil {
			resp["status"] = "error"
			resp["error"] = handleErr.Error()
		}
		respBody, err := json.Marshal(resp)
		if err != nil {
			nlog.Warningf("trigger: marshal reply: %v", err)
			continue
		}
		if err := rep.Reply(respBody); err != nil {
			nlog.Warningf("trigger: send reply: %v", err)
		}
	}
}
