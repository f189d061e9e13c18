// Package pubsub is a thin wrapper over ZeroMQ PUB/SUB and REQ/REP sockets,
// the transport the aggregator publishes capture-complete events on and the
// trigger bridge consumes them from.
/*
 * Copyright (c) 2024, quidich data-transfer project contributors.
 */
package pubsub

import (
	"context"

	"github.com/go-zeromq/zmq4"

	"github.com/quidich/framestream/cmn"
)

// Publisher wraps a bound PUB socket.
type Publisher struct {
	sock zmq4.Socket
}

// NewPublisher binds endpoint and returns a ready-to-publish Publisher.
func NewPublisher(ctx context.Context, endpoint string) (*Publisher, error) {
	sock := zmq4.NewPub(ctx)
	if err := sock.Listen(endpoint); err != nil {
		return nil, cmn.Wrap(cmn.ErrTransientNetwork, err, "pub listen "+endpoint)
	}
	return &Publisher{sock: sock}, nil
}

// Publish sends body as a single frame, or as [topic, body] multipart when
// topic is non-empty.
func (p *Publisher) Publish(topic string, body []byte) error {
	var msg zmq4.Msg
	if topic != "" {
		msg = zmq4.NewMsgFrom([]byte(topic), body)
	} else {
		msg = zmq4.NewMsg(body)
	}
	return p.sock.Send(msg)
}

func (p *Publisher) Close() error { return p.sock.Close() }

// Subscriber wraps a SUB socket dialed to an upstream Publisher.
type Subscriber struct {
	sock zmq4.Socket
}

// NewSubscriber dials endpoint and subscribes to topic (empty subscribes to
// everything).
func NewSubscriber(ctx context.Context, endpoint, topic string) (*Subscriber, error) {
	sock := zmq4.NewSub(ctx)
	if err := sock.Dial(endpoint); err != nil {
		return nil, cmn.Wrap(cmn.ErrTransientNetwork, err, "sub dial "+endpoint)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, topic); err != nil {
		return nil, cmn.Wrap(cmn.ErrConfig, err, "subscribe")
	}
	return &Subscriber{sock: sock}, nil
}

// Recv blocks for the next message and returns its body frame, discarding
// the topic frame when one is present.
func (s *Subscriber) Recv() ([]byte, error) {
	msg, err := s.sock.Recv()
	if err != nil {
		return nil, cmn.Wrap(cmn.ErrTransientNetwork, err, "sub recv")
	}
	if len(msg.Frames) > 1 {
		return msg.Frames[1], nil
	}
	if len(msg.Frames) == 1 {
		return msg.Frames[0], nil
	}
	return nil, nil
}

func (s *Subscriber) Close() error { return s.sock.Close() }

// ReplyServer wraps a bound REP socket for the trigger bridge's
// request/reply flavor.
type ReplyServer struct {
	sock zmq4.Socket
}

// NewReplyServer binds endpoint.
func NewReplyServer(ctx context.Context, endpoint string) (*ReplyServer, error) {
	sock := zmq4.NewRep(ctx)
	if err := sock.Listen(endpoint); err != nil {
		return nil, cmn.Wrap(cmn.ErrTransientNetwork, err, "rep listen "+endpoint)
	}
	return &ReplyServer{sock: sock}, nil
}

// Recv blocks for the next request body.
func (r *ReplyServer) Recv() ([]byte, error) {
	msg, err := r.sock.Recv()
	if err != nil {
		return nil, cmn.Wrap(cmn.ErrTransientNetwork, err, "rep recv")
	}
	return msg.Bytes(), nil
}

// Reply sends body as the response to the most recent Recv.
func (r *ReplyServer) Reply(body []byte) error {
	return r.sock.Send(zmq4.NewMsg(body))
}

func (r *ReplyServer) Close() error { return r.sock.Close() }
