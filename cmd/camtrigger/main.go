// Command camtrigger runs the trigger bridge, translating incoming
// "start capture" messages into a per-camera sender fan-out.
/*
 * Copyright (c) 2024, quidich data-transfer project contributors.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quidich/framestream/cmn"
	"github.com/quidich/framestream/cmn/nlog"
	"github.com/quidich/framestream/core"
	"github.com/quidich/framestream/metrics"
	"github.com/quidich/framestream/pubsub"
	"github.com/quidich/framestream/trigger"
)

func main() {
	os.Exit(run())
}

func run() int {
	cameraConfigPath := flag.String("camera-config", "", "camera-config JSON (required)")
	mode := flag.String("mode", "sub", "bridge flavor: \"sub\" (pub/sub subscriber) or \"rep\" (request/reply server)")
	endpoint := flag.String("endpoint", "", "ZeroMQ endpoint to dial (sub mode) or bind (rep mode)")
	topic := flag.String("topic", "", "subscribe topic (sub mode only; empty subscribes to everything)")
	baseHost := flag.String("base-host", "", "receiver host shared by every spawned sender")
	basePort := flag.Int("base-port", 0, "port offset added to each camera's sorted index")
	numConnections := flag.Int("num-connections", 1, "connections per spawned sender")
	timeout := flag.Duration("timeout", 0, "overall wall-clock timeout per capture cycle (default 5m)")
	grace := flag.Duration("grace", 0, "grace period after timeout before abandoning unfinished senders (default 1s)")
	detach := flag.Bool("detach", false, "return from each message handler as soon as the sender fleet is launched")
	republishEndpoint := flag.String("republish-endpoint", "", "if set, bind a local PUB socket and re-broadcast every trigger message")
	republishTopic := flag.String("republish-topic", "", "topic for re-published messages")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
	flag.Parse()

	if *cameraConfigPath == "" || *endpoint == "" || *baseHost == "" || *basePort == 0 {
		fmt.Fprintln(os.Stderr, "camera-config, endpoint, base-host, and base-port are required")
		return core.ExitUsageError
	}

	cameras, err := cmn.LoadCamerasConfig(*cameraConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid camera config: %v\n", err)
		return core.ExitUsageError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		nlog.Infoln("camtrigger: received signal, shutting down")
		cancel()
	}()

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr)
	}

	var republisher *pubsub.Publisher
	if *republishEndpoint != "" {
		republisher, err = pubsub.NewPublisher(ctx, *republishEndpoint)
		if err != nil {
			fmt.Fprintf(os.Stderr, "republish endpoint: %v\n", err)
			return core.ExitGenericFailure
		}
		defer republisher.Close()
	}

	bridge := trigger.New(trigger.Options{
		Cameras:        cameras,
		BaseHost:       *baseHost,
		BasePort:       *basePort,
		NumConnections: *numConnections,
		Timeout:        *timeout,
		Grace:          *grace,
		Detach:         *detach,
		Republisher:    republisher,
		RepublishTopic: *republishTopic,
	})

	switch *mode {
	case "sub":
		sub, err := pubsub.NewSubscriber(ctx, *endpoint, *topic)
		if err != nil {
			fmt.Fprintf(os.Stderr, "subscribe: %v\n", err)
			return core.ExitGenericFailure
		}
		defer sub.Close()
		if err := trigger.RunSubscriberLoop(ctx, sub, bridge); err != nil {
			nlog.Errorf("camtrigger: %v", err)
			return core.ExitGenericFailure
		}
	case "rep":
		rep, err := pubsub.NewReplyServer(ctx, *endpoint)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bind: %v\n", err)
			return core.ExitGenericFailure
		}
		defer rep.Close()
		if err := trigger.RunReplyLoop(ctx, rep, bridge); err != nil {
			nlog.Errorf("camtrigger: %v", err)
			return core.ExitGenericFailure
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown -mode %q (want \"sub\" or \"rep\")\n", *mode)
		return core.ExitUsageError
	}
	return core.ExitOK
}

func serveMetrics(addr string) {
	srv := &http.Server{Addr: addr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		nlog.Warningf("camtrigger: metrics server: %v", err)
	}
}
