// Command camreceiver runs one receiver worker, listening on a single port
// and writing incoming frame files under out_dir.
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

	"github.com/quidich/framestream/aggregator"
	"github.com/quidich/framestream/cmn"
	"github.com/quidich/framestream/cmn/nlog"
	"github.com/quidich/framestream/core"
	"github.com/quidich/framestream/metrics"
	"github.com/quidich/framestream/pubsub"
	"github.com/quidich/framestream/receiver"
)

const leaderElectionRetry = time.Second

func main() {
	os.Exit(run())
}

func run() int {
	listenIP := flag.String("listen-ip", "0.0.0.0", "address to listen on")
	port := flag.Int("port", 0, "port to listen on")
	outDir := flag.String("out-dir", "", "destination root; its basename must equal camera-id")
	cameraID := flag.String("camera-id", "", "camera id this worker serves")
	reusePort := flag.Bool("reuseport", false, "bind with SO_REUSEPORT so sibling processes can share the port")
	expectCountFirst := flag.Bool("expect-count-first", false, "counted mode: read a count header before the first file")
	useDestPaths := flag.Bool("use-dest-paths", false, "honor each record's dest_path instead of writing flat by name")
	cleanupMaxCount := flag.Int("cleanup-max-count", 0, "cleanups allowed per capture before the sentinel TTL resets the count (0 disables cleanup)")
	cleanupTTL := flag.Duration("cleanup-ttl", 0, "cleanup sentinel TTL before its count resets")
	emitThreshold := flag.Int("emit-threshold", 1, "counter value the aggregator treats as capture-complete")
	globalStateDir := flag.String("global-state-dir", "", "shared counter/leader-lock directory (empty disables the counter)")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
	verbose := flag.Bool("verbose", false, "log every file received")

	runAggregator := flag.Bool("aggregator", false, "contend for the fleet-wide aggregator leader lock and run it if won")
	aggCameraConfig := flag.String("aggregator-camera-config", "", "camera-config JSON (required with -aggregator)")
	aggPollInterval := flag.Duration("aggregator-poll-interval", 0, "aggregator poll interval (default 100ms)")
	aggBuntPath := flag.String("aggregator-bunt-path", "", "buntdb file for the frame-paths store (mutually exclusive with -aggregator-redis-addr)")
	aggRedisAddr := flag.String("aggregator-redis-addr", "", "redis address for the frame-paths store")
	aggPubEndpoint := flag.String("aggregator-pub-endpoint", "", "ZeroMQ endpoint to bind for capture-complete events")
	aggTopic := flag.String("aggregator-topic", "", "pub/sub topic for capture-complete events (empty publishes single-frame)")
	aggS3Bucket := flag.String("aggregator-s3-bucket", "", "if set, mirror each emitted capture's disk-paths manifest to this S3 bucket")
	flag.Parse()

	if *outDir == "" || *port == 0 {
		fmt.Fprintln(os.Stderr, "out-dir and port are required")
		return core.ExitUsageError
	}

	cfg := cmn.ReceiverConfig{
		ListenIP:         *listenIP,
		Port:             *port,
		OutDir:           *outDir,
		ReusePort:        *reusePort,
		ExpectCountFirst: *expectCountFirst,
		UseDestPaths:     *useDestPaths,
		CleanupMaxCount:  *cleanupMaxCount,
		CleanupTTL:       *cleanupTTL,
		EmitThreshold:    *emitThreshold,
		GlobalStateDir:   *globalStateDir,
		Verbose:          *verbose,
	}

	w, err := receiver.New(cfg, *cameraID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return core.ExitUsageError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		nlog.Infoln("camreceiver: received signal, shutting down")
		cancel()
	}()

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr)
	}

	if *runAggregator {
		agg, err := buildAggregator(ctx, *globalStateDir, *aggCameraConfig, *emitThreshold, *aggPollInterval, *aggBuntPath, *aggRedisAddr, *aggPubEndpoint, *aggTopic, *aggS3Bucket)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid aggregator configuration: %v\n", err)
			return core.ExitUsageError
		}
		go runAggregatorLoop(ctx, agg)
	}

	if err := w.ListenAndServe(ctx); err != nil {
		nlog.Errorf("camreceiver: %v", err)
		return core.ExitGenericFailure
	}
	return core.ExitOK
}

func serveMetrics(addr string) {
	srv := &http.Server{Addr: addr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		nlog.Warningf("camreceiver: metrics server: %v", err)
	}
}

func buildAggregator(ctx context.Context, globalStateDir, cameraConfigPath string, emitThreshold int, pollInterval time.Duration, buntPath, redisAddr, pubEndpoint, topic, s3Bucket string) (*aggregator.Aggregator, error) {
	if globalStateDir == "" || cameraConfigPath == "" {
		return nil, fmt.Errorf("-aggregator requires -global-state-dir and -aggregator-camera-config")
	}
	cameras, err := cmn.LoadCamerasConfig(cameraConfigPath)
	if err != nil {
		return nil, err
	}

	var store aggregator.FramePathStore
	switch {
	case buntPath != "":
		store, err = aggregator.NewBuntStore(buntPath)
		if err != nil {
			return nil, err
		}
	case redisAddr != "":
		store = aggregator.NewRedisStore(redisAddr)
	}

	var pub *pubsub.Publisher
	if pubEndpoint != "" {
		pub, err = pubsub.NewPublisher(context.Background(), pubEndpoint)
		if err != nil {
			return nil, err
		}
	}

	var archiver aggregator.Archiver
	if s3Bucket != "" {
		archiver, err = aggregator.NewS3Archiver(ctx, s3Bucket)
		if err != nil {
			return nil, err
		}
	}

	return aggregator.New(aggregator.Config{
		GlobalStateDir: globalStateDir,
		EmitThreshold:  emitThreshold,
		Cameras:        cameras,
		PollInterval:   pollInterval,
		Store:          store,
		Publisher:      pub,
		Topic:          topic,
		Archiver:       archiver,
	}), nil
}

// runAggregatorLoop contends for the leader lock until it wins, then runs
// the poll loop until ctx is cancelled; until it wins, it retries every
// leaderElectionRetry, so idle replicas stand by for the elected leader.
func runAggregatorLoop(ctx context.Context, agg *aggregator.Aggregator) {
	ticker := time.NewTicker(leaderElectionRetry)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !agg.TryBecomeLeader() {
				continue
			}
			nlog.Infoln("camreceiver: won aggregator leader election")
			if err := agg.Run(ctx); err != nil {
				nlog.Warningf("camreceiver: aggregator run: %v", err)
			}
		}
	}
}
