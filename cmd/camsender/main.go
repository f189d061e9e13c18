// Command camsender runs one sender engine against a single source
// directory, streaming newly-arrived frame files to a receiver pool.
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

	jsoniter "github.com/json-iterator/go"

	"github.com/quidich/framestream/cmn"
	"github.com/quidich/framestream/cmn/nlog"
	"github.com/quidich/framestream/core"
	"github.com/quidich/framestream/metrics"
	"github.com/quidich/framestream/sender"
	"github.com/quidich/framestream/tailer"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	os.Exit(run())
}

func run() int {
	host := flag.String("host", "", "receiver host")
	port := flag.Int("port", 0, "receiver port")
	srcDir := flag.String("src-dir", "", "directory to tail for new frame files")
	pattern := flag.String("pattern", "*.jpg", "frame filename glob")
	numConnections := flag.Int("num-connections", 1, "concurrent I/O workers")
	destPathPrefix := flag.String("dest-path-prefix", "", "destination-path prefix passed in every file record")
	preserveStructure := flag.Bool("preserve-structure", false, "preserve src_dir's relative path under dest-path-prefix")
	sendCountFirst := flag.Bool("send-count-first", false, "counted mode: single connection, count header, then the backlog")
	once := flag.Bool("once", false, "scan the source directory once and exit instead of tailing forever")
	startAfter := flag.String("start-after", "", "skip files lexicographically <= this name")
	cameraID := flag.String("camera-id", "", "camera id label for metrics")
	dryRun := flag.Bool("dry-run", false, "validate tailer completeness heuristics without sending")
	jsonStats := flag.Bool("json-stats", false, "print the final Report as JSON on exit")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
	verbose := flag.Bool("verbose", false, "log every file sent")
	flag.Parse()

	if *srcDir == "" || *host == "" || *port == 0 {
		fmt.Fprintln(os.Stderr, "src-dir, host, and port are required")
		return core.ExitUsageError
	}

	snd, err := sender.New(sender.Config{
		Host:              *host,
		Port:              *port,
		NumConnections:    *numConnections,
		DestPathPrefix:    *destPathPrefix,
		PreserveStructure: *preserveStructure,
		SendCountFirst:    *sendCountFirst,
		Once:              *once || *sendCountFirst,
		CameraID:          *cameraID,
		Verbose:           *verbose,
	})
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
		nlog.Infoln("camsender: received signal, shutting down")
		cancel()
	}()

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr)
	}

	tailCfg := cmn.DefaultTailerConfig()
	tailCfg.Pattern = *pattern
	tailCfg.Once = *once || *sendCountFirst
	tailCfg.DryRun = *dryRun

	t := tailer.New(*srcDir, tailCfg, *startAfter)
	names := t.Run(ctx)

	var report sender.Report
	if *dryRun {
		for name := range names {
			nlog.Infof("camsender: dry-run: %s passed the completeness check, not sent", name)
		}
	} else {
		report = snd.Run(ctx, names, *srcDir)
	}

	if *jsonStats {
		b, err := json.Marshal(report)
		if err == nil {
			fmt.Println(string(b))
		}
	} else {
		nlog.Infof("camsender: sent %d files, %d bytes, %.2f MB/s, %d failed",
			report.Files, report.Bytes, report.MBps, len(report.Failed))
	}

	if len(report.Failed) > 0 {
		return core.ExitGenericFailure
	}
	return core.ExitOK
}

func serveMetrics(addr string) {
	srv := &http.Server{Addr: addr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		nlog.Warningf("camsender: metrics server: %v", err)
	}
}
