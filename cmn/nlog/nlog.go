// Package nlog is a minimal leveled logger with a verbosity gate, in the
// shape of aistore's own nlog/glog: a handful of Xxxln helpers plus FastV
// to cheaply skip disabled debug lines on the hot path.
/*
 * Copyright (c) 2024, quidich data-transfer project contributors.
 */
package nlog

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

var (
	std     = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
	verbose int32
)

// SetVerbosity sets the global debug verbosity level (0 disables FastV gates).
func SetVerbosity(v int) { atomic.StoreInt32(&verbose, int32(v)) }

// FastV reports whether a debug statement gated at level `v` for `module`
// should run. The module argument exists to match call sites that want to
// gate per-subsystem; this implementation gates globally, which is enough
// for a single-binary-per-role system.
func FastV(v int, _ string) bool { return atomic.LoadInt32(&verbose) >= int32(v) }

func Infoln(args ...interface{})                 { std.Output(2, "I "+fmt.Sprintln(args...)) }
func Infof(format string, args ...interface{})   { std.Output(2, "I "+fmt.Sprintf(format, args...)+"\n") }
func Warningln(args ...interface{})               { std.Output(2, "W "+fmt.Sprintln(args...)) }
func Warningf(format string, args ...interface{}) { std.Output(2, "W "+fmt.Sprintf(format, args...)+"\n") }
func Errorln(args ...interface{})                 { std.Output(2, "E "+fmt.Sprintln(args...)) }
func Errorf(format string, args ...interface{})   { std.Output(2, "E "+fmt.Sprintf(format, args...)+"\n") }

func Fatalln(args ...interface{}) {
	std.Output(2, "F "+fmt.Sprintln(args...))
	os.Exit(1)
}
