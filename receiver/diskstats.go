package receiver

import (
	"time"

	"github.com/lufia/iostat"

	"github.com/quidich/framestream/cmn/nlog"
	"github.com/quidich/framestream/hk"
)

const diskStatsInterval = 30 * time.Second

// startDiskStatsSampler registers a periodic disk I/O sample with the
// housekeeper, logged at verbosity 4 — a cheap diagnostic for operators
// correlating receiver throughput with underlying disk saturation. Returns
// a stop function; safe to call even if sampling never found any drives.
func startDiskStatsSampler(tag string, verbose bool) (stop func()) {
	name := "receiver.diskstats." + tag
	hk.Reg(name, func() time.Duration {
		sampleDiskStats(tag, verbose)
		return diskStatsInterval
	}, diskStatsInterval)
	return func() { hk.Unreg(name) }
}

func sampleDiskStats(tag string, verbose bool) {
	drives, err := iostat.ReadDriveStats()
	if err != nil {
		if verbose {
			nlog.Warningf("receiver[%s]: diskstats: %v", tag, err)
		}
		return
	}
	if !nlog.FastV(4, "receiver") {
		return
	}
	for _, d := range drives {
		nlog.Infof("receiver[%s]: disk %s: read=%d write=%d bytes", tag, d.Name, d.ReadBytes, d.WriteBytes)
	}
}
