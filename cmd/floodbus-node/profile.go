package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
)

var profLog = logging.Logger("floodbus/profile")

// watchProfileSignal writes a cpu and a heap profile to dir every time the
// process receives SIGUSR1, until ctx is done.
func watchProfileSignal(ctx context.Context, dir string, cpuDuration time.Duration) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1)

	go func() {
		defer signal.Stop(sigs)
		for {
			select {
			case <-sigs:
				profLog.Info("SIGUSR1 received, capturing profiles")
				if err := captureProfiles(dir, cpuDuration, time.Now()); err != nil {
					profLog.Errorf("capturing profiles: %s", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	profLog.Infof("send SIGUSR1 to write profiles to %s", dir)
}

func captureProfiles(dir string, cpuDuration time.Duration, now time.Time) error {
	stamp := now.Format("20060102-150405")

	cpuFile := filepath.Join(dir, fmt.Sprintf("floodbus-cpu-%s.pprof", stamp))
	f, err := os.Create(cpuFile)
	if err != nil {
		return errors.Wrap(err, "creating cpu profile")
	}
	defer f.Close()

	if err := pprof.StartCPUProfile(f); err != nil {
		return errors.Wrap(err, "starting cpu profile")
	}
	time.Sleep(cpuDuration)
	pprof.StopCPUProfile()
	profLog.Infof("cpu profile saved to %s", cpuFile)

	heapFile := filepath.Join(dir, fmt.Sprintf("floodbus-heap-%s.pprof", stamp))
	h, err := os.Create(heapFile)
	if err != nil {
		return errors.Wrap(err, "creating heap profile")
	}
	defer h.Close()

	runtime.GC()
	if err := pprof.WriteHeapProfile(h); err != nil {
		return errors.Wrap(err, "writing heap profile")
	}
	profLog.Infof("heap profile saved to %s", heapFile)
	return nil
}
