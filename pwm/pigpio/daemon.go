package pigpio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// SampleRates are the -s values pigpiod accepts, in microseconds.
var SampleRates = []int{1, 2, 4, 5, 8, 10}

// DaemonRunning reports whether a pigpiod process exists.
func DaemonRunning() bool {
	return daemonRunning("/proc")
}

func daemonRunning(proc string) bool {
	comms, err := filepath.Glob(filepath.Join(proc, "[0-9]*", "comm"))
	if err != nil {
		return false
	}
	for _, comm := range comms {
		b, err := os.ReadFile(comm)
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(b)) == "pigpiod" {
			return true
		}
	}
	return false
}

// StartDaemon launches pigpiod with the given sample rate. pigpiod forks
// into the background, so this returns once it has started.
func StartDaemon(ctx context.Context, sampleRate int) error {
	ok := false
	for _, r := range SampleRates {
		ok = ok || r == sampleRate
	}
	if !ok {
		return fmt.Errorf("pigpiod: unsupported sample rate %d", sampleRate)
	}
	out, err := exec.CommandContext(ctx, "pigpiod", "-s", strconv.Itoa(sampleRate)).CombinedOutput()
	if err != nil {
		return fmt.Errorf("starting pigpiod: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
