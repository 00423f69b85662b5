// Package devices discovers the block device names the guest kernel
// assigns to attached EBS volumes. Device registration is asynchronous
// relative to the EC2 API, so attachment is confirmed by polling /dev.
package devices

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// EBS volumes surface in the guest as /dev/xvd<letter>.
var devicePattern = regexp.MustCompile(`^xvd[a-z]$`)

// ErrDeviceSpaceExhausted is returned when no further device name can
// be derived: either no device is attached yet so there is no baseline,
// or the latest device already carries the last letter of the alphabet.
var ErrDeviceSpaceExhausted = errors.New("block device name space exhausted")

var log = logrus.WithFields(logrus.Fields{
	"component": "devices",
})

// Tracker enumerates attached block devices by scanning the host's
// device tree. Every call rescans; the kernel can attach devices
// between calls.
type Tracker struct {
	// DevRoot is the directory scanned for device nodes. Empty means /dev.
	DevRoot string
}

func (t *Tracker) root() string {
	if t.DevRoot == "" {
		return "/dev"
	}
	return t.DevRoot
}

// LatestAttached returns the lexicographically greatest attached device
// name matching the EBS naming convention, or "" if none exist.
func (t *Tracker) LatestAttached() (string, error) {
	entries, err := os.ReadDir(t.root())
	if err != nil {
		return "", fmt.Errorf("scanning %s: %w", t.root(), err)
	}

	var names []string
	for _, entry := range entries {
		if devicePattern.MatchString(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", nil
	}

	sort.Strings(names)
	return names[len(names)-1], nil
}

// NextFree returns the device name immediately following the latest
// attached one. This is a heuristic: a concurrent attach from outside
// this process can still race us for the name.
func (t *Tracker) NextFree() (string, error) {
	latest, err := t.LatestAttached()
	if err != nil {
		return "", err
	}
	if latest == "" {
		return "", fmt.Errorf("no attached device to establish a baseline: %w", ErrDeviceSpaceExhausted)
	}

	suffix := latest[len(latest)-1]
	if suffix >= 'z' {
		return "", fmt.Errorf("latest device %s carries the last assignable letter: %w", latest, ErrDeviceSpaceExhausted)
	}
	return fmt.Sprintf("xvd%c", suffix+1), nil
}

// AwaitChange polls LatestAttached until it differs from baseline,
// treating any change as confirmation that the attach registered with
// the kernel. On timeout it returns the baseline and false; the caller
// may proceed optimistically with its chosen name.
func (t *Tracker) AwaitChange(baseline string, interval, timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	for {
		latest, err := t.LatestAttached()
		if err == nil && latest != baseline {
			return latest, true
		}
		if time.Now().After(deadline) {
			return baseline, false
		}
		log.Debug("waiting for new block device to register")
		time.Sleep(interval)
	}
}
