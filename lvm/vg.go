// Package lvm drives the LVM command line tools: volume group
// introspection and the snapshot-and-copy sequence of a backup run.
package lvm

import (
	"fmt"
	"strconv"
	"strings"

	mongoback "github.com/halkyon/mongoback/lib"

	"github.com/sirupsen/logrus"
)

var lvmLog = logrus.WithFields(logrus.Fields{
	"component": "lvm",
})

const gib = 1 << 30

// VolumeGroup introspects the volume group backing the live database.
type VolumeGroup struct {
	Name          string
	LogicalVolume string

	PVSCommand []string
	LVSCommand []string
}

func NewVolumeGroup(name, logicalVolume string) *VolumeGroup {
	return &VolumeGroup{
		Name:          name,
		LogicalVolume: logicalVolume,
		PVSCommand:    []string{"pvs"},
		LVSCommand:    []string{"lvs"},
	}
}

// PhysicalDevices returns the device paths of the physical volumes in
// the group, eg ["/dev/xvdb"].
func (g *VolumeGroup) PhysicalDevices() ([]string, error) {
	cmd := mongoback.BuildCommand(g.PVSCommand,
		"--noheadings", "-o", "pv_name", "--select", "vg_name="+g.Name)
	out, err := mongoback.RunCommandOutput(lvmLog, cmd)
	if err != nil {
		return nil, fmt.Errorf("pvs: %w", err)
	}
	return parsePhysicalDevices(out), nil
}

// LogicalVolumeSizeGiB returns the logical volume's size rounded up to
// whole gibibytes, as expected by the EC2 volume create call.
func (g *VolumeGroup) LogicalVolumeSizeGiB() (int32, error) {
	cmd := mongoback.BuildCommand(g.LVSCommand,
		"--noheadings", "--units", "b", "--nosuffix", "-o", "lv_size",
		g.Name+"/"+g.LogicalVolume)
	out, err := mongoback.RunCommandOutput(lvmLog, cmd)
	if err != nil {
		return 0, fmt.Errorf("lvs: %w", err)
	}

	bytes, err := parseSizeBytes(out)
	if err != nil {
		return 0, fmt.Errorf("lvs %s/%s: %w", g.Name, g.LogicalVolume, err)
	}
	return ceilGiB(bytes), nil
}

func parsePhysicalDevices(out string) []string {
	var devices []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			devices = append(devices, line)
		}
	}
	return devices
}

func parseSizeBytes(out string) (int64, error) {
	s := strings.TrimSpace(out)
	if s == "" {
		return 0, fmt.Errorf("no size reported")
	}
	bytes, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse size %q: %w", s, err)
	}
	if bytes <= 0 {
		return 0, fmt.Errorf("logical volume reports non-positive size %d", bytes)
	}
	return bytes, nil
}

func ceilGiB(bytes int64) int32 {
	return int32((bytes + gib - 1) / gib)
}
