package lvm

import (
	"errors"
	"fmt"
	"os/exec"

	mongoback "github.com/halkyon/mongoback/lib"
)

// Engine performs the local snapshot-and-copy sequence of one backup
// run: format and mount the destination device, snapshot the logical
// volume, mount the snapshot read-only and mirror it with rsync.
// All commands are overridable slices, following shell syntax.
type Engine struct {
	VolumeGroup *VolumeGroup

	// SnapshotName and SnapshotSize configure the copy-on-write
	// snapshot. The reserve is deliberately small: it only has to
	// absorb writes for the duration of the copy.
	SnapshotName string
	SnapshotSize string

	MkfsCommand     []string
	MountCommand    []string
	UmountCommand   []string
	LVCreateCommand []string
	LVRemoveCommand []string
	RsyncCommand    []string
}

func NewEngine(vg *VolumeGroup) *Engine {
	return &Engine{
		VolumeGroup:     vg,
		SnapshotName:    "lvsnap",
		SnapshotSize:    "300M",
		MkfsCommand:     []string{"mkfs.xfs"},
		MountCommand:    []string{"mount"},
		UmountCommand:   []string{"umount"},
		LVCreateCommand: []string{"lvcreate"},
		LVRemoveCommand: []string{"lvremove"},
		RsyncCommand:    []string{"rsync"},
	}
}

// CreateFilesystem formats the freshly attached destination device.
func (e *Engine) CreateFilesystem(device string) error {
	cmd := mongoback.BuildCommand(e.MkfsCommand, "/dev/"+device)
	if err := mongoback.RunCommand(lvmLog, cmd); err != nil {
		return fmt.Errorf("mkfs /dev/%s: %w", device, err)
	}
	return nil
}

// Mount mounts the destination device read-write at dir.
func (e *Engine) Mount(device, dir string) error {
	cmd := mongoback.BuildCommand(e.MountCommand, "/dev/"+device, dir)
	if err := mongoback.RunCommand(lvmLog, cmd); err != nil {
		return fmt.Errorf("mount /dev/%s: %w", device, err)
	}
	return nil
}

// MountSnapshot mounts the local snapshot read-only at dir. nouuid is
// required because the snapshot carries the same XFS uuid as the origin.
func (e *Engine) MountSnapshot(dir string) error {
	cmd := mongoback.BuildCommand(e.MountCommand,
		"-o", "nouuid,ro", e.snapshotPath(), dir)
	if err := mongoback.RunCommand(lvmLog, cmd); err != nil {
		return fmt.Errorf("mount %s: %w", e.snapshotPath(), err)
	}
	return nil
}

func (e *Engine) Unmount(dir string) error {
	cmd := mongoback.BuildCommand(e.UmountCommand, dir)
	if err := mongoback.RunCommand(lvmLog, cmd); err != nil {
		return fmt.Errorf("umount %s: %w", dir, err)
	}
	return nil
}

// CreateSnapshot creates the copy-on-write snapshot of the source
// logical volume. The caller holds the database flush lock across this
// call only; keep it fast.
func (e *Engine) CreateSnapshot() error {
	origin := fmt.Sprintf("/dev/mapper/%s-%s",
		e.VolumeGroup.Name, e.VolumeGroup.LogicalVolume)
	cmd := mongoback.BuildCommand(e.LVCreateCommand,
		"-L", e.SnapshotSize, "-s", "-n", e.SnapshotName, origin)
	if err := mongoback.RunCommand(lvmLog, cmd); err != nil {
		return fmt.Errorf("lvcreate %s: %w", origin, err)
	}
	return nil
}

// RemoveSnapshot removes the copy-on-write snapshot. Leaking it would
// permanently consume reserve space on the volume group.
func (e *Engine) RemoveSnapshot() error {
	cmd := mongoback.BuildCommand(e.LVRemoveCommand, "-y", e.snapshotPath())
	if err := mongoback.RunCommand(lvmLog, cmd); err != nil {
		return fmt.Errorf("lvremove %s: %w", e.snapshotPath(), err)
	}
	return nil
}

// Copy mirrors src onto dst, deleting destination files absent from the
// source, and returns the parsed transfer statistics. rsync exit codes
// 23 and 24 (partial transfer, source files vanished) are tolerated:
// files can legitimately disappear between the snapshot listing and the
// transfer.
func (e *Engine) Copy(src, dst string) (mongoback.Stats, error) {
	cmd := mongoback.BuildCommand(e.RsyncCommand,
		"-a", "--delete", "--stats", src+"/", dst+"/")
	out, err := mongoback.RunCommandOutput(lvmLog, cmd)
	stats := mongoback.ParseRsyncStats(out)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			switch exitErr.ExitCode() {
			case 23, 24:
				lvmLog.Warnf("rsync finished with partial transfer (exit %d)", exitErr.ExitCode())
				return stats, nil
			}
		}
		return nil, fmt.Errorf("rsync: %w", err)
	}
	return stats, nil
}

func (e *Engine) snapshotPath() string {
	return fmt.Sprintf("/dev/%s/%s", e.VolumeGroup.Name, e.SnapshotName)
}
