// Package backup sequences one crash-consistent backup run: discover
// the eligible live volume, provision a destination volume, copy the
// database onto it through a local LVM snapshot, and convert it into a
// durable tagged cloud snapshot.
package backup

import (
	"context"
	"fmt"
	"os"
	"time"

	mongoback "github.com/halkyon/mongoback/lib"

	"github.com/sirupsen/logrus"
)

// State names the phase a run is in, for logging.
type State string

const (
	StateDiscovering  State = "discovering"
	StateProvisioning State = "provisioning"
	StateAttaching    State = "attaching"
	StatePreparing    State = "preparing"
	StateSnapshotting State = "snapshotting"
	StateFinalizing   State = "finalizing"
	StateCleaning     State = "cleaning"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Outcome distinguishes the results an automated caller cares about.
// It is only meaningful when Run returned a nil error.
type Outcome int

const (
	OutcomeFailure Outcome = iota
	OutcomeSuccess
	OutcomeNoEligibleVolume
	OutcomeNoPriorSnapshot
)

// VolumeService is the cloud side of a run: destination volume
// lifecycle plus snapshot creation and lookup.
type VolumeService interface {
	LiveVolumes(ctx context.Context) ([]mongoback.LiveVolume, error)
	LastSnapshotID(ctx context.Context) (string, error)
	Create(ctx context.Context, sizeGiB int32, volumeType, snapshotID string) (string, error)
	AwaitAvailable(ctx context.Context, volumeID string) error
	Attach(ctx context.Context, volumeID, device string) error
	Detach(ctx context.Context, volumeID, device string) error
	Delete(ctx context.Context, volumeID string) error
	Snapshot(ctx context.Context, volumeID string, run *mongoback.Run) (string, error)
}

// DeviceTracker arbitrates guest block device names.
type DeviceTracker interface {
	LatestAttached() (string, error)
	NextFree() (string, error)
	AwaitChange(baseline string, interval, timeout time.Duration) (string, bool)
}

// SourceInfo describes the volume group backing the live database.
type SourceInfo interface {
	PhysicalDevices() ([]string, error)
	LogicalVolumeSizeGiB() (int32, error)
}

// CopyEngine performs the local snapshot-and-copy sequence.
type CopyEngine interface {
	CreateFilesystem(device string) error
	Mount(device, dir string) error
	MountSnapshot(dir string) error
	Unmount(dir string) error
	CreateSnapshot() error
	RemoveSnapshot() error
	Copy(src, dst string) (mongoback.Stats, error)
}

// Locker holds the database in a flushed, locked state around the local
// snapshot creation.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// Narrator receives the run's operational narration, in order.
type Narrator interface {
	Put(ctx context.Context, message string)
}

// Orchestrator runs the backup state machine for one cluster. A zero
// PollInterval defaults to 1s, a zero WaitTimeout to 60s.
type Orchestrator struct {
	Cluster    string
	Version    string
	InstanceID string

	Volumes VolumeService
	Devices DeviceTracker
	Source  SourceInfo
	Engine  CopyEngine
	Locker  Locker   // nil disables the database flush lock
	Sink    Narrator // nil disables cloud narration

	SeedFromLastSnapshot bool
	PollInterval         time.Duration
	WaitTimeout          time.Duration
	MountDir             string // parent for temp mount points; "" means the default temp dir

	log   *logrus.Entry
	state State

	// defaults resolved per run, leaving the config fields untouched
	pollInterval time.Duration
	waitTimeout  time.Duration
}

// State reports the phase the last Run reached.
func (o *Orchestrator) State() State {
	return o.state
}

// Run performs one backup start to finish. Once the destination volume
// exists, detach and delete are attempted on every exit path, success
// or failure.
func (o *Orchestrator) Run(ctx context.Context) (Outcome, error) {
	o.pollInterval = o.PollInterval
	if o.pollInterval == 0 {
		o.pollInterval = time.Second
	}
	o.waitTimeout = o.WaitTimeout
	if o.waitTimeout == 0 {
		o.waitTimeout = time.Minute
	}
	o.log = logrus.WithFields(logrus.Fields{
		"component": "backup",
		"cluster":   o.Cluster,
	})

	o.setState(StateDiscovering)
	live, err := o.discover(ctx)
	if err != nil {
		return o.fail(err)
	}
	if live == nil {
		o.narrate(ctx, "no eligible live volume found for cluster %s", o.Cluster)
		o.setState(StateDone)
		return OutcomeNoEligibleVolume, nil
	}
	o.narrate(ctx, "live volume %s attached at %s", live.ID, live.Device)

	run := &mongoback.Run{
		InstanceID:  o.InstanceID,
		ClusterName: o.Cluster,
		Version:     o.Version,
		Started:     time.Now(),
	}

	o.setState(StateProvisioning)
	var seedID string
	if o.SeedFromLastSnapshot {
		seedID, err = o.Volumes.LastSnapshotID(ctx)
		if err != nil {
			return o.fail(err)
		}
		if seedID == "" {
			o.narrate(ctx, "seed requested but no prior snapshot exists for cluster %s", o.Cluster)
			o.setState(StateDone)
			return OutcomeNoPriorSnapshot, nil
		}
		o.narrate(ctx, "creating a %s volume seeded from snapshot %s", live.Type, seedID)
	}

	var sizeGiB int32
	if seedID == "" {
		sizeGiB, err = o.Source.LogicalVolumeSizeGiB()
		if err != nil {
			return o.fail(err)
		}
		o.narrate(ctx, "creating a %dGiB %s volume", sizeGiB, live.Type)
	}

	volumeID, err := o.Volumes.Create(ctx, sizeGiB, live.Type, seedID)
	if err != nil {
		return o.fail(err)
	}

	release := &mongoback.CleanupList{}
	release.Push("delete destination volume", func() error {
		return o.Volumes.Delete(ctx, volumeID)
	})

	runErr := o.attachAndTransfer(ctx, run, volumeID, release)

	var snapshotID string
	if runErr == nil {
		o.setState(StateFinalizing)
		run.Finished = time.Now()
		snapshotID, runErr = o.Volumes.Snapshot(ctx, volumeID, run)
	}

	o.setState(StateCleaning)
	if err := release.Run(o.log); err != nil {
		if runErr == nil {
			runErr = fmt.Errorf("cleanup: %w", err)
		} else {
			o.log.Warnf("cleanup failed after run error: %v", err)
		}
	}

	if runErr != nil {
		return o.fail(runErr)
	}
	o.narrate(ctx, "backup complete on snapshot %s", snapshotID)
	o.setState(StateDone)
	return OutcomeSuccess, nil
}

// discover returns the single live-tagged volume that is attached to
// this instance at a device backing the volume group, or nil. Anything
// else could be a cluster that merely shares tags with ours.
func (o *Orchestrator) discover(ctx context.Context) (*mongoback.LiveVolume, error) {
	volumes, err := o.Volumes.LiveVolumes(ctx)
	if err != nil {
		return nil, err
	}
	if len(volumes) == 0 {
		return nil, nil
	}

	physical, err := o.Source.PhysicalDevices()
	if err != nil {
		return nil, err
	}
	backing := make(map[string]struct{}, len(physical))
	for _, d := range physical {
		backing[d] = struct{}{}
	}

	for i := range volumes {
		v := &volumes[i]
		if v.InstanceID != o.InstanceID {
			continue
		}
		if _, ok := backing[v.Device]; !ok {
			continue
		}
		return v, nil
	}
	return nil, nil
}

func (o *Orchestrator) attachAndTransfer(ctx context.Context, run *mongoback.Run, volumeID string, release *mongoback.CleanupList) error {
	o.setState(StateAttaching)
	if err := o.Volumes.AwaitAvailable(ctx, volumeID); err != nil {
		return err
	}

	baseline, err := o.Devices.LatestAttached()
	if err != nil {
		return err
	}
	device, err := o.Devices.NextFree()
	if err != nil {
		return err
	}

	release.Push("detach destination volume", func() error {
		return o.Volumes.Detach(ctx, volumeID, device)
	})

	o.narrate(ctx, "attaching volume %s at %s", volumeID, device)
	if err := o.Volumes.Attach(ctx, volumeID, device); err != nil {
		return err
	}

	// The kernel assigns the name asynchronously; any change from the
	// baseline counts as confirmation. On timeout we proceed with the
	// name we asked for.
	guestDevice := device
	if observed, changed := o.Devices.AwaitChange(baseline, o.pollInterval, o.waitTimeout); changed {
		o.narrate(ctx, "new block device registered as %s", observed)
		guestDevice = observed
	} else {
		o.log.Warnf("no new block device observed within %s, proceeding with %s", o.waitTimeout, device)
	}

	o.setState(StatePreparing)
	volDir, err := os.MkdirTemp(o.MountDir, "mongoback-volume-")
	if err != nil {
		return err
	}
	snapDir, err := os.MkdirTemp(o.MountDir, "mongoback-lvsnap-")
	if err != nil {
		return err
	}

	teardown := &mongoback.CleanupList{}
	teardown.Push("remove volume mount point", func() error {
		return os.Remove(volDir)
	})
	teardown.Push("remove snapshot mount point", func() error {
		return os.Remove(snapDir)
	})
	err = o.transfer(ctx, run, guestDevice, volDir, snapDir, teardown)
	if tderr := teardown.Run(o.log); tderr != nil {
		o.narrate(ctx, "teardown finished with errors: %v", tderr)
	}
	return err
}

func (o *Orchestrator) transfer(ctx context.Context, run *mongoback.Run, device, volDir, snapDir string, teardown *mongoback.CleanupList) error {
	if err := o.Engine.CreateFilesystem(device); err != nil {
		return err
	}
	if err := o.Engine.Mount(device, volDir); err != nil {
		return err
	}
	teardown.Push("unmount destination volume", func() error {
		return o.Engine.Unmount(volDir)
	})

	o.setState(StateSnapshotting)

	// The database stays locked only across the snapshot create, and
	// unlock is attempted no matter how that create went.
	locked := false
	if o.Locker != nil {
		if err := o.Locker.Lock(ctx); err != nil {
			return fmt.Errorf("lock mongo: %w", err)
		}
		locked = true
	}
	snapErr := o.Engine.CreateSnapshot()
	if locked {
		if err := o.Locker.Unlock(ctx); err != nil {
			if snapErr == nil {
				snapErr = fmt.Errorf("unlock mongo: %w", err)
			} else {
				o.log.Errorf("unlock mongo: %v", err)
			}
		}
	}
	if snapErr != nil {
		return snapErr
	}
	teardown.Push("remove local snapshot", func() error {
		return o.Engine.RemoveSnapshot()
	})

	if err := o.Engine.MountSnapshot(snapDir); err != nil {
		return err
	}
	teardown.Push("unmount local snapshot", func() error {
		return o.Engine.Unmount(snapDir)
	})

	o.narrate(ctx, "copying %s to %s", snapDir, volDir)
	stats, err := o.Engine.Copy(snapDir, volDir)
	if err != nil {
		return err
	}
	run.Stats = stats
	return nil
}

func (o *Orchestrator) narrate(ctx context.Context, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	o.log.Print(msg)
	if o.Sink != nil {
		o.Sink.Put(ctx, msg)
	}
}

func (o *Orchestrator) setState(s State) {
	o.state = s
	o.log.WithField("state", s).Debug("entering state")
}

func (o *Orchestrator) fail(err error) (Outcome, error) {
	o.setState(StateFailed)
	return OutcomeFailure, err
}
