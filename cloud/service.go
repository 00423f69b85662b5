package cloud

import (
	"context"
	"errors"
	"fmt"
	"time"

	mongoback "github.com/halkyon/mongoback/lib"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"
)

// Seeding clones a prior snapshot; completion can take much longer than
// a volume state transition, so it gets its own generous ceiling.
const snapshotWaitTimeout = time.Hour

var serviceLog = logrus.WithFields(logrus.Fields{
	"component": "cloud",
})

// Service drives the EC2 side of a backup run for one cluster: the
// lifecycle of the transient destination volume and its conversion into
// a durable, tagged snapshot.
type Service struct {
	api              API
	cluster          string
	instanceID       string
	availabilityZone string
	waitTimeout      time.Duration
}

func NewService(api API, cluster, instanceID, availabilityZone string, waitTimeout time.Duration) *Service {
	return &Service{
		api:              api,
		cluster:          cluster,
		instanceID:       instanceID,
		availabilityZone: availabilityZone,
		waitTimeout:      waitTimeout,
	}
}

// LiveVolumes returns the volumes tagged as the cluster's live data
// volume, reduced to their first attachment. Volumes that are not
// attached anywhere cannot be the live volume and are skipped.
func (s *Service) LiveVolumes(ctx context.Context) ([]mongoback.LiveVolume, error) {
	out, err := s.api.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
		Filters: []types.Filter{
			{Name: aws.String("tag:" + mongoback.TagClusterName), Values: []string{s.cluster}},
			{Name: aws.String("tag:" + mongoback.TagLiveVolume), Values: []string{"True"}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("describe live volumes: %w", err)
	}

	var volumes []mongoback.LiveVolume
	for _, v := range out.Volumes {
		if len(v.Attachments) == 0 {
			continue
		}
		volumes = append(volumes, mongoback.LiveVolume{
			ID:         aws.ToString(v.VolumeId),
			InstanceID: aws.ToString(v.Attachments[0].InstanceId),
			Device:     aws.ToString(v.Attachments[0].Device),
			Type:       string(v.VolumeType),
		})
	}
	return volumes, nil
}

// LastSnapshotID returns the id of the most recent backup snapshot for
// the cluster, or "" if none exists yet.
func (s *Service) LastSnapshotID(ctx context.Context) (string, error) {
	return LastSnapshot(ctx, s.api, s.cluster)
}

// Create provisions the destination volume, either sized explicitly or
// cloned from snapshotID. Cloning an in-progress snapshot is undefined
// behavior in EC2, so the source snapshot is waited on first.
func (s *Service) Create(ctx context.Context, sizeGiB int32, volumeType, snapshotID string) (string, error) {
	in := &ec2.CreateVolumeInput{
		AvailabilityZone: aws.String(s.availabilityZone),
		VolumeType:       types.VolumeType(volumeType),
		Encrypted:        aws.Bool(true),
	}

	if snapshotID != "" {
		serviceLog.Printf("waiting for snapshot %s to complete", snapshotID)
		w := ec2.NewSnapshotCompletedWaiter(s.api)
		err := w.Wait(ctx, &ec2.DescribeSnapshotsInput{
			SnapshotIds: []string{snapshotID},
		}, snapshotWaitTimeout)
		if err != nil {
			return "", fmt.Errorf("waiting for snapshot %s: %w", snapshotID, err)
		}
		in.SnapshotId = aws.String(snapshotID)
	} else {
		in.Size = aws.Int32(sizeGiB)
	}

	out, err := s.api.CreateVolume(ctx, in)
	if err != nil {
		return "", fmt.Errorf("create volume: %w", err)
	}
	return aws.ToString(out.VolumeId), nil
}

// AwaitAvailable blocks until the volume reports available.
func (s *Service) AwaitAvailable(ctx context.Context, volumeID string) error {
	w := ec2.NewVolumeAvailableWaiter(s.api)
	err := w.Wait(ctx, &ec2.DescribeVolumesInput{
		VolumeIds: []string{volumeID},
	}, s.waitTimeout)
	if err != nil {
		return fmt.Errorf("waiting for volume %s to become available: %w", volumeID, err)
	}
	return nil
}

// Attach attaches the volume to this instance at device and blocks
// until the volume reports in-use. Device registration inside the guest
// lags this; see devices.Tracker.AwaitChange.
func (s *Service) Attach(ctx context.Context, volumeID, device string) error {
	_, err := s.api.AttachVolume(ctx, &ec2.AttachVolumeInput{
		Device:     aws.String(device),
		InstanceId: aws.String(s.instanceID),
		VolumeId:   aws.String(volumeID),
	})
	if err != nil {
		return fmt.Errorf("attach volume %s at %s: %w", volumeID, device, err)
	}

	w := ec2.NewVolumeInUseWaiter(s.api)
	err = w.Wait(ctx, &ec2.DescribeVolumesInput{
		VolumeIds: []string{volumeID},
	}, s.waitTimeout)
	if err != nil {
		return fmt.Errorf("waiting for volume %s to attach: %w", volumeID, err)
	}
	return nil
}

// Detach force-detaches the volume and blocks until it is available
// again. Force is deliberate: a prior partial failure may have left the
// device mounted on the host side.
func (s *Service) Detach(ctx context.Context, volumeID, device string) error {
	_, err := s.api.DetachVolume(ctx, &ec2.DetachVolumeInput{
		Device:     aws.String(device),
		Force:      aws.Bool(true),
		InstanceId: aws.String(s.instanceID),
		VolumeId:   aws.String(volumeID),
	})
	if err != nil {
		return fmt.Errorf("detach volume %s: %w", volumeID, err)
	}
	return s.AwaitAvailable(ctx, volumeID)
}

// Delete deletes the volume. A volume that is already gone is not an
// error: cleanup paths may run twice.
func (s *Service) Delete(ctx context.Context, volumeID string) error {
	_, err := s.api.DeleteVolume(ctx, &ec2.DeleteVolumeInput{
		VolumeId: aws.String(volumeID),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidVolume.NotFound" {
			serviceLog.Warnf("volume %s already deleted", volumeID)
			return nil
		}
		return fmt.Errorf("delete volume %s: %w", volumeID, err)
	}
	return nil
}

// Snapshot converts the volume into a durable snapshot carrying the
// run's full tag set. It returns as soon as EC2 accepts the request;
// the snapshot completes in the background.
func (s *Service) Snapshot(ctx context.Context, volumeID string, run *mongoback.Run) (string, error) {
	tags, err := run.Tags()
	if err != nil {
		return "", err
	}

	out, err := s.api.CreateSnapshot(ctx, &ec2.CreateSnapshotInput{
		VolumeId:    aws.String(volumeID),
		Description: aws.String(run.DisplayName()),
		TagSpecifications: []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeSnapshot,
				Tags:         ec2Tags(tags),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create snapshot of volume %s: %w", volumeID, err)
	}
	return aws.ToString(out.SnapshotId), nil
}

func ec2Tags(tags []mongoback.Tag) []types.Tag {
	res := make([]types.Tag, 0, len(tags))
	for _, t := range tags {
		res = append(res, types.Tag{Key: aws.String(t.Key), Value: aws.String(t.Value)})
	}
	return res
}
