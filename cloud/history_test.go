package cloud

import (
	"context"
	"reflect"
	"testing"
	"time"

	mongoback "github.com/halkyon/mongoback/lib"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

func backupSnapshot(id string, start time.Time, extra ...types.Tag) types.Snapshot {
	tags := []types.Tag{
		{Key: aws.String("MongoName"), Value: aws.String("customerA")},
		{Key: aws.String("MongoBackups"), Value: aws.String("True")},
	}
	return types.Snapshot{
		SnapshotId: aws.String(id),
		StartTime:  aws.Time(start),
		Encrypted:  aws.Bool(true),
		Progress:   aws.String("100%"),
		Tags:       append(tags, extra...),
	}
}

func TestLastSnapshot(t *testing.T) {
	base := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		describeSnapshots: func(in *ec2.DescribeSnapshotsInput) (*ec2.DescribeSnapshotsOutput, error) {
			return &ec2.DescribeSnapshotsOutput{
				Snapshots: []types.Snapshot{
					backupSnapshot("snap-old", base),
					backupSnapshot("snap-new", base.Add(48*time.Hour)),
					backupSnapshot("snap-mid", base.Add(24*time.Hour)),
				},
			}, nil
		},
	}

	id, err := LastSnapshot(context.Background(), api, "customerA")
	if err != nil {
		t.Fatal(err)
	}
	if id != "snap-new" {
		t.Errorf("last snapshot: %q", id)
	}
}

func TestLastSnapshotNone(t *testing.T) {
	api := &fakeAPI{
		describeSnapshots: func(in *ec2.DescribeSnapshotsInput) (*ec2.DescribeSnapshotsOutput, error) {
			return &ec2.DescribeSnapshotsOutput{}, nil
		},
	}

	id, err := LastSnapshot(context.Background(), api, "customerA")
	if err != nil {
		t.Fatal(err)
	}
	if id != "" {
		t.Errorf("expected no snapshot, got %q", id)
	}
}

func TestListRecent(t *testing.T) {
	base := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		describeSnapshots: func(in *ec2.DescribeSnapshotsInput) (*ec2.DescribeSnapshotsOutput, error) {
			return &ec2.DescribeSnapshotsOutput{
				Snapshots: []types.Snapshot{
					backupSnapshot("snap-old", base),
					backupSnapshot("snap-new", base.Add(48*time.Hour),
						types.Tag{Key: aws.String("rsync_total_file_size"), Value: aws.String("6936592543")}),
					backupSnapshot("snap-mid", base.Add(24*time.Hour)),
				},
			}, nil
		},
	}

	records, err := ListRecent(context.Background(), api, "customerA", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records: %+v", records)
	}

	var ids []string
	for _, rec := range records {
		ids = append(ids, rec.SnapshotID)
	}
	if !reflect.DeepEqual(ids, []string{"snap-new", "snap-mid"}) {
		t.Errorf("order: %v", ids)
	}

	if records[0].ClusterName != "customerA" {
		t.Errorf("cluster name: %q", records[0].ClusterName)
	}
	if !records[0].Encrypted {
		t.Error("expected encrypted record")
	}
	if records[0].Stats["rsync_total_file_size"] != "6936592543" {
		t.Errorf("stats: %v", records[0].Stats)
	}
	if records[1].Stats != nil {
		t.Errorf("unexpected stats: %v", records[1].Stats)
	}
}

func TestListRecentFallsBackToStartedTag(t *testing.T) {
	base := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	untimed := types.Snapshot{
		SnapshotId: aws.String("snap-untimed"),
		Tags: []types.Tag{
			{Key: aws.String("MongoName"), Value: aws.String("customerA")},
			{Key: aws.String("MongoBackups"), Value: aws.String("True")},
			{Key: aws.String("DateStarted"),
				Value: aws.String(base.Add(time.Hour).Format(mongoback.TimestampFormat))},
		},
	}
	api := &fakeAPI{
		describeSnapshots: func(in *ec2.DescribeSnapshotsInput) (*ec2.DescribeSnapshotsOutput, error) {
			return &ec2.DescribeSnapshotsOutput{
				Snapshots: []types.Snapshot{
					backupSnapshot("snap-timed", base),
					untimed,
				},
			}, nil
		},
	}

	records, err := ListRecent(context.Background(), api, "customerA", 0)
	if err != nil {
		t.Fatal(err)
	}

	var ids []string
	for _, rec := range records {
		ids = append(ids, rec.SnapshotID)
	}
	if !reflect.DeepEqual(ids, []string{"snap-untimed", "snap-timed"}) {
		t.Errorf("order: %v", ids)
	}
}

func TestListRecentStableTieBreak(t *testing.T) {
	start := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		describeSnapshots: func(in *ec2.DescribeSnapshotsInput) (*ec2.DescribeSnapshotsOutput, error) {
			return &ec2.DescribeSnapshotsOutput{
				Snapshots: []types.Snapshot{
					backupSnapshot("snap-b", start),
					backupSnapshot("snap-a", start),
				},
			}, nil
		},
	}

	records, err := ListRecent(context.Background(), api, "customerA", 0)
	if err != nil {
		t.Fatal(err)
	}

	var ids []string
	for _, rec := range records {
		ids = append(ids, rec.SnapshotID)
	}
	if !reflect.DeepEqual(ids, []string{"snap-a", "snap-b"}) {
		t.Errorf("order: %v", ids)
	}
}
