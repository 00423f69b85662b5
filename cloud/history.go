package cloud

import (
	"context"
	"fmt"
	"sort"
	"time"

	mongoback "github.com/halkyon/mongoback/lib"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

func backupSnapshotFilters(cluster string) []types.Filter {
	return []types.Filter{
		{Name: aws.String("tag:" + mongoback.TagClusterName), Values: []string{cluster}},
		{Name: aws.String("tag:" + mongoback.TagBackupMarker), Values: []string{"True"}},
	}
}

// LastSnapshot returns the id of the cluster's most recent backup
// snapshot, by EC2 start time, or "" if no backup exists yet.
func LastSnapshot(ctx context.Context, api API, cluster string) (string, error) {
	out, err := api.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{
		Filters: backupSnapshotFilters(cluster),
	})
	if err != nil {
		return "", fmt.Errorf("describe backup snapshots: %w", err)
	}

	var lastID string
	var lastStart int64
	for _, s := range out.Snapshots {
		start := aws.ToTime(s.StartTime).UnixNano()
		if lastID == "" || start > lastStart {
			lastID = aws.ToString(s.SnapshotId)
			lastStart = start
		}
	}
	return lastID, nil
}

// ListRecent reconstructs the cluster's backup history from snapshot
// tags and returns at most limit records, most recent first. Ties in
// start time are broken by snapshot id so the order is stable.
func ListRecent(ctx context.Context, api API, cluster string, limit int) ([]mongoback.Record, error) {
	out, err := api.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{
		Filters: backupSnapshotFilters(cluster),
	})
	if err != nil {
		return nil, fmt.Errorf("describe backup snapshots: %w", err)
	}

	records := make([]mongoback.Record, 0, len(out.Snapshots))
	for _, s := range out.Snapshots {
		rec := mongoback.DecodeTags(decodeEC2Tags(s.Tags))
		rec.SnapshotID = aws.ToString(s.SnapshotId)
		rec.StartTime = aws.ToTime(s.StartTime)
		rec.Encrypted = aws.ToBool(s.Encrypted)
		rec.Progress = aws.ToString(s.Progress)
		records = append(records, rec)
	}

	sort.Slice(records, func(a, b int) bool {
		ta, tb := recordTime(records[a]), recordTime(records[b])
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return records[a].SnapshotID < records[b].SnapshotID
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// recordTime is the ordering key for a record: the EC2 start time, or
// the DateStarted tag when the resource carries none.
func recordTime(rec mongoback.Record) time.Time {
	if !rec.StartTime.IsZero() {
		return rec.StartTime
	}
	if t, err := rec.Started(); err == nil {
		return t
	}
	return time.Time{}
}

func decodeEC2Tags(tags []types.Tag) []mongoback.Tag {
	res := make([]mongoback.Tag, 0, len(tags))
	for _, t := range tags {
		res = append(res, mongoback.Tag{Key: aws.ToString(t.Key), Value: aws.ToString(t.Value)})
	}
	return res
}
