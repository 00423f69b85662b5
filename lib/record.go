package mongoback

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Tag keys attached to every backup snapshot. These are a wire contract
// shared with the reporting side; do not rename.
const (
	TagInstanceID   = "InstanceId"
	TagName         = "Name"
	TagDescription  = "Description"
	TagClusterName  = "MongoName"
	TagBackupMarker = "MongoBackups"
	TagLiveVolume   = "MongoLiveVolume"
	TagDateStarted  = "DateStarted"
	TagDateFinished = "DateFinished"
	TagVersion      = "MongoBackupsVersion"
)

// Transfer statistic keys are namespaced away from the identity keys.
const StatsPrefix = "rsync_"

// Timestamp profile used in DateStarted/DateFinished tag values:
// ISO-8601 with microseconds and the local UTC offset.
const TimestampFormat = "2006-01-02T15:04:05.000000-07:00"

// EC2 limits on resource tags. Encoding fails loudly rather than
// truncating when a run would exceed them.
const (
	maxTagsPerResource = 50
	maxTagKeyLen       = 128
	maxTagValueLen     = 256
)

var ErrTagLimit = errors.New("tag set exceeds EC2 tag limits")

// Tag is a single cloud resource tag.
type Tag struct {
	Key   string
	Value string
}

// LiveVolume is a candidate source volume discovered in the cloud API,
// reduced to the fields the eligibility check needs.
type LiveVolume struct {
	ID         string
	InstanceID string // instance the volume is attached to
	Device     string // device path of the attachment, eg /dev/xvdb
	Type       string // volume type, carried onto the destination volume
}

// Run holds the provenance and transfer statistics of one backup run.
// It is encoded as snapshot tags and never persisted anywhere else.
type Run struct {
	InstanceID  string
	ClusterName string
	Version     string
	Started     time.Time
	Finished    time.Time
	Stats       Stats
}

// DisplayName is used for the Name and Description tags.
func (r *Run) DisplayName() string {
	return fmt.Sprintf("MongoBackups-%s-%s", r.ClusterName, r.InstanceID)
}

// Tags encodes the run as a flat tag list: the fixed identity keys plus
// one tag per transfer statistic. Statistic keys are sorted so the
// encoding is deterministic.
func (r *Run) Tags() ([]Tag, error) {
	name := r.DisplayName()
	tags := []Tag{
		{Key: TagInstanceID, Value: r.InstanceID},
		{Key: TagName, Value: name},
		{Key: TagDescription, Value: name},
		{Key: TagClusterName, Value: r.ClusterName},
		{Key: TagBackupMarker, Value: "True"},
		{Key: TagDateStarted, Value: r.Started.Format(TimestampFormat)},
		{Key: TagDateFinished, Value: r.Finished.Format(TimestampFormat)},
		{Key: TagVersion, Value: r.Version},
	}

	statKeys := make([]string, 0, len(r.Stats))
	for k := range r.Stats {
		statKeys = append(statKeys, k)
	}
	sort.Strings(statKeys)
	for _, k := range statKeys {
		if !strings.HasPrefix(k, StatsPrefix) {
			return nil, fmt.Errorf("statistic key %q lacks the %q prefix", k, StatsPrefix)
		}
		tags = append(tags, Tag{Key: k, Value: r.Stats[k]})
	}

	if len(tags) > maxTagsPerResource {
		return nil, fmt.Errorf("%w: %d tags, limit is %d", ErrTagLimit, len(tags), maxTagsPerResource)
	}
	for _, t := range tags {
		if len(t.Key) > maxTagKeyLen {
			return nil, fmt.Errorf("%w: key %q is %d bytes, limit is %d", ErrTagLimit, t.Key, len(t.Key), maxTagKeyLen)
		}
		if len(t.Value) > maxTagValueLen {
			return nil, fmt.Errorf("%w: value of %q is %d bytes, limit is %d", ErrTagLimit, t.Key, len(t.Value), maxTagValueLen)
		}
	}

	return tags, nil
}

// Record is the decoded view of a backup snapshot's tags, used only for
// reporting. The SnapshotID, StartTime, Encrypted and Progress fields
// come from the snapshot resource itself, not from tags.
type Record struct {
	SnapshotID string    `json:"SnapshotId"`
	StartTime  time.Time `json:"StartTime"`
	Encrypted  bool      `json:"Encrypted"`
	Progress   string    `json:"Progress,omitempty"`

	InstanceID   string `json:"InstanceId,omitempty"`
	Name         string `json:"Name,omitempty"`
	Description  string `json:"Description,omitempty"`
	ClusterName  string `json:"MongoName,omitempty"`
	DateStarted  string `json:"DateStarted,omitempty"`
	DateFinished string `json:"DateFinished,omitempty"`
	Version      string `json:"MongoBackupsVersion,omitempty"`

	Stats Stats `json:"RsyncStats,omitempty"`
}

// DecodeTags is the inverse of Run.Tags. It is total: any subset of the
// expected keys yields a best-effort record, missing fields stay empty
// and unknown keys are ignored. Older backups carry fewer tags.
func DecodeTags(tags []Tag) Record {
	var rec Record
	for _, t := range tags {
		switch t.Key {
		case TagInstanceID:
			rec.InstanceID = t.Value
		case TagName:
			rec.Name = t.Value
		case TagDescription:
			rec.Description = t.Value
		case TagClusterName:
			rec.ClusterName = t.Value
		case TagDateStarted:
			rec.DateStarted = t.Value
		case TagDateFinished:
			rec.DateFinished = t.Value
		case TagVersion:
			rec.Version = t.Value
		default:
			if strings.HasPrefix(t.Key, StatsPrefix) {
				if rec.Stats == nil {
					rec.Stats = make(Stats)
				}
				rec.Stats[t.Key] = t.Value
			}
		}
	}
	return rec
}

// Started parses the DateStarted tag value, if present.
func (r Record) Started() (time.Time, error) {
	return time.Parse(TimestampFormat, r.DateStarted)
}
