package mongoback

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
)

func testRun() *Run {
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	return &Run{
		InstanceID:  "i-00ab0281eff3b2a63",
		ClusterName: "customerA",
		Version:     "0.1",
		Started:     started,
		Finished:    started.Add(90 * time.Second),
		Stats: Stats{
			"rsync_number_of_files": "1234",
			"rsync_total_file_size": "6936592543",
		},
	}
}

func TestTagsRoundTrip(t *testing.T) {
	run := testRun()

	tags, err := run.Tags()
	if err != nil {
		t.Fatal(err)
	}

	rec := DecodeTags(tags)
	if rec.InstanceID != run.InstanceID {
		t.Errorf("instance id: %q", rec.InstanceID)
	}
	if rec.ClusterName != run.ClusterName {
		t.Errorf("cluster name: %q", rec.ClusterName)
	}
	if rec.Version != run.Version {
		t.Errorf("version: %q", rec.Version)
	}
	if want := "MongoBackups-customerA-i-00ab0281eff3b2a63"; rec.Name != want || rec.Description != want {
		t.Errorf("name/description: %q/%q", rec.Name, rec.Description)
	}
	if rec.DateStarted != run.Started.Format(TimestampFormat) {
		t.Errorf("date started: %q", rec.DateStarted)
	}
	if rec.DateFinished != run.Finished.Format(TimestampFormat) {
		t.Errorf("date finished: %q", rec.DateFinished)
	}
	if !reflect.DeepEqual(rec.Stats, run.Stats) {
		t.Errorf("stats: %v", rec.Stats)
	}

	parsed, err := rec.Started()
	if err != nil {
		t.Fatal(err)
	}
	if !parsed.Equal(run.Started) {
		t.Errorf("parsed start time: %v", parsed)
	}
}

func TestTagsRoundTripEmptyStats(t *testing.T) {
	run := testRun()
	run.Stats = nil

	tags, err := run.Tags()
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 8 {
		t.Fatalf("expected the 8 identity tags, got %d", len(tags))
	}

	rec := DecodeTags(tags)
	if rec.Stats != nil {
		t.Errorf("stats: %v", rec.Stats)
	}
	if rec.ClusterName != run.ClusterName {
		t.Errorf("cluster name: %q", rec.ClusterName)
	}
}

func TestTagsRejectsUnprefixedStat(t *testing.T) {
	run := testRun()
	run.Stats = Stats{"number_of_files": "1"}

	if _, err := run.Tags(); err == nil {
		t.Error("expected an error for an unprefixed statistic key")
	}
}

func TestTagsCountLimit(t *testing.T) {
	run := testRun()
	run.Stats = make(Stats)
	for i := 0; i < 60; i++ {
		run.Stats[fmt.Sprintf("rsync_stat_%02d", i)] = "1"
	}

	_, err := run.Tags()
	if !errors.Is(err, ErrTagLimit) {
		t.Errorf("expected ErrTagLimit, got %v", err)
	}
}

func TestTagsValueLimit(t *testing.T) {
	run := testRun()
	run.Stats = Stats{"rsync_number_of_files": strings.Repeat("9", 300)}

	_, err := run.Tags()
	if !errors.Is(err, ErrTagLimit) {
		t.Errorf("expected ErrTagLimit, got %v", err)
	}
}

func TestDecodeTagsPartial(t *testing.T) {
	rec := DecodeTags([]Tag{
		{Key: TagClusterName, Value: "customerA"},
		{Key: "rsync_literal_data", Value: "42"},
	})

	if rec.ClusterName != "customerA" {
		t.Errorf("cluster name: %q", rec.ClusterName)
	}
	if rec.InstanceID != "" || rec.DateStarted != "" || rec.Version != "" {
		t.Errorf("missing fields should stay empty: %+v", rec)
	}
	if !reflect.DeepEqual(rec.Stats, Stats{"rsync_literal_data": "42"}) {
		t.Errorf("stats: %v", rec.Stats)
	}
}

func TestDecodeTagsEmpty(t *testing.T) {
	rec := DecodeTags(nil)
	if !reflect.DeepEqual(rec, Record{}) {
		t.Errorf("expected zero record, got %+v", rec)
	}
}

func TestDecodeTagsIgnoresUnknownKeys(t *testing.T) {
	rec := DecodeTags([]Tag{
		{Key: "aws:backup:something", Value: "x"},
		{Key: TagInstanceID, Value: "i-1"},
	})
	if rec.InstanceID != "i-1" {
		t.Errorf("instance id: %q", rec.InstanceID)
	}
	if rec.Stats != nil {
		t.Errorf("stats: %v", rec.Stats)
	}
}
