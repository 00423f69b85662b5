package lvm

import (
	"reflect"
	"testing"

	mongoback "github.com/halkyon/mongoback/lib"
)

type copyTest struct {
	script string
	stats  mongoback.Stats
	fails  bool
}

func TestCopy(t *testing.T) {
	tests := []copyTest{
		// Clean transfer.
		{
			script: `echo "Number of files: 1,234"; exit 0`,
			stats:  mongoback.Stats{"rsync_number_of_files": "1234"},
		},
		// Partial transfer (23) and vanished source files (24) still
		// yield the stats: entries can legitimately disappear between
		// the snapshot listing and the transfer.
		{
			script: `echo "Number of files: 1,234"; exit 23`,
			stats:  mongoback.Stats{"rsync_number_of_files": "1234"},
		},
		{
			script: `echo "Number of deleted files: 2"; exit 24`,
			stats:  mongoback.Stats{"rsync_number_of_deleted_files": "2"},
		},
		// Any other failure aborts.
		{
			script: `echo "Number of files: 1,234"; exit 12`,
			fails:  true,
		},
		{
			script: `exit 1`,
			fails:  true,
		},
	}

	for _, test := range tests {
		engine := NewEngine(NewVolumeGroup("vgmongo", "lvmongo"))
		engine.RsyncCommand = []string{"sh", "-c", test.script}

		stats, err := engine.Copy("/src", "/dst")
		if test.fails {
			if err == nil {
				t.Errorf("expected an error for %q", test.script)
			}
			continue
		}
		if err != nil {
			t.Errorf("unexpected error for %q: %v", test.script, err)
			continue
		}
		if !reflect.DeepEqual(stats, test.stats) {
			t.Errorf("stats for %q: %v", test.script, stats)
		}
	}
}
