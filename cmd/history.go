package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/halkyon/mongoback/cloud"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cmdHistoryLimit int

	cmdHistory = &cobra.Command{
		Use:   "history",
		Short: "List the most recent backups, reconstructed from snapshot tags",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			cfg, err := cloud.NewConfig(ctx, awsRegion)
			if err != nil {
				logrus.Fatal(err)
			}

			records, err := cloud.ListRecent(ctx, cloud.NewAPI(cfg), mongoName, cmdHistoryLimit)
			if err != nil {
				logrus.Fatal(err)
			}

			for _, rec := range records {
				if raw, ok := rec.Stats["rsync_total_file_size"]; ok {
					if size, err := strconv.ParseUint(raw, 10, 64); err == nil {
						logrus.Debugf("%s: %s at %s", rec.SnapshotID, humanize.Bytes(size), rec.DateStarted)
					}
				}
			}

			report, err := json.MarshalIndent(records, "", "    ")
			if err != nil {
				logrus.Fatal(err)
			}
			fmt.Println(string(report))
		},
	}
)

func init() {
	cmdHistory.Flags().IntVar(&cmdHistoryLimit, "limit", 1, "number of backups to display")
}
