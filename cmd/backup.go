package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/halkyon/mongoback/backup"
	"github.com/halkyon/mongoback/cloud"
	"github.com/halkyon/mongoback/devices"
	mongoback "github.com/halkyon/mongoback/lib"
	"github.com/halkyon/mongoback/lvm"
	"github.com/halkyon/mongoback/mongodb"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cmdBackupVGName       string
	cmdBackupLVName       string
	cmdBackupMongoURL     string
	cmdBackupLogGroup     string
	cmdBackupLogStream    string
	cmdBackupRsyncCommand string
	cmdBackupLock         bool
	cmdBackupSeed         bool
	cmdBackupWaitTime     int

	cmdBackup = &cobra.Command{
		Use:   "backup",
		Short: "Run one backup of the cluster's live volume",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			cfg, err := cloud.NewConfig(ctx, awsRegion)
			if err != nil {
				logrus.Fatal(err)
			}
			api := cloud.NewAPI(cfg)

			meta := cloud.NewInstanceMetadata(cfg)
			instanceID, err := meta.InstanceID(ctx)
			if err != nil {
				logrus.Fatal(err)
			}
			az, err := meta.AvailabilityZone(ctx)
			if err != nil {
				logrus.Fatal(err)
			}

			waitTime := time.Duration(cmdBackupWaitTime) * time.Second
			vg := lvm.NewVolumeGroup(cmdBackupVGName, cmdBackupLVName)
			engine := lvm.NewEngine(vg)
			engine.RsyncCommand = mongoback.ParseCommand(cmdBackupRsyncCommand, engine.RsyncCommand)

			orch := &backup.Orchestrator{
				Cluster:              mongoName,
				Version:              tag,
				InstanceID:           instanceID,
				Volumes:              cloud.NewService(api, mongoName, instanceID, az, waitTime),
				Devices:              &devices.Tracker{},
				Source:               vg,
				Engine:               engine,
				SeedFromLastSnapshot: cmdBackupSeed,
				WaitTimeout:          waitTime,
			}

			if cmdBackupLock {
				orch.Locker = mongodb.NewLocker(cmdBackupMongoURL)
			}

			if cmdBackupLogGroup != "" {
				stream := cmdBackupLogStream
				if stream == "" {
					stream = fmt.Sprintf("mongoback-%s-%s", mongoName, instanceID)
				}
				sink, err := cloud.NewLogSink(ctx, cloudwatchlogs.NewFromConfig(cfg), cmdBackupLogGroup, stream)
				if err != nil {
					logrus.Fatal(err)
				}
				orch.Sink = sink
			}

			outcome, err := orch.Run(ctx)
			if err != nil {
				logrus.Fatal(err)
			}
			if outcome == backup.OutcomeNoPriorSnapshot {
				os.Exit(2)
			}
		},
	}
)

func init() {
	cmdBackup.Flags().StringVar(&cmdBackupVGName, "vg-name", "vgmongo", "LVM volume group name")
	cmdBackup.Flags().StringVar(&cmdBackupLVName, "lv-name", "lvmongo", "LVM logical volume name")
	cmdBackup.Flags().BoolVar(&cmdBackupLock, "mongo-lock", false, "lock mongo before performing the local snapshot")
	cmdBackup.Flags().StringVar(&cmdBackupMongoURL, "mongo-url", mongodb.DefaultURL, "connection URL of the mongod to lock")
	cmdBackup.Flags().BoolVar(&cmdBackupSeed, "seed-from-last-snapshot", false, "seed the destination volume from the last snapshot")
	cmdBackup.Flags().IntVar(&cmdBackupWaitTime, "wait-time", 60, "seconds to wait for volume and device transitions")
	cmdBackup.Flags().StringVar(&cmdBackupLogGroup, "log-group", "", "CloudWatch Logs group for run narration (disabled when empty)")
	cmdBackup.Flags().StringVar(&cmdBackupLogStream, "log-stream", "", "CloudWatch Logs stream name (defaults to mongoback-<cluster>-<instance>)")
	cmdBackup.Flags().StringVar(&cmdBackupRsyncCommand, "rsync-command", "", "override the rsync command, eg \"sudo rsync\"")
}
