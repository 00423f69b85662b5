package cmd

import (
	"context"
	"fmt"

	"github.com/halkyon/mongoback/cloud"
	"github.com/halkyon/mongoback/lvm"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cmdInfoVGName string
	cmdInfoLVName string

	cmdInfo = &cobra.Command{
		Use:   "info",
		Short: "Dump the discovery state a backup run would see",
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

			fmt.Printf("region: %s\n", awsRegion)
			fmt.Printf("instance: %s\n", instanceID)

			svc := cloud.NewService(api, mongoName, instanceID, "", 0)
			volumes, err := svc.LiveVolumes(ctx)
			if err != nil {
				logrus.Fatal(err)
			}
			for _, v := range volumes {
				fmt.Printf("live volume: %s type=%s instance=%s device=%s\n",
					v.ID, v.Type, v.InstanceID, v.Device)
			}

			vg := lvm.NewVolumeGroup(cmdInfoVGName, cmdInfoLVName)
			physical, err := vg.PhysicalDevices()
			if err != nil {
				logrus.Fatal(err)
			}
			fmt.Printf("physical devices: %v\n", physical)

			size, err := vg.LogicalVolumeSizeGiB()
			if err != nil {
				logrus.Fatal(err)
			}
			fmt.Printf("logical volume size: %dGiB\n", size)

			last, err := cloud.LastSnapshot(ctx, api, mongoName)
			if err != nil {
				logrus.Fatal(err)
			}
			if last == "" {
				fmt.Println("last snapshot: none")
			} else {
				fmt.Printf("last snapshot: %s\n", last)
			}
		},
	}
)

func init() {
	cmdInfo.Flags().StringVar(&cmdInfoVGName, "vg-name", "vgmongo", "LVM volume group name")
	cmdInfo.Flags().StringVar(&cmdInfoLVName, "lv-name", "lvmongo", "LVM logical volume name")
}
