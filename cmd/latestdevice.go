package cmd

import (
	"fmt"

	"github.com/halkyon/mongoback/devices"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var cmdLatestDevice = &cobra.Command{
	Use:   "latest-device",
	Short: "Print the latest attached block device",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		tracker := &devices.Tracker{}
		latest, err := tracker.LatestAttached()
		if err != nil {
			logrus.Fatal(err)
		}
		fmt.Println(latest)
	},
}
