package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	mongoName string
	awsRegion string
	logLevel  string

	tag       = "git"
	commit    = "unknown"
	buildDate = "unknown"

	rootCmd = &cobra.Command{
		Use:   "mongoback",
		Short: "Crash-consistent EBS backups of a MongoDB cluster on LVM",
	}
	cmdVersion = &cobra.Command{
		Use: "version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Version: %s\n", tag)
			fmt.Printf("Commit: %s\n", commit)
			fmt.Printf("Build Date: %s\n", buildDate)
		},
	}
)

func init() {
	cobra.OnInitialize(func() {
		if logLevel != "" {
			level, err := logrus.ParseLevel(logLevel)
			if err == nil {
				logrus.SetLevel(level)
			} else {
				logrus.Warnf("Cannot set log level: %v", err)
			}
		}
	})

	rootCmd.PersistentFlags().StringVar(&mongoName, "mongo-name", "", "name of the mongo cluster")
	rootCmd.PersistentFlags().StringVar(&awsRegion, "aws-region", "", "AWS region the mongo cluster exists within")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", os.Getenv("LOG_LEVEL"), "log level (trace, debug, info, warn, error)")
	_ = rootCmd.MarkPersistentFlagRequired("mongo-name")
	_ = rootCmd.MarkPersistentFlagRequired("aws-region")

	rootCmd.AddCommand(cmdBackup, cmdHistory, cmdInfo, cmdLatestDevice, cmdVersion)
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		logrus.Fatal(err)
	}
}
