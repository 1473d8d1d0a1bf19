package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tufcore/tufcore/updater"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "check for and apply metadata updates",
	Long:  "Run the bounded-retry update driver once, fetching and verifying any newer timestamp, snapshot, mirrors and package index.",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, cfg, err := buildRepository(cmd)
		if err != nil {
			return err
		}
		d := updater.NewDriver(repo, repo.Cache, cfg)
		result, err := d.CheckForUpdates(nil)
		if err != nil {
			return err
		}
		log.Infof("refresh complete: %s", result)
		return nil
	},
}

func init() {
	addCommonFlags(refreshCmd)
	rootCmd.AddCommand(refreshCmd)
}
