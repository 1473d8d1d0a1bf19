package main

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tufcore/tufcore/updater"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "acquire the initial trusted root",
	Long:  "Fetch and pin the initial root document, either trust-on-first-use or against a set of pinned key fingerprints.",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, cfg, err := buildRepository(cmd)
		if err != nil {
			return err
		}
		keyIDs, _ := cmd.Flags().GetStringSlice("root-key-id")
		thresholdStr, _ := cmd.Flags().GetString("root-threshold")

		boot := updater.NewBootstrapper(repo, cfg)
		if len(keyIDs) == 0 {
			return boot.TrustOnFirstUse(repo.Cache)
		}
		threshold, err := strconv.Atoi(strings.TrimSpace(thresholdStr))
		if err != nil {
			threshold = len(keyIDs)
		}
		return boot.FromPinnedFingerprints(repo.Cache, keyIDs, threshold)
	},
}

func init() {
	addCommonFlags(bootstrapCmd)
	bootstrapCmd.Flags().StringSlice("root-key-id", nil, "pinned root signing key ID, may be repeated; omit for trust-on-first-use")
	bootstrapCmd.Flags().String("root-threshold", "", "number of pinned key IDs required to sign; defaults to all of them")
	rootCmd.AddCommand(bootstrapCmd)
}
