package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tufcore/tufcore/download"
)

var getCmd = &cobra.Command{
	Use:   "get <package-id>",
	Short: "resolve and download a package against the trusted index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, cfg, err := buildRepository(cmd)
		if err != nil {
			return err
		}
		dl := download.NewPackageDownloader(repo, repo.Cache, cfg.TargetDir)

		var path string
		err = repo.WithMirror(func() error {
			var innerErr error
			path, innerErr = dl.Download(0, args[0])
			return innerErr
		})
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

func init() {
	addCommonFlags(getCmd)
	rootCmd.AddCommand(getCmd)
}
