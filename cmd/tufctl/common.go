package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tufcore/tufcore/cache"
	"github.com/tufcore/tufcore/config"
	"github.com/tufcore/tufcore/fetcher"
	"github.com/tufcore/tufcore/index"
	"github.com/tufcore/tufcore/internal/obs"
	"github.com/tufcore/tufcore/metadata"
	"github.com/tufcore/tufcore/repository"
)

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("metadata-dir", "", "directory holding cached root/timestamp/snapshot/mirrors metadata")
	cmd.Flags().String("target-dir", "", "directory downloaded package tarballs are written to")
	cmd.Flags().String("stage-dir", "", "scratch directory for in-flight downloads")
	cmd.Flags().StringSlice("mirror", nil, "mirror base URL, may be repeated")
	cmd.Flags().Bool("verbose", false, "enable debug logging")
	_ = cmd.MarkFlagRequired("metadata-dir")
	_ = cmd.MarkFlagRequired("mirror")
}

func buildRepository(cmd *cobra.Command) (*repository.Repository, *config.UpdaterConfig, error) {
	metadataDir, _ := cmd.Flags().GetString("metadata-dir")
	targetDir, _ := cmd.Flags().GetString("target-dir")
	stageDir, _ := cmd.Flags().GetString("stage-dir")
	mirrors, _ := cmd.Flags().GetStringSlice("mirror")
	verbose, _ := cmd.Flags().GetBool("verbose")

	obs.Configure(verbose)

	if targetDir == "" {
		targetDir = metadataDir
	}
	if stageDir == "" {
		stageDir = os.TempDir()
	}

	cfg := config.New(metadataDir, targetDir, stageDir)
	f := fetcher.NewHTTPFetcher(mirrors, stageDir)
	cc := cache.New(metadataDir)

	var idx index.Reader
	if path, ok := cc.GetCached(metadata.INDEX); ok {
		if data, err := os.ReadFile(path); err == nil {
			idx, _ = index.NewReader(data)
		}
	}

	return repository.New(f, cc, idx), cfg, nil
}
