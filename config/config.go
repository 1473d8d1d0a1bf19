// Package config holds UpdaterConfig, layered defaults -> environment
// -> (in cmd/tufctl) CLI flags.
package config

import (
	"os"
	"strconv"
)

// UpdaterConfig controls the bounds the update driver and root updater
// operate within.
type UpdaterConfig struct {
	// MetadataDir is where verified role documents are persisted.
	MetadataDir string
	// TargetDir is where downloaded package tarballs are written.
	TargetDir string
	// StageDir is scratch space for in-flight downloads.
	StageDir string

	// MaxRestarts bounds the update driver's retry loop.
	MaxRestarts int
	// MaxRootRotations bounds how many sequential root versions the
	// root updater will fetch in a single call.
	MaxRootRotations int64

	RootMaxLength      int64
	TimestampMaxLength int64
	SnapshotMaxLength  int64
	MirrorsMaxLength   int64
	IndexMaxLength     int64
}

// Default values, matching the order of magnitude used by TUF
// reference clients for metadata documents (tens of KB) versus the
// package index (can run much larger).
const (
	defaultMaxRestarts        = 5
	defaultMaxRootRotations   = 32
	defaultRootMaxLength      = 512000
	defaultTimestampMaxLength = 16384
	defaultSnapshotMaxLength  = 2000000
	defaultMirrorsMaxLength   = 32768
	defaultIndexMaxLength     = 200000000
)

// New returns a config with compiled-in defaults, overridden by any
// recognized TUFCORE_* environment variables.
func New(metadataDir, targetDir, stageDir string) *UpdaterConfig {
	c := &UpdaterConfig{
		MetadataDir:        metadataDir,
		TargetDir:          targetDir,
		StageDir:           stageDir,
		MaxRestarts:        defaultMaxRestarts,
		MaxRootRotations:   defaultMaxRootRotations,
		RootMaxLength:      defaultRootMaxLength,
		TimestampMaxLength: defaultTimestampMaxLength,
		SnapshotMaxLength:  defaultSnapshotMaxLength,
		MirrorsMaxLength:   defaultMirrorsMaxLength,
		IndexMaxLength:     defaultIndexMaxLength,
	}
	applyEnvOverrides(c)
	return c
}

func applyEnvOverrides(c *UpdaterConfig) {
	overrideInt("TUFCORE_MAX_RESTARTS", &c.MaxRestarts)
	overrideInt64("TUFCORE_MAX_ROOT_ROTATIONS", &c.MaxRootRotations)
	overrideInt64("TUFCORE_ROOT_MAX_LENGTH", &c.RootMaxLength)
	overrideInt64("TUFCORE_TIMESTAMP_MAX_LENGTH", &c.TimestampMaxLength)
	overrideInt64("TUFCORE_SNAPSHOT_MAX_LENGTH", &c.SnapshotMaxLength)
	overrideInt64("TUFCORE_MIRRORS_MAX_LENGTH", &c.MirrorsMaxLength)
	overrideInt64("TUFCORE_INDEX_MAX_LENGTH", &c.IndexMaxLength)
}

func overrideInt(name string, dst *int) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	if parsed, err := strconv.Atoi(v); err == nil {
		*dst = parsed
	}
}

func overrideInt64(name string, dst *int64) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
		*dst = parsed
	}
}
