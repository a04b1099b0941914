package preflight

import (
	"context"

	"sentinel/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Pinger is the part of the store preflight needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunAll executes all applicable preflight checks for the given config.
// A nil store skips the connectivity check.
func RunAll(ctx context.Context, cfg *config.Config, st Pinger) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	if cfg.ObjectStorage.Backend == config.ObjectBackendFilesystem {
		results = append(results, CheckDirectoryAccess("Object directory", cfg.Paths.ObjectDir))
		results = append(results, CheckFreeSpace("Object storage free space", cfg.Paths.ObjectDir, cfg.Maintenance.MinFreeSpaceMiB))
	}
	if cfg.Store.Driver == config.StoreDriverSQLite {
		results = append(results, CheckFreeSpace("Store free space", cfg.Paths.DataDir, cfg.Maintenance.MinFreeSpaceMiB))
	}

	if st != nil {
		results = append(results, CheckStore(ctx, st))
	}

	if cfg.Scoring.Content.Classifier == config.ClassifierModel {
		results = append(results, CheckContentModel(ctx, cfg.Scoring.Content))
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
