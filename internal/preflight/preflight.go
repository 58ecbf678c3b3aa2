package preflight

import (
	"context"

	"nightshift/internal/config"
	"nightshift/internal/destinations"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Prober is the reachability check used by CheckNetwork.
type Prober interface {
	IsConnected(ctx context.Context) bool
}

// RunAll executes every preflight check for cfg. Destinations are checked
// through members so the daemon can reuse its open clients; probe may be nil.
func RunAll(ctx context.Context, cfg *config.Config, members []destinations.Member, probe Prober) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// State directory holds the ledger, lock and socket.
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))

	for _, root := range cfg.Backup.SourceRoots {
		results = append(results, CheckSourceRoot(root))
	}

	if probe != nil {
		results = append(results, CheckNetwork(ctx, probe))
	}

	for _, m := range members {
		results = append(results, CheckDestination(ctx, m))
	}

	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
