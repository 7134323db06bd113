// Package preflight checks that a project can be scanned and served:
// free disk space and write access for the data directory, the file
// descriptor limit, the configuration, and the reachability of the
// embedding provider and summarizer.
//
//	checker := preflight.New(cfg)
//	results := checker.RunAll(ctx, root)
//	if checker.HasCriticalFailures(results) {
//	    // refuse to scan
//	}
package preflight
