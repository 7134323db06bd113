// Package watcher reports file changes under a project root so that a
// scan can be re-run incrementally.
//
// fsnotify is used when available and directory polling otherwise
// (network mounts, some container volumes). Events pass the same ignore
// rules as the scanner and are coalesced by a Debouncer into batches.
//
//	w, err := watcher.NewHybridWatcher(watcher.Options{Exclude: cfg.Excludes()})
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//	go w.Start(ctx, root)
//	for batch := range w.Events() {
//	    // re-run the scan
//	}
package watcher
