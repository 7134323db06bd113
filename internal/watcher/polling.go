package watcher

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"time"
)

type snapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// takeSnapshot records every path below root that the filter admits.
func takeSnapshot(f *pathFilter) map[string]snapshot {
	snap := make(map[string]snapshot)
	_ = filepath.WalkDir(f.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel := f.rel(p)
		if rel == "" {
			return nil
		}
		if f.ignored(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		snap[rel] = snapshot{modTime: info.ModTime(), size: info.Size(), isDir: d.IsDir()}
		return nil
	})
	return snap
}

// diffSnapshots returns the events that turn prev into cur, sorted by path.
func diffSnapshots(prev, cur map[string]snapshot, now time.Time) []FileEvent {
	var events []FileEvent
	for p, s := range cur {
		old, ok := prev[p]
		switch {
		case !ok:
			events = append(events, FileEvent{Path: p, Operation: OpCreate, IsDir: s.isDir, Timestamp: now})
		case !s.isDir && (!old.modTime.Equal(s.modTime) || old.size != s.size):
			events = append(events, FileEvent{Path: p, Operation: OpModify, Timestamp: now})
		}
	}
	for p, s := range prev {
		if _, ok := cur[p]; !ok {
			events = append(events, FileEvent{Path: p, Operation: OpDelete, IsDir: s.isDir, Timestamp: now})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	return events
}

// poll rescans the tree every interval and hands changes to emit until
// ctx or stop ends it.
func poll(ctx context.Context, f *pathFilter, interval time.Duration, stop <-chan struct{}, emit func(FileEvent)) {
	prev := takeSnapshot(f)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case now := <-ticker.C:
			cur := takeSnapshot(f)
			for _, ev := range diffSnapshots(prev, cur, now) {
				emit(ev)
			}
			prev = cur
		}
	}
}
