package watcher

import (
	"time"
)

// Operation is the kind of change behind a FileEvent.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
	// OpIgnoreChange marks an edited .gitignore; ignore rules are reloaded
	// before it is emitted.
	OpIgnoreChange
	// OpConfigChange marks an edited project config file.
	OpConfigChange
)

var opNames = [...]string{
	OpCreate:       "CREATE",
	OpModify:       "MODIFY",
	OpDelete:       "DELETE",
	OpRename:       "RENAME",
	OpIgnoreChange: "IGNORE_CHANGE",
	OpConfigChange: "CONFIG_CHANGE",
}

func (op Operation) String() string {
	if op < 0 || int(op) >= len(opNames) {
		return "UNKNOWN"
	}
	return opNames[op]
}

// FileEvent is one change. Path is slash-separated and relative to the
// watched root.
type FileEvent struct {
	Path      string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Options configures a watcher.
type Options struct {
	// DebounceWindow is the quiet period before a batch is emitted.
	DebounceWindow time.Duration

	// PollInterval is the scan period of the polling fallback.
	PollInterval time.Duration

	// EventBufferSize is the capacity of the batch channel.
	EventBufferSize int

	// Exclude lists exclude globs, as in the scan configuration.
	Exclude []string

	// SkipDirs are root-relative directories never watched, such as the
	// data and output directories.
	SkipDirs []string

	// ConfigNames are file names reported as OpConfigChange.
	ConfigNames []string

	// ForcePolling skips fsnotify.
	ForcePolling bool
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 100,
	}
}

// WithDefaults fills zero values from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	return o
}
