package index

import (
	"errors"
	"sort"
	"sync"
	"time"

	ferrors "github.com/forge-ai/forge/internal/errors"
)

// Run statuses recorded in scan_logs.json.
const (
	StatusSuccess             = "success"
	StatusCompletedWithErrors = "completed_with_errors"
)

// Run modes.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// RunError is one recoverable failure kept in the run log.
type RunError struct {
	Stage   string `json:"stage"`
	File    string `json:"file,omitempty"`
	Code    string `json:"code,omitempty"`
	Class   string `json:"class"`
	Message string `json:"message"`
}

// RunLog is the scan_logs.json document.
type RunLog struct {
	Timestamp       time.Time        `json:"timestamp"`
	Status          string           `json:"status"`
	Mode            string           `json:"mode"`
	ProjectRoot     string           `json:"project_root"`
	TotalFiles      int              `json:"total_files"`
	ChangedFiles    int              `json:"changed_files"`
	UnchangedFiles  int              `json:"unchanged_files"`
	DeletedFiles    int              `json:"deleted_files"`
	TotalChunks     int              `json:"total_chunks"`
	RedactedChunks  int              `json:"redacted_chunks"`
	TotalEmbeddings int              `json:"total_embeddings"`
	SkippedBatches  int              `json:"skipped_batches"`
	SkippedChunks   int              `json:"skipped_chunks"`
	Backend         string           `json:"backend"`
	Model           string           `json:"model"`
	Dimensions      int              `json:"dimensions"`
	Duration        string           `json:"duration"`
	DurationMS      int64            `json:"duration_ms"`
	StageTimingsMS  map[string]int64 `json:"stage_timings_ms"`
	Errors          []RunError       `json:"errors"`
}

// errorLog collects recoverable errors from concurrent stages.
type errorLog struct {
	mu   sync.Mutex
	errs []RunError
}

func (l *errorLog) add(stage, file string, err error) RunError {
	re := RunError{
		Stage:   stage,
		File:    file,
		Code:    ferrors.GetCode(err),
		Class:   string(ferrors.ClassOf(err)),
		Message: errMessage(err),
	}
	l.mu.Lock()
	l.errs = append(l.errs, re)
	l.mu.Unlock()
	return re
}

// sorted returns the errors ordered by stage position, then file.
func (l *errorLog) sorted() []RunError {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := append([]RunError{}, l.errs...)
	sort.SliceStable(out, func(i, j int) bool {
		if stageOrder[out[i].Stage] != stageOrder[out[j].Stage] {
			return stageOrder[out[i].Stage] < stageOrder[out[j].Stage]
		}
		return out[i].File < out[j].File
	})
	return out
}

func (l *errorLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errs)
}

// Stage names used in RunError and the timing map.
const (
	stageScan  = "scan"
	stageDiff  = "diff"
	stageParse = "parse"
	stageChunk = "chunk"
	stageEmbed = "embed"
	stageIndex = "index"
	stageWrite = "write"
)

var stageOrder = map[string]int{
	stageScan: 0, stageDiff: 1, stageParse: 2, stageChunk: 3, stageEmbed: 4, stageIndex: 5, stageWrite: 6,
}

// errMessage prefers the ForgeError message over the full chain text.
func errMessage(err error) string {
	var fe *ferrors.ForgeError
	if errors.As(err, &fe) {
		if fe.Cause != nil && fe.Cause.Error() != fe.Message {
			return fe.Message + ": " + fe.Cause.Error()
		}
		return fe.Message
	}
	return err.Error()
}
