package mcp

import (
	"github.com/forge-ai/forge/internal/async"
	"github.com/forge-ai/forge/internal/manifest"
)

// QueryInput is the query_index tool input.
type QueryInput struct {
	Query   string            `json:"query" jsonschema:"natural language or identifier to search for"`
	K       int               `json:"k,omitempty" jsonschema:"number of results, default 5, max 100"`
	Filters map[string]string `json:"filters,omitempty" jsonschema:"exact-match metadata filters such as framework or file_path"`
	Mode    string            `json:"mode,omitempty" jsonschema:"ranking: vector (default), keyword or hybrid"`
}

// QueryOutput is the query_index tool output.
type QueryOutput struct {
	Results []ResultOutput `json:"results" jsonschema:"ranked chunks"`
}

// ResultOutput is one ranked chunk.
type ResultOutput struct {
	ID           string   `json:"id" jsonschema:"chunk identifier"`
	FilePath     string   `json:"file_path" jsonschema:"file path relative to the project root"`
	StartLine    int      `json:"start_line" jsonschema:"0-based first line of the chunk"`
	EndLine      int      `json:"end_line" jsonschema:"0-based line after the chunk"`
	Score        float64  `json:"score" jsonschema:"relevance score between 0 and 1"`
	Content      string   `json:"content" jsonschema:"chunk text with secrets redacted"`
	Language     string   `json:"language,omitempty"`
	Framework    string   `json:"framework,omitempty"`
	Component    string   `json:"component,omitempty" jsonschema:"component the chunk belongs to"`
	MatchReason  string   `json:"match_reason,omitempty"`
	MatchedTerms []string `json:"matched_terms,omitempty"`
}

// Documents get_manifest can return.
const (
	DocManifest  = "manifest"
	DocSummaries = "summaries"
	DocScanLog   = "scan_log"
	DocChangeSet = "changeset"
	DocInventory = "inventory"
)

// ManifestInput is the get_manifest tool input.
type ManifestInput struct {
	Document string `json:"document,omitempty" jsonschema:"manifest (default), summaries, scan_log, changeset or inventory"`
}

// FileSummaryInput is the input of get_file_summary.
type FileSummaryInput struct {
	Path string `json:"path" jsonschema:"file path relative to the project root, e.g. src/App.tsx"`
}

// FileSummaryOutput is the output of get_file_summary.
type FileSummaryOutput struct {
	File   manifest.FileSummary    `json:"file"`
	Folder *manifest.FolderSummary `json:"folder,omitempty" jsonschema:"summary of the directory holding the file"`
}

// IndexStatusInput is the index_status tool input (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput is the index_status tool output.
type IndexStatusOutput struct {
	Project   ProjectInfo   `json:"project"`
	Index     IndexInfo     `json:"index"`
	Embedding EmbeddingInfo `json:"embedding"`
	LastRun   *RunInfo      `json:"last_run,omitempty" jsonschema:"absent until the first scan completes"`
	Scan      *ScanProgress `json:"scan,omitempty" jsonschema:"progress of the scan started by the server, if any"`
	Queries   *QueryStats   `json:"queries,omitempty" jsonschema:"statistics of the queries served since start"`
}

// ScanProgress is the state of a background scan.
type ScanProgress = async.IndexProgressSnapshot

// QueryStats summarizes the queries this server answered.
type QueryStats struct {
	Total           int64            `json:"total"`
	ZeroResults     int64            `json:"zero_results"`
	ExactRepeatRate float64          `json:"exact_repeat_rate"`
	TopTerms        []TermStat       `json:"top_terms,omitempty"`
	Latency         map[string]int64 `json:"latency" jsonschema:"query count per latency bucket (p10 is under 10ms)"`
	RecentMisses    []string         `json:"recent_misses,omitempty" jsonschema:"recent queries that found nothing"`
}

// TermStat is a query term and how often it was searched.
type TermStat struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// ProjectInfo describes the scanned project.
type ProjectInfo struct {
	Root      string `json:"root"`
	Framework string `json:"framework"`
	BuildTool string `json:"build_tool,omitempty"`
}

// IndexInfo describes the persisted index.
type IndexInfo struct {
	Backend      string `json:"backend"`
	Collection   string `json:"collection"`
	PersistDir   string `json:"persist_directory"`
	KeywordIndex bool   `json:"keyword_index"`
}

// EmbeddingInfo describes the query-time embedding provider.
type EmbeddingInfo struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	// Static is true when the hashing fallback is in use; semantic quality
	// is low and keyword or hybrid mode is the better choice.
	Static bool `json:"static"`
}

// RunInfo summarizes the last scan from scan_logs.json.
type RunInfo struct {
	Timestamp  string `json:"timestamp"`
	Status     string `json:"status"`
	Mode       string `json:"mode"`
	Files      int    `json:"total_files"`
	Chunks     int    `json:"total_chunks"`
	Embeddings int    `json:"total_embeddings"`
	Errors     int    `json:"errors"`
	Duration   string `json:"duration"`
}
