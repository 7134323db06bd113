package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forge-ai/forge/internal/async"
	"github.com/forge-ai/forge/internal/config"
	"github.com/forge-ai/forge/internal/embed"
	"github.com/forge-ai/forge/internal/index"
	"github.com/forge-ai/forge/internal/manifest"
	"github.com/forge-ai/forge/internal/output"
	"github.com/forge-ai/forge/internal/parse"
	"github.com/forge-ai/forge/internal/search"
	"github.com/forge-ai/forge/internal/store"
	"github.com/forge-ai/forge/internal/telemetry"
	"github.com/forge-ai/forge/pkg/version"
)

// ServerName is reported in the MCP implementation info.
const ServerName = "forge"

// Tool names.
const (
	ToolQueryIndex  = "query_index"
	ToolGetManifest = "get_manifest"
	ToolIndexStatus = "index_status"

	ToolGetFileSummary = "get_file_summary"
)

// Options configures NewServer.
type Options struct {
	// Searcher answers query_index (required).
	Searcher *search.Searcher
	// Provider is reported by index_status; may be nil.
	Provider embed.Provider
	// Config describes the index; defaults to config.NewConfig().
	Config *config.Config
	// RootDir is the scanned project.
	RootDir string
	// OutputDir holds the scan documents.
	OutputDir string
	// Progress tracks a scan running inside the server; may be nil.
	Progress *async.IndexProgress
	// Metrics records served queries; may be nil.
	Metrics *telemetry.QueryMetrics
}

// Server exposes the index to MCP clients.
type Server struct {
	mcp       *mcp.Server
	searcher  *search.Searcher
	provider  embed.Provider
	config    *config.Config
	rootDir   string
	outputDir string
	progress  *async.IndexProgress
	metrics   *telemetry.QueryMetrics
	logger    *slog.Logger
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name: ToolQueryIndex,
		Description: "Search the project's indexed source chunks. Returns the best matching code with file path, " +
			"line range and component metadata. Use filters to narrow by framework, language or file_path.",
	},
	{
		Name: ToolGetManifest,
		Description: "Return a scan document as JSON: the project manifest (framework, routes, components, " +
			"API calls, suggested backend endpoints), hierarchical summaries, the scan log, the change set or the file inventory.",
	},
	{
		Name:        ToolIndexStatus,
		Description: "Report the index backend, the embedding model in use, the outcome of the last scan " +
			"and the progress of a scan running in the server.",
	},
	{
		Name: ToolGetFileSummary,
		Description: "Return the summary of one scanned file (purpose, key exports, API dependencies, framework) " +
			"together with the summary of its folder. Paths are relative to the project root.",
	},
}

// NewServer builds the server and registers its tools.
func NewServer(opts Options) (*Server, error) {
	if opts.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}
	outDir := opts.OutputDir
	if outDir == "" {
		outDir = config.ResolvePath(opts.RootDir, cfg.Output.Directory)
	}

	s := &Server{
		searcher:  opts.Searcher,
		provider:  opts.Provider,
		config:    cfg,
		rootDir:   opts.RootDir,
		outputDir: outDir,
		progress:  opts.Progress,
		metrics:   opts.Metrics,
		logger:    slog.Default(),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version.Version}, nil)
	s.registerTools()
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolQueryIndex, Description: tools[0].Description}, s.mcpQueryHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolGetManifest, Description: tools[1].Description}, s.mcpManifestHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolIndexStatus, Description: tools[2].Description}, s.mcpIndexStatusHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolGetFileSummary, Description: tools[3].Description}, s.mcpFileSummaryHandler)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

// CallTool invokes a tool by name with JSON-shaped arguments, bypassing
// the transport.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolQueryIndex:
		var in QueryInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		results, err := s.query(ctx, in)
		if err != nil {
			return nil, err
		}
		return toQueryOutput(results), nil
	case ToolGetManifest:
		var in ManifestInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.document(in.Document)
	case ToolIndexStatus:
		return s.status(), nil
	case ToolGetFileSummary:
		var in FileSummaryInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.fileSummary(in.Path)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, v any) error {
	if len(args) == 0 {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, v); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

// query runs query_index.
func (s *Server) query(ctx context.Context, in QueryInput) ([]search.Result, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, NewInvalidParamsError("query parameter is required")
	}
	mode, err := search.ParseMode(in.Mode)
	if err != nil {
		return nil, MapError(err)
	}

	start := time.Now()
	results, err := s.searcher.Query(ctx, search.Request{
		Text:    in.Query,
		K:       in.K,
		Filters: store.Filters(in.Filters),
		Mode:    mode,
	})
	if err != nil {
		s.logger.Warn("mcp_query_failed", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	latency := time.Since(start)
	if s.metrics != nil {
		s.metrics.Record(telemetry.QueryEvent{
			Query:       in.Query,
			Type:        telemetry.QueryType(mode),
			ResultCount: len(results),
			Latency:     latency,
			Timestamp:   start,
		})
	}
	s.logger.Info("mcp_query",
		slog.String("mode", string(mode)),
		slog.Int("k", in.K),
		slog.Int("results", len(results)),
		slog.Duration("latency", latency))
	return results, nil
}

func toQueryOutput(results []search.Result) QueryOutput {
	out := QueryOutput{Results: make([]ResultOutput, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, ToResultOutput(r))
	}
	return out
}

var documentFiles = map[string]string{
	DocManifest:  output.ManifestFile,
	DocSummaries: output.SummariesFile,
	DocScanLog:   output.ScanLogFile,
	DocChangeSet: output.ChangeSetFile,
	DocInventory: output.InventoryFile,
}

// document reads one scan document as raw JSON.
func (s *Server) document(name string) (json.RawMessage, error) {
	if name == "" {
		name = DocManifest
	}
	file, ok := documentFiles[name]
	if !ok {
		return nil, NewInvalidParamsError(fmt.Sprintf("unknown document %q", name))
	}
	var raw json.RawMessage
	if err := s.readOutput(file, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *Server) readOutput(file string, v any) error {
	if err := output.ReadJSON(s.outputDir, file, v); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &MCPError{
				Code:    ErrCodeIndexNotFound,
				Message: fmt.Sprintf("%s not found in %s. Run 'forge scan' first.", file, s.outputDir),
			}
		}
		return MapError(err)
	}
	return nil
}

// fileSummary looks up one file in the hierarchical summaries.
func (s *Server) fileSummary(p string) (*FileSummaryOutput, error) {
	p = strings.TrimPrefix(path.Clean(filepath.ToSlash(strings.TrimSpace(p))), "./")
	if p == "" || p == "." {
		return nil, NewInvalidParamsError("path parameter is required")
	}
	var sums manifest.Summaries
	if err := s.readOutput(output.SummariesFile, &sums); err != nil {
		return nil, err
	}
	for i := range sums.Files {
		if sums.Files[i].FilePath != p {
			continue
		}
		out := &FileSummaryOutput{File: sums.Files[i]}
		dir := path.Dir(p)
		for j := range sums.Folders {
			if sums.Folders[j].FolderPath == dir {
				folder := sums.Folders[j]
				out.Folder = &folder
				break
			}
		}
		return out, nil
	}
	return nil, &MCPError{
		Code:    ErrCodeIndexNotFound,
		Message: fmt.Sprintf("no summary for %s. The file may be excluded or not scanned yet.", p),
	}
}

// status builds the index_status output.
func (s *Server) status() *IndexStatusOutput {
	vs := s.config.VectorStore
	info := parse.DetectProject(s.rootDir)
	out := &IndexStatusOutput{
		Project: ProjectInfo{Root: s.rootDir, Framework: info.Framework, BuildTool: info.BuildTool},
		Index: IndexInfo{
			Backend:      vs.Backend,
			Collection:   vs.Collection,
			PersistDir:   s.searcher.PersistDir(),
			KeywordIndex: vs.KeywordIndex,
		},
		Embedding: EmbeddingInfo{Provider: s.config.Embedding.Provider},
	}
	if s.provider != nil {
		out.Embedding.Model = s.provider.ModelName()
		out.Embedding.Dimensions = s.provider.Dimensions()
		out.Embedding.Static = s.provider.ModelName() == embed.StaticModel
	}

	var log index.RunLog
	if err := output.ReadJSON(s.outputDir, output.ScanLogFile, &log); err == nil {
		out.LastRun = &RunInfo{
			Timestamp:  log.Timestamp.Format(time.RFC3339),
			Status:     log.Status,
			Mode:       log.Mode,
			Files:      log.TotalFiles,
			Chunks:     log.TotalChunks,
			Embeddings: log.TotalEmbeddings,
			Errors:     len(log.Errors),
			Duration:   log.Duration,
		}
	}
	if s.progress != nil {
		snap := s.progress.Snapshot()
		out.Scan = &snap
	}
	if s.metrics != nil {
		out.Queries = toQueryStats(s.metrics.Snapshot())
	}
	return out
}

func (s *Server) mcpQueryHandler(ctx context.Context, _ *mcp.CallToolRequest, in QueryInput) (
	*mcp.CallToolResult,
	QueryOutput,
	error,
) {
	results, err := s.query(ctx, in)
	if err != nil {
		return nil, QueryOutput{}, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatResults(in.Query, results)}},
	}, toQueryOutput(results), nil
}

func (s *Server) mcpManifestHandler(_ context.Context, _ *mcp.CallToolRequest, in ManifestInput) (
	*mcp.CallToolResult,
	any,
	error,
) {
	raw, err := s.document(in.Document)
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
	}, nil, nil
}

func (s *Server) mcpIndexStatusHandler(_ context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	return nil, s.status(), nil
}

func (s *Server) mcpFileSummaryHandler(_ context.Context, _ *mcp.CallToolRequest, in FileSummaryInput) (
	*mcp.CallToolResult,
	*FileSummaryOutput,
	error,
) {
	out, err := s.fileSummary(in.Path)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

// Serve runs the server on the given transport until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting",
		slog.String("transport", transport),
		slog.String("root", s.rootDir))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// documentPath returns the absolute path of a scan document.
func (s *Server) documentPath(file string) string {
	return filepath.Join(s.outputDir, file)
}

// topTermsReported bounds the terms index_status lists.
const topTermsReported = 10

func toQueryStats(snap *telemetry.Snapshot) *QueryStats {
	stats := &QueryStats{
		Total:           snap.TotalQueries,
		ZeroResults:     snap.ZeroResultCount,
		ExactRepeatRate: snap.ExactRepeatRate,
		Latency:         make(map[string]int64, len(snap.LatencyDistribution)),
		RecentMisses:    snap.ZeroResultQueries,
	}
	for b, n := range snap.LatencyDistribution {
		stats.Latency[string(b)] = n
	}
	for i, tc := range snap.TopTerms {
		if i == topTermsReported {
			break
		}
		stats.TopTerms = append(stats.TopTerms, TermStat{Term: tc.Term, Count: tc.Count})
	}
	return stats
}
