package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/forge-ai/forge/internal/parse"
)

// maxSummaryLength bounds an LLM summary.
const maxSummaryLength = 200

// Summarizer turns a short description of a file into one sentence.
// Implementations may fail; callers fall back to FallbackSummary.
type Summarizer interface {
	Summarize(ctx context.Context, excerpt string) (string, error)
}

// FileSummary describes one file.
type FileSummary struct {
	FilePath        string   `json:"file_path"`
	Purpose         string   `json:"purpose"`
	KeyExports      []string `json:"key_exports"`
	APIDependencies []string `json:"api_dependencies"`
	Framework       string   `json:"framework,omitempty"`
	// Source is "llm" or "fallback".
	Source string `json:"source"`
}

// FolderSummary describes one directory.
type FolderSummary struct {
	FolderPath string   `json:"folder_path"`
	Purpose    string   `json:"purpose"`
	FileCount  int      `json:"file_count"`
	KeyFiles   []string `json:"key_files"`
}

// ProjectSummary describes the project as a whole.
type ProjectSummary struct {
	ProjectRoot               string   `json:"project_root"`
	Framework                 string   `json:"framework,omitempty"`
	Architecture              string   `json:"architecture"`
	KeyComponents             []string `json:"key_components"`
	APIEndpointsUsed          []string `json:"api_endpoints_used"`
	SuggestedBackendEndpoints []string `json:"suggested_backend_endpoints"`
}

// Summaries is the document written to hierarchical_summaries.json.
type Summaries struct {
	Files   []FileSummary   `json:"file_summaries"`
	Folders []FolderSummary `json:"folder_summaries"`
	Project ProjectSummary  `json:"project_summary"`
}

// SummaryOptions configures Summarize.
type SummaryOptions struct {
	ProjectRoot string
	// Summarizer is optional. Without it every file gets the fallback.
	Summarizer Summarizer
	// MaxLLMFiles bounds Summarizer calls per run (0 = none).
	MaxLLMFiles int
}

// FallbackSummary is the deterministic description of a file used when no
// summarizer is available or it fails.
func FallbackSummary(r *parse.Result) string {
	var parts []string
	if n := len(r.Components); n > 0 {
		parts = append(parts, fmt.Sprintf("Contains %d component(s)", n))
	}
	if n := len(r.Calls); n > 0 {
		parts = append(parts, fmt.Sprintf("makes %d API call(s)", n))
	}
	if n := len(r.Exports); n > 0 {
		parts = append(parts, fmt.Sprintf("exports %d item(s)", n))
	}
	if r.Framework != "" {
		parts = append(parts, "using "+r.Framework)
	}
	if len(parts) == 0 {
		return "Code file"
	}
	return strings.Join(parts, " | ")
}

// Excerpt renders the structural facts of r as the summarizer prompt body.
// No file content is included.
func Excerpt(r *parse.Result) string {
	names := make([]string, 0, 3)
	for _, c := range firstN(r.Components, 3) {
		names = append(names, c.Name)
	}
	imports := make([]string, 0, 3)
	for _, imp := range firstN(r.Imports, 3) {
		imports = append(imports, imp.Module)
	}
	urls := make([]string, 0, 2)
	for _, c := range firstN(r.Calls, 2) {
		urls = append(urls, c.URL)
	}
	return fmt.Sprintf("File: %s\n\nComponents: %s\nExports: %s\nImports: %s\nAPI Calls: %s",
		path.Base(r.Path),
		orNone(names), orNone(firstN(r.Exports, 3)), orNone(imports), orNone(urls))
}

// Summarize builds file, folder and project summaries. Results are visited
// in path order. Summarizer failures are logged and replaced by the
// fallback; cancellation stops further summarizer calls but still returns
// complete summaries.
func Summarize(ctx context.Context, results []*parse.Result, opts SummaryOptions) *Summaries {
	sorted := sortedResults(results)

	files := make([]FileSummary, 0, len(sorted))
	llmCalls := 0
	for _, r := range sorted {
		fs := FileSummary{
			FilePath:        r.Path,
			Purpose:         FallbackSummary(r),
			KeyExports:      nonNil(append([]string(nil), firstN(r.Exports, 5)...)),
			APIDependencies: []string{},
			Framework:       r.Framework,
			Source:          "fallback",
		}
		for _, c := range firstN(r.Calls, 5) {
			fs.APIDependencies = append(fs.APIDependencies, truncate(c.Call, maxCallLength))
		}

		if opts.Summarizer != nil && llmCalls < opts.MaxLLMFiles && ctx.Err() == nil {
			llmCalls++
			text, err := opts.Summarizer.Summarize(ctx, Excerpt(r))
			text = strings.TrimSpace(text)
			switch {
			case err != nil:
				slog.Debug("summary_fallback",
					slog.String("file", r.Path),
					slog.String("error", err.Error()))
			case text != "":
				fs.Purpose = truncate(text, maxSummaryLength)
				fs.Source = "llm"
			}
		}
		files = append(files, fs)
	}

	folders := folderSummaries(files)
	return &Summaries{
		Files:   files,
		Folders: folders,
		Project: projectSummary(opts.ProjectRoot, files, sorted),
	}
}

func folderSummaries(files []FileSummary) []FolderSummary {
	var order []string
	byFolder := make(map[string][]FileSummary)
	for _, f := range files {
		dir := path.Dir(f.FilePath)
		if _, ok := byFolder[dir]; !ok {
			order = append(order, dir)
		}
		byFolder[dir] = append(byFolder[dir], f)
	}

	out := make([]FolderSummary, 0, len(order))
	for _, dir := range order {
		members := byFolder[dir]
		purpose := fmt.Sprintf("Contains %d file(s)", len(members))
		var fws []string
		for _, m := range members {
			fws = append(fws, m.Framework)
		}
		if fw := MajorityFramework(fws); fw != "" {
			purpose += " | Framework: " + fw
		}
		keys := make([]string, 0, 5)
		for _, m := range firstN(members, 5) {
			keys = append(keys, path.Base(m.FilePath))
		}
		out = append(out, FolderSummary{
			FolderPath: dir,
			Purpose:    purpose,
			FileCount:  len(members),
			KeyFiles:   keys,
		})
	}
	return out
}

func projectSummary(root string, files []FileSummary, results []*parse.Result) ProjectSummary {
	var fws []string
	for _, f := range files {
		fws = append(fws, f.Framework)
	}
	framework := MajorityFramework(fws)

	used := newOrderedSet()
	var urls []string
	for _, r := range results {
		for _, c := range r.Calls {
			urls = append(urls, c.URL)
			if p, ok := EndpointPath(c.URL); ok {
				used.add(p)
			}
		}
	}

	keys := make([]string, 0, 5)
	for _, f := range firstN(files, 5) {
		keys = append(keys, f.FilePath)
	}
	return ProjectSummary{
		ProjectRoot:               root,
		Framework:                 framework,
		Architecture:              Architecture(framework),
		KeyComponents:             keys,
		APIEndpointsUsed:          capStrings(used.items, 10),
		SuggestedBackendEndpoints: SuggestEndpoints(urls, 10),
	}
}

func firstN[T any](xs []T, n int) []T {
	if len(xs) > n {
		return xs[:n]
	}
	return xs
}

func orNone(xs []string) string {
	if len(xs) == 0 {
		return "none"
	}
	return strings.Join(xs, ", ")
}
