// Package manifest aggregates per-file parse results and index statistics
// into the project manifest and the hierarchical summaries consumed by
// downstream tooling. Build is pure; only the optional Summarizer talks
// to the outside world.
package manifest

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/forge-ai/forge/internal/parse"
)

// Architecture labels keyed by the winning framework.
const (
	ArchNextJS = "Next.js Full-stack"
	ArchReact  = "React Application"
	ArchVue    = "Vue.js Application"
	ArchSPA    = "Frontend SPA"
)

// maxCallLength truncates call URLs kept in the manifest.
const maxCallLength = 100

// Limits caps the manifest lists. Zero means unlimited.
type Limits struct {
	Components int
	APICalls   int
	Suggested  int
	Routes     int
}

// DefaultLimits returns the standard caps.
func DefaultLimits() Limits {
	return Limits{Components: 50, APICalls: 20, Suggested: 10}
}

// ComponentRef locates a component in the project.
type ComponentRef struct {
	Name string `json:"name"`
	File string `json:"file"`
	Line int    `json:"line"`
	Kind string `json:"type"`
}

// IntegrationHints gives downstream generators a quick read of the project.
type IntegrationHints struct {
	DetectedFramework string `json:"detected_framework"`
	BuildTool         string `json:"build_tool,omitempty"`
	TotalComponents   int    `json:"total_components"`
	TotalRoutes       int    `json:"total_routes"`
	Architecture      string `json:"architecture"`
}

// InventoryTotals summarizes the file inventory.
type InventoryTotals struct {
	TotalFiles     int       `json:"total_files"`
	TotalSizeBytes int64     `json:"total_size_bytes"`
	ScanTimestamp  time.Time `json:"scan_timestamp"`
}

// IndexStats describes the vector index after the run.
type IndexStats struct {
	Chunks         int    `json:"chunks"`
	Embeddings     int    `json:"embeddings"`
	SkippedBatches int    `json:"skipped_batches"`
	Entries        int    `json:"entries"`
	Backend        string `json:"backend"`
	Model          string `json:"model"`
	Dimensions     int    `json:"dimensions"`
}

// Manifest is the project-level document written to manifest.json.
type Manifest struct {
	ProjectRoot               string           `json:"project_root"`
	ScanTimestamp             time.Time        `json:"scan_timestamp"`
	Framework                 string           `json:"framework"`
	Routes                    []string         `json:"routes"`
	Pages                     []string         `json:"pages"`
	Components                []ComponentRef   `json:"components"`
	APICalls                  []string         `json:"api_calls"`
	SuggestedBackendEndpoints []string         `json:"suggested_backend_endpoints"`
	IntegrationHints          IntegrationHints `json:"integration_hints"`
	FileInventory             InventoryTotals  `json:"file_inventory"`
	Index                     IndexStats       `json:"index"`
	ErrorCount                int              `json:"error_count"`
}

// Input is everything Build aggregates.
type Input struct {
	ProjectRoot string
	Timestamp   time.Time
	// Results are the parse results of every file in the project, not
	// only the files parsed in this run.
	Results    []*parse.Result
	Project    parse.ProjectInfo
	Inventory  InventoryTotals
	Index      IndexStats
	ErrorCount int
	Limits     Limits
}

// Build aggregates in into a Manifest. Results are visited in path order,
// so the output depends only on the input set, not on its order.
func Build(in Input) *Manifest {
	results := sortedResults(in.Results)

	var (
		routes     = newOrderedSet()
		calls      = newOrderedSet()
		pages      []string
		components []ComponentRef
		frameworks []string
	)
	for _, r := range results {
		for _, route := range r.Routes {
			routes.add(route)
		}
		for _, c := range r.Calls {
			calls.add(truncate(c.URL, maxCallLength))
		}
		for _, c := range r.Components {
			components = append(components, ComponentRef{
				Name: c.Name,
				File: r.Path,
				Line: c.StartLine,
				Kind: c.Kind,
			})
		}
		if _, ok := parse.FileRoute(r.Path); ok {
			pages = append(pages, r.Path)
		}
		frameworks = append(frameworks, r.Framework)
	}

	framework := MajorityFramework(frameworks)
	if framework == "" && in.Project.Framework != parse.FrameworkStatic {
		framework = in.Project.Framework
	}

	return &Manifest{
		ProjectRoot:               in.ProjectRoot,
		ScanTimestamp:             in.Timestamp,
		Framework:                 framework,
		Routes:                    capStrings(routes.items, in.Limits.Routes),
		Pages:                     nonNil(pages),
		Components:                capComponents(components, in.Limits.Components),
		APICalls:                  capStrings(calls.items, in.Limits.APICalls),
		SuggestedBackendEndpoints: SuggestEndpoints(calls.items, in.Limits.Suggested),
		IntegrationHints: IntegrationHints{
			DetectedFramework: framework,
			BuildTool:         in.Project.BuildTool,
			TotalComponents:   len(components),
			TotalRoutes:       len(routes.items),
			Architecture:      Architecture(framework),
		},
		FileInventory: in.Inventory,
		Index:         in.Index,
		ErrorCount:    in.ErrorCount,
	}
}

// MajorityFramework returns the most common non-empty label. Ties go to
// the lexically smallest label; no labels gives "".
func MajorityFramework(labels []string) string {
	counts := make(map[string]int)
	for _, l := range labels {
		if l != "" {
			counts[l]++
		}
	}
	best, bestN := "", 0
	for l, n := range counts {
		if n > bestN || (n == bestN && l < best) {
			best, bestN = l, n
		}
	}
	return best
}

// Architecture maps a framework to its architecture label.
func Architecture(framework string) string {
	switch framework {
	case parse.FrameworkNextJS:
		return ArchNextJS
	case parse.FrameworkReact:
		return ArchReact
	case parse.FrameworkVue:
		return ArchVue
	default:
		return ArchSPA
	}
}

var (
	reURLPath  = regexp.MustCompile(`^https?://[^/]+(/[^\s'"]*)`)
	reTemplate = regexp.MustCompile(`\$\{\s*([A-Za-z_$][\w$.]*)?[^}]*\}`)
)

// EndpointPath extracts the path of a call URL. Absolute URLs keep their
// path, a leading template base such as ${API_URL} is dropped, and inner
// template expressions become :params. The query string is removed.
// It returns false when no path can be recovered.
func EndpointPath(url string) (string, bool) {
	url = strings.TrimSpace(url)
	if m := reURLPath.FindStringSubmatch(url); m != nil {
		url = m[1]
	}
	if strings.HasPrefix(url, "${") {
		end := strings.Index(url, "}")
		if end < 0 {
			return "", false
		}
		url = url[end+1:]
	}
	if !strings.HasPrefix(url, "/") {
		return "", false
	}
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	url = reTemplate.ReplaceAllStringFunc(url, func(expr string) string {
		name := reTemplate.FindStringSubmatch(expr)[1]
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		if name == "" {
			name = "param"
		}
		return ":" + name
	})
	if len(url) > 1 {
		url = strings.TrimRight(url, "/")
	}
	return url, true
}

// NormalizeEndpoint puts path under the /api prefix.
func NormalizeEndpoint(path string) string {
	if path == "/api" || strings.HasPrefix(path, "/api/") {
		return path
	}
	if path == "/" {
		return "/api"
	}
	return "/api" + path
}

// SuggestEndpoints derives deduplicated /api/... endpoints from call URLs
// in first-seen order, capped at limit (0 = unlimited).
func SuggestEndpoints(urls []string, limit int) []string {
	set := newOrderedSet()
	for _, u := range urls {
		if p, ok := EndpointPath(u); ok {
			set.add(NormalizeEndpoint(p))
		}
	}
	return capStrings(set.items, limit)
}

func sortedResults(in []*parse.Result) []*parse.Result {
	out := make([]*parse.Result, 0, len(in))
	for _, r := range in {
		if r != nil {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{}), items: []string{}}
}

func (s *orderedSet) add(v string) {
	if v == "" {
		return
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}

func capStrings(xs []string, limit int) []string {
	if limit > 0 && len(xs) > limit {
		xs = xs[:limit]
	}
	return nonNil(xs)
}

func capComponents(xs []ComponentRef, limit int) []ComponentRef {
	if limit > 0 && len(xs) > limit {
		xs = xs[:limit]
	}
	if xs == nil {
		return []ComponentRef{}
	}
	return xs
}

func nonNil(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
