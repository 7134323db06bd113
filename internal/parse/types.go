// Package parse extracts structural facts from source files: declared
// components, imports, exports, outbound HTTP calls, environment
// variables and routes.
//
// Files with a registered tree-sitter grammar are parsed structurally.
// Files without one, or whose parse tree has syntax errors, go through
// ordered regular-expression passes instead. Both paths fill the same
// Result; Result.Mode records which one ran.
package parse

// Mode tags which extraction path produced a Result.
type Mode string

const (
	ModeStructural Mode = "structural"
	ModeHeuristic  Mode = "heuristic"
)

// Component is a declared function, class or similar unit. Lines are
// 1-based and inclusive.
type Component struct {
	Name      string   `json:"name"`
	Kind      string   `json:"type"`
	Props     []string `json:"props"`
	Hooks     []string `json:"hooks"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
}

// Import is one import edge.
type Import struct {
	Module string `json:"source"`
	Line   int    `json:"line"`
}

// CallSite is an outbound HTTP call with a literal URL or path.
// Method is inferred from the call shape and defaults to GET when the
// call does not say; treat it as a hint, not a fact.
type CallSite struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	Call   string `json:"call"`
	Line   int    `json:"line"`
}

// Result holds everything extracted from one file.
type Result struct {
	Path       string      `json:"file_path"`
	Language   string      `json:"language"`
	Framework  string      `json:"framework,omitempty"`
	Mode       Mode        `json:"mode"`
	Components []Component `json:"components"`
	Imports    []Import    `json:"imports"`
	Exports    []string    `json:"exports"`
	Calls      []CallSite  `json:"api_calls"`
	EnvVars    []string    `json:"env_vars"`
	Routes     []string    `json:"routes"`
	Summary    string      `json:"ast_summary"`
	Errors     []string    `json:"parse_errors"`
}

// Limits caps each extracted list. Zero disables that extraction.
type Limits struct {
	Components int
	Imports    int
	Exports    int
	Calls      int
	EnvVars    int
	Hooks      int
	Routes     int
}

// DefaultLimits returns the standard caps.
func DefaultLimits() Limits {
	return Limits{
		Components: 20,
		Imports:    50,
		Exports:    20,
		Calls:      20,
		EnvVars:    20,
		Hooks:      10,
		Routes:     50,
	}
}

func newResult(path, language, framework string) *Result {
	return &Result{
		Path:       path,
		Language:   language,
		Framework:  framework,
		Mode:       ModeHeuristic,
		Components: []Component{},
		Imports:    []Import{},
		Exports:    []string{},
		Calls:      []CallSite{},
		EnvVars:    []string{},
		Routes:     []string{},
		Errors:     []string{},
	}
}
