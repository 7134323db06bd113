package parse

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// declPattern is one tree-sitter query pattern capturing a declaration
// as @chunk and its identifier as @name.
type declPattern struct {
	query string
	kind  string
}

// Grammar binds a tree-sitter language to the queries used against it.
type Grammar struct {
	// Name identifies the grammar ("tsx" and "typescript" differ).
	Name string
	// Language is the label reported in Result.Language.
	Language   string
	Extensions []string
	language   *sitter.Language
	decls      []declPattern
	// imports captures module references as @source. Patterns that
	// also capture @fn only count when @fn is "require".
	imports string
}

// Registry maps file extensions to grammars and language labels.
type Registry struct {
	mu       sync.RWMutex
	grammars map[string]*Grammar // extension -> grammar
	labels   map[string]string   // extension -> language label
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the shared registry with every built-in grammar.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a registry with the built-in grammars and labels.
func NewRegistry() *Registry {
	r := &Registry{
		grammars: make(map[string]*Grammar),
		labels: map[string]string{
			".vue":    "vue",
			".svelte": "svelte",
			".html":   "html",
			".htm":    "html",
			".css":    "css",
			".scss":   "scss",
			".json":   "json",
			".yaml":   "yaml",
			".yml":    "yaml",
			".md":     "markdown",
		},
	}

	jsDecls := []declPattern{
		{`(function_declaration name: (identifier) @name) @chunk`, "function"},
		{`(generator_function_declaration name: (identifier) @name) @chunk`, "function"},
		{`(class_declaration name: (identifier) @name) @chunk`, "class"},
		{`(method_definition name: (property_identifier) @name) @chunk`, "method"},
		{`(lexical_declaration (variable_declarator name: (identifier) @name value: (arrow_function))) @chunk`, "arrow_function"},
	}
	tsDecls := []declPattern{
		{`(function_declaration name: (identifier) @name) @chunk`, "function"},
		{`(generator_function_declaration name: (identifier) @name) @chunk`, "function"},
		{`(class_declaration name: (type_identifier) @name) @chunk`, "class"},
		{`(abstract_class_declaration name: (type_identifier) @name) @chunk`, "class"},
		{`(method_definition name: (property_identifier) @name) @chunk`, "method"},
		{`(lexical_declaration (variable_declarator name: (identifier) @name value: (arrow_function))) @chunk`, "arrow_function"},
		{`(interface_declaration name: (type_identifier) @name) @chunk`, "interface"},
		{`(type_alias_declaration name: (type_identifier) @name) @chunk`, "type"},
	}
	jsImports := `
		(import_statement source: (string) @source)
		(call_expression function: (identifier) @fn arguments: (arguments (string) @source))
	`

	r.Register(&Grammar{
		Name:       "javascript",
		Language:   "javascript",
		Extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
		language:   javascript.GetLanguage(),
		decls:      jsDecls,
		imports:    jsImports,
	})
	r.Register(&Grammar{
		Name:       "typescript",
		Language:   "typescript",
		Extensions: []string{".ts", ".mts", ".cts"},
		language:   typescript.GetLanguage(),
		decls:      tsDecls,
		imports:    jsImports,
	})
	r.Register(&Grammar{
		Name:       "tsx",
		Language:   "typescript",
		Extensions: []string{".tsx"},
		language:   tsx.GetLanguage(),
		decls:      tsDecls,
		imports:    jsImports,
	})
	r.Register(&Grammar{
		Name:       "python",
		Language:   "python",
		Extensions: []string{".py", ".pyi"},
		language:   python.GetLanguage(),
		decls: []declPattern{
			{`(function_definition name: (identifier) @name) @chunk`, "function"},
			{`(class_definition name: (identifier) @name) @chunk`, "class"},
			{`(decorated_definition definition: (function_definition name: (identifier) @name)) @chunk`, "function"},
			{`(decorated_definition definition: (class_definition name: (identifier) @name)) @chunk`, "class"},
		},
		imports: `
			(import_statement name: (dotted_name) @source)
			(import_from_statement module_name: (_) @source)
		`,
	})
	r.Register(&Grammar{
		Name:       "go",
		Language:   "go",
		Extensions: []string{".go"},
		language:   golang.GetLanguage(),
		decls: []declPattern{
			{`(function_declaration name: (identifier) @name) @chunk`, "function"},
			{`(method_declaration name: (field_identifier) @name) @chunk`, "method"},
			{`(type_declaration (type_spec name: (type_identifier) @name)) @chunk`, "type"},
		},
		imports: `(import_spec path: (interpreted_string_literal) @source)`,
	})

	return r
}

// Register adds g under each of its extensions.
func (r *Registry) Register(g *Grammar) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range g.Extensions {
		ext = strings.ToLower(ext)
		r.grammars[ext] = g
		r.labels[ext] = g.Language
	}
}

// Lookup returns the grammar for path's extension.
func (r *Registry) Lookup(path string) (*Grammar, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.grammars[strings.ToLower(filepath.Ext(path))]
	return g, ok
}

// DetectLanguage returns the language label for path, or "unknown".
func (r *Registry) DetectLanguage(path string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if l, ok := r.labels[strings.ToLower(filepath.Ext(path))]; ok {
		return l
	}
	return "unknown"
}

// Extensions returns every extension with a grammar.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.grammars))
	for ext := range r.grammars {
		out = append(out, ext)
	}
	return out
}

func (g *Grammar) declQuery() string {
	parts := make([]string, len(g.decls))
	for i, d := range g.decls {
		parts[i] = d.query
	}
	return strings.Join(parts, "\n")
}
