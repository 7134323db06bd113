package parse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// Options configures a Parser.
type Options struct {
	Limits Limits
	// Structural enables tree-sitter parsing for registered grammars.
	// With it off every file goes through the heuristic passes.
	Structural bool
	// Registry defaults to DefaultRegistry().
	Registry *Registry
}

// DefaultOptions returns structural parsing with the default limits.
func DefaultOptions() Options {
	return Options{Limits: DefaultLimits(), Structural: true}
}

// Parser turns file content into a Result. It holds no per-file state
// and is safe for concurrent use.
type Parser struct {
	registry   *Registry
	limits     Limits
	structural bool
}

// NewParser creates a Parser.
func NewParser(opts Options) *Parser {
	reg := opts.Registry
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Parser{
		registry:   reg,
		limits:     opts.Limits,
		structural: opts.Structural,
	}
}

// Registry returns the grammar registry in use.
func (p *Parser) Registry() *Registry { return p.registry }

// Parse extracts facts from content. path is the project-relative path
// and drives language, framework and route detection. Parse never fails:
// problems are recorded in Result.Errors and the heuristic passes take
// over from the structural parser when it cannot be used.
func (p *Parser) Parse(ctx context.Context, path string, content []byte) *Result {
	lang := p.registry.DetectLanguage(path)
	res := newResult(path, lang, "")
	text := string(content)
	li := newLineIndex(text)

	var spans []span
	var imports []Import
	structuralOK := false

	if p.structural {
		if g, ok := p.registry.Lookup(path); ok {
			s, imps, err := structural(ctx, g, content)
			switch {
			case err == nil:
				spans, imports, structuralOK = s, imps, true
			case errors.Is(err, errSyntax):
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", g.Name, err))
			default:
				res.Errors = append(res.Errors, err.Error())
			}
			if !structuralOK {
				slog.Debug("parse_fallback",
					slog.String("path", path),
					slog.String("grammar", g.Name),
					slog.String("reason", res.Errors[len(res.Errors)-1]))
			}
		}
	}

	if structuralOK {
		res.Mode = ModeStructural
		if len(spans) > p.limits.Components {
			spans = spans[:max(p.limits.Components, 0)]
		}
		if len(imports) > p.limits.Imports {
			imports = imports[:max(p.limits.Imports, 0)]
		}
	} else {
		spans = heuristicComponents(text, li, lang, p.limits.Components)
		imports = heuristicImports(text, li, lang, p.limits.Imports)
	}
	if imports == nil {
		imports = []Import{}
	}
	res.Imports = imports

	res.Framework = DetectFramework(path, text, imports)

	nlines := li.lines()
	for _, s := range spans {
		end := min(s.endLine, nlines)
		start := min(s.startLine, end)
		res.Components = append(res.Components, Component{
			Name:      s.name,
			Kind:      s.kind,
			Props:     extractProps(text, int(s.startByte)),
			Hooks:     extractHooks(text[s.startByte:min(int(s.endByte), len(text))], p.limits.Hooks),
			StartLine: start,
			EndLine:   end,
		})
	}

	res.Exports = heuristicExports(text, p.limits.Exports)
	res.Calls = heuristicCalls(text, li, p.limits.Calls)
	res.EnvVars = heuristicEnvVars(text, p.limits.EnvVars)
	res.Routes = extractRoutes(path, text, res.Framework, p.limits.Routes)
	res.Summary = Summary(res)
	return res
}

// Summary renders the one-line description of a parsed file.
func Summary(r *Result) string {
	parts := []string{"File: " + filepath.Base(r.Path)}
	if r.Framework != "" {
		parts = append(parts, "Framework: "+r.Framework)
	}
	parts = append(parts,
		fmt.Sprintf("Components: %d", len(r.Components)),
		fmt.Sprintf("Imports: %d", len(r.Imports)),
		fmt.Sprintf("API Calls: %d", len(r.Calls)),
	)
	return strings.Join(parts, " | ")
}
