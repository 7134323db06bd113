package parse

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// errSyntax marks a tree that parsed but contains ERROR or MISSING nodes.
var errSyntax = errors.New("syntax errors in parse tree")

type span struct {
	name      string
	kind      string
	startLine int // 1-based
	endLine   int // 1-based, inclusive
	startByte uint32
	endByte   uint32
}

// structural runs the grammar's declaration and import queries over
// content. A tree with syntax errors returns errSyntax together with
// whatever the queries did find so the caller can decide what to keep.
func structural(ctx context.Context, g *Grammar, content []byte) ([]span, []Import, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(g.language)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, nil, fmt.Errorf("parse: %w", err)
	}
	if tree == nil {
		return nil, nil, fmt.Errorf("parse: nil tree")
	}
	defer tree.Close()
	root := tree.RootNode()

	spans, err := queryDecls(g, root, content)
	if err != nil {
		return nil, nil, err
	}
	imports, err := queryImports(g, root, content)
	if err != nil {
		return nil, nil, err
	}

	if root.HasError() {
		return spans, imports, errSyntax
	}
	return spans, imports, nil
}

func queryDecls(g *Grammar, root *sitter.Node, content []byte) ([]span, error) {
	q, err := sitter.NewQuery([]byte(g.declQuery()), g.language)
	if err != nil {
		return nil, fmt.Errorf("compile %s declaration query: %w", g.Name, err)
	}
	defer q.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, root)

	var spans []span
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		var node *sitter.Node
		var name string
		for _, c := range m.Captures {
			switch q.CaptureNameForId(c.Index) {
			case "chunk":
				node = c.Node
			case "name":
				name = c.Node.Content(content)
			}
		}
		if node == nil || name == "" {
			continue
		}
		kind := node.Type()
		if int(m.PatternIndex) < len(g.decls) {
			kind = g.decls[m.PatternIndex].kind
		}
		spans = append(spans, span{
			name:      name,
			kind:      kind,
			startLine: int(node.StartPoint().Row) + 1,
			endLine:   int(node.EndPoint().Row) + 1,
			startByte: node.StartByte(),
			endByte:   node.EndByte(),
		})
	}
	return outermost(spans), nil
}

// outermost drops spans nested inside another span, so class methods
// and inner helpers fold into their enclosing declaration.
func outermost(spans []span) []span {
	if len(spans) <= 1 {
		return spans
	}
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].startByte != spans[j].startByte {
			return spans[i].startByte < spans[j].startByte
		}
		return spans[i].endByte-spans[i].startByte > spans[j].endByte-spans[j].startByte
	})

	out := spans[:0:0]
	var lastEnd uint32
	for i, s := range spans {
		if i > 0 && s.endByte <= lastEnd {
			continue
		}
		out = append(out, s)
		lastEnd = s.endByte
	}
	return out
}

func queryImports(g *Grammar, root *sitter.Node, content []byte) ([]Import, error) {
	if g.imports == "" {
		return nil, nil
	}
	q, err := sitter.NewQuery([]byte(g.imports), g.language)
	if err != nil {
		return nil, fmt.Errorf("compile %s import query: %w", g.Name, err)
	}
	defer q.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, root)

	var imports []Import
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		var source *sitter.Node
		fn := ""
		for _, c := range m.Captures {
			switch q.CaptureNameForId(c.Index) {
			case "source":
				source = c.Node
			case "fn":
				fn = c.Node.Content(content)
			}
		}
		if source == nil {
			continue
		}
		// The call pattern matches every single-string call.
		if fn != "" && fn != "require" {
			continue
		}
		mod := unquote(source.Content(content))
		if mod == "" {
			continue
		}
		imports = append(imports, Import{Module: mod, Line: int(source.StartPoint().Row) + 1})
	}
	sort.SliceStable(imports, func(i, j int) bool { return imports[i].Line < imports[j].Line })
	return imports, nil
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), "\"'`")
}
