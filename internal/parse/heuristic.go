package parse

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Declaration patterns. Each pattern's first group is the name and the
// match either ends on the body's opening brace or just before the body.
var (
	reFuncDecl  = regexp.MustCompile(`\bfunction\s*\*?\s*(\w+)\s*\([^)]*\)\s*(?::\s*[^{]+)?\{`)
	reArrowDecl = regexp.MustCompile(`\b(?:const|let|var)\s+(\w+)\s*(?::\s*[^=]+)?=\s*(?:async\s*)?(?:\([^)]*\)|\w+)\s*(?::\s*[^=]+)?=>`)
	reClassDecl = regexp.MustCompile(`\bclass\s+(\w+)(?:\s+extends\s+[\w.]+(?:<[^>]*>)?)?(?:\s+implements\s+[\w.,\s]+)?\s*\{`)
	rePyDecl    = regexp.MustCompile(`(?m)^([ \t]*)(?:async\s+)?(def|class)\s+(\w+)`)
	reGoDecl    = regexp.MustCompile(`(?m)^func\s+(?:\([^)]*\)\s*)?(\w+)\s*(?:\[[^\]]*\])?\([^)]*\)[^{\n]*\{`)
)

// Import patterns per language family, all capturing the module in group 1.
var (
	jsImportPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bimport\s+[^;'"]*?\s+from\s+["']([^"']+)["']`),
		regexp.MustCompile(`(?m)^[ \t]*import\s+["']([^"']+)["']`),
		regexp.MustCompile(`\brequire\s*\(\s*["']([^"']+)["']\s*\)`),
		regexp.MustCompile(`\bimport\s*\(\s*["']([^"']+)["']\s*\)`),
	}
	pyImportPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^[ \t]*from\s+([\w.]+)\s+import\b`),
		regexp.MustCompile(`(?m)^[ \t]*import\s+([\w.]+)\s*(?:as\s+\w+\s*)?$`),
	}
	goImportPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^[ \t]*import\s+(?:\w+[ \t]+)?"([^"]+)"`),
		regexp.MustCompile(`(?m)^[ \t]*(?:\w+[ \t]+)?"([\w./-]+)"\s*$`),
	}
)

var exportPatterns = []*regexp.Regexp{
	regexp.MustCompile(`export\s+default\s+\w+`),
	regexp.MustCompile(`export\s+\{[^}]+\}`),
	regexp.MustCompile(`export\s+const\s+\w+`),
	regexp.MustCompile(`export\s+function\s+\w+`),
}

var (
	reFetch      = regexp.MustCompile(`\bfetch\s*\(\s*["'` + "`" + `]([^"'` + "`" + `]+)["'` + "`" + `]`)
	reAxios      = regexp.MustCompile(`\baxios(?:\.(get|post|put|patch|delete|head|options|request))?\s*\(\s*["'` + "`" + `]([^"'` + "`" + `]+)["'` + "`" + `]`)
	reClientVerb = regexp.MustCompile(`\b(\w+)\.(get|post|put|patch|delete)\s*\(\s*["'` + "`" + `]([^"'` + "`" + `]+)["'` + "`" + `]`)
	reMethodOpt  = regexp.MustCompile(`\bmethod\s*:\s*["'](\w+)["']`)
)

var envPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bprocess\.env\.(\w+)`),
	regexp.MustCompile(`\bprocess\.env\[\s*["'](\w+)["']\s*\]`),
	regexp.MustCompile(`\bimport\.meta\.env\.(\w+)`),
	regexp.MustCompile(`\bos\.(?:Getenv|LookupEnv)\(\s*"(\w+)"\s*\)`),
	regexp.MustCompile(`\bos\.environ(?:\.get)?\s*[\[(]\s*["'](\w+)["']`),
	regexp.MustCompile(`\bos\.getenv\(\s*["'](\w+)["']`),
}

var reHook = regexp.MustCompile(`\b(use[A-Z]\w*)\s*\(`)

const (
	maxExportText = 100
	maxCallText   = 200
	// methodLookahead bounds how far past fetch( an options object is
	// searched for a method key.
	methodLookahead = 300
)

// lineIndex maps byte offsets to 1-based line numbers.
type lineIndex []int

func newLineIndex(content string) lineIndex {
	idx := lineIndex{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			idx = append(idx, i+1)
		}
	}
	return idx
}

func (li lineIndex) line(offset int) int {
	return sort.Search(len(li), func(i int) bool { return li[i] > offset })
}

func (li lineIndex) lines() int { return len(li) }

// heuristicComponents finds declarations with regular expressions. Brace
// languages get an end line from bracket matching; Python from indentation.
func heuristicComponents(content string, li lineIndex, language string, limit int) []span {
	if limit <= 0 {
		return nil
	}
	var spans []span

	addBraced := func(re *regexp.Regexp, kind string) {
		for _, m := range re.FindAllStringSubmatchIndex(content, -1) {
			start, end := li.line(m[0]), li.line(m[0])
			endByte := m[1]
			if close := bodyEnd(content, m[1]); close >= 0 {
				end = li.line(close)
				endByte = close + 1
			}
			spans = append(spans, span{
				name: content[m[2]:m[3]], kind: kind,
				startLine: start, endLine: end,
				startByte: uint32(m[0]), endByte: uint32(endByte),
			})
		}
	}

	switch language {
	case "go":
		addBraced(reGoDecl, "function")
	case "python":
		spans = append(spans, pythonDecls(content, li)...)
	default:
		addBraced(reFuncDecl, "function")
		addBraced(reArrowDecl, "arrow_function")
		addBraced(reClassDecl, "class")
	}

	spans = dedupSpans(spans)
	if len(spans) > limit {
		spans = spans[:limit]
	}
	return spans
}

func pythonDecls(content string, li lineIndex) []span {
	var spans []span
	for _, m := range rePyDecl.FindAllStringSubmatchIndex(content, -1) {
		indent := m[3] - m[2]
		kind := "function"
		if content[m[4]:m[5]] == "class" {
			kind = "class"
		}
		start := li.line(m[0] + indent)
		endOff := indentBlockEnd(content, m[1], indent)
		endByte := len(content)
		if nl := strings.IndexByte(content[endOff:], '\n'); nl >= 0 {
			endByte = endOff + nl
		}
		spans = append(spans, span{
			name: content[m[6]:m[7]], kind: kind,
			startLine: start, endLine: li.line(endOff),
			startByte: uint32(m[0] + indent), endByte: uint32(endByte),
		})
	}
	return spans
}

// dedupSpans removes repeat declarations and spans nested in another,
// then orders by start line.
func dedupSpans(spans []span) []span {
	seen := make(map[string]bool, len(spans))
	uniq := spans[:0:0]
	for _, s := range spans {
		key := s.name + "\x00" + strconv.Itoa(s.startLine)
		if seen[key] {
			continue
		}
		seen[key] = true
		uniq = append(uniq, s)
	}
	return outermost(uniq)
}

// bodyEnd returns the offset of the bracket closing the body that starts
// at or right after from, or -1. A match ending on "{" has its opener at
// from-1. Arrow bodies may open with "(" or "{"; an expression body ends
// at the end of its line.
func bodyEnd(content string, from int) int {
	open := -1
	if from > 0 && content[from-1] == '{' {
		open = from - 1
	} else {
		i := from
		for i < len(content) && (content[i] == ' ' || content[i] == '\t' || content[i] == '\n' || content[i] == '\r') {
			i++
		}
		if i < len(content) && (content[i] == '{' || content[i] == '(') {
			open = i
		} else {
			if nl := strings.IndexByte(content[from:], '\n'); nl >= 0 {
				return from + nl - 1
			}
			return len(content) - 1
		}
	}
	return matchBracket(content, open)
}

// matchBracket returns the offset of the bracket closing content[open],
// skipping string literals and comments. Unbalanced input returns -1.
func matchBracket(content string, open int) int {
	if open < 0 || open >= len(content) {
		return -1
	}
	opener := content[open]
	var closer byte
	switch opener {
	case '{':
		closer = '}'
	case '(':
		closer = ')'
	case '[':
		closer = ']'
	default:
		return -1
	}

	depth := 0
	for i := open; i < len(content); i++ {
		c := content[i]
		switch {
		case c == '"' || c == '\'' || c == '`':
			i = skipString(content, i)
		case c == '/' && i+1 < len(content) && content[i+1] == '/':
			nl := strings.IndexByte(content[i:], '\n')
			if nl < 0 {
				return -1
			}
			i += nl
		case c == '/' && i+1 < len(content) && content[i+1] == '*':
			endc := strings.Index(content[i+2:], "*/")
			if endc < 0 {
				return -1
			}
			i += endc + 3
		case c == opener:
			depth++
		case c == closer:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// skipString returns the offset of the quote closing the literal that
// opens at i. Single and double quoted strings stop at a newline.
func skipString(content string, i int) int {
	q := content[i]
	for j := i + 1; j < len(content); j++ {
		switch content[j] {
		case '\\':
			j++
		case q:
			return j
		case '\n':
			if q != '`' {
				return j
			}
		}
	}
	return len(content) - 1
}

// indentBlockEnd returns the offset of the last non-blank line indented
// deeper than indent, starting after the header at from.
func indentBlockEnd(content string, from, indent int) int {
	last := from
	pos := strings.IndexByte(content[from:], '\n')
	if pos < 0 {
		return len(content)
	}
	pos += from + 1
	for pos < len(content) {
		nl := strings.IndexByte(content[pos:], '\n')
		lineEnd := len(content)
		if nl >= 0 {
			lineEnd = pos + nl
		}
		line := content[pos:lineEnd]
		if strings.TrimSpace(line) != "" {
			if leadingWidth(line) <= indent {
				break
			}
			last = pos
		}
		if nl < 0 {
			break
		}
		pos = lineEnd + 1
	}
	return last
}

func leadingWidth(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}

// extractProps returns the destructured names of the first parameter of
// the declaration header at content[start:], e.g. ({a, b = 1, c: d, ...rest}).
func extractProps(content string, start int) []string {
	header := content[start:]
	paren := strings.IndexByte(header, '(')
	if paren < 0 {
		return []string{}
	}
	// The parameter list must open before the body or the end of the
	// header line.
	if stop := strings.IndexAny(header, "{\n"); stop >= 0 && stop < paren {
		return []string{}
	}
	i := paren + 1
	for i < len(header) && (header[i] == ' ' || header[i] == '\t' || header[i] == '\n') {
		i++
	}
	if i >= len(header) || header[i] != '{' {
		return []string{}
	}
	end := matchBracket(header, i)
	if end < 0 {
		return []string{}
	}

	props := []string{}
	depth := 0
	field := strings.Builder{}
	flush := func() {
		p := strings.TrimSpace(field.String())
		field.Reset()
		p = strings.TrimPrefix(p, "...")
		if k, _, ok := strings.Cut(p, "="); ok {
			p = k
		}
		if k, _, ok := strings.Cut(p, ":"); ok {
			p = k
		}
		p = strings.TrimSpace(p)
		if p != "" {
			props = append(props, p)
		}
	}
	for _, c := range header[i+1 : end] {
		switch c {
		case '{', '[', '(':
			depth++
		case '}', ']', ')':
			depth--
		case ',':
			if depth == 0 {
				flush()
				continue
			}
		}
		field.WriteRune(c)
	}
	flush()
	return props
}

// extractHooks returns distinct use* calls in text, first seen first.
func extractHooks(text string, limit int) []string {
	hooks := []string{}
	if limit <= 0 {
		return hooks
	}
	seen := map[string]bool{}
	for _, m := range reHook.FindAllStringSubmatch(text, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		hooks = append(hooks, m[1])
		if len(hooks) >= limit {
			break
		}
	}
	return hooks
}

type posImport struct {
	Import
	offset int
}

func heuristicImports(content string, li lineIndex, language string, limit int) []Import {
	if limit <= 0 {
		return []Import{}
	}
	patterns := jsImportPatterns
	switch language {
	case "python":
		patterns = pyImportPatterns
	case "go":
		patterns = goImportPatterns
	}

	var found []posImport
	seen := map[int]bool{}
	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatchIndex(content, -1) {
			if seen[m[2]] {
				continue
			}
			seen[m[2]] = true
			found = append(found, posImport{
				Import: Import{Module: content[m[2]:m[3]], Line: li.line(m[0])},
				offset: m[2],
			})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].offset < found[j].offset })

	out := make([]Import, 0, min(len(found), limit))
	for _, f := range found {
		if len(out) >= limit {
			break
		}
		out = append(out, f.Import)
	}
	return out
}

func heuristicExports(content string, limit int) []string {
	out := []string{}
	for _, re := range exportPatterns {
		for _, m := range re.FindAllString(content, -1) {
			if len(out) >= limit {
				return out
			}
			out = append(out, truncate(m, maxExportText))
		}
	}
	return out
}

type posCall struct {
	CallSite
	offset int
}

// heuristicCalls finds outbound HTTP calls. fetch takes its method from
// a nearby method: option, axios from the verb, other clients from the
// verb when the first argument looks like a path or URL. Everything else
// defaults to GET.
func heuristicCalls(content string, li lineIndex, limit int) []CallSite {
	if limit <= 0 {
		return []CallSite{}
	}
	var found []posCall
	taken := map[int]bool{}
	add := func(start, end int, method, url string) {
		if taken[start] {
			return
		}
		taken[start] = true
		found = append(found, posCall{
			CallSite: CallSite{
				Method: strings.ToUpper(method),
				URL:    url,
				Call:   truncate(content[start:end], maxCallText),
				Line:   li.line(start),
			},
			offset: start,
		})
	}

	for _, m := range reFetch.FindAllStringSubmatchIndex(content, -1) {
		method := "GET"
		tail := content[m[1]:min(len(content), m[1]+methodLookahead)]
		if close := strings.IndexByte(tail, ')'); close >= 0 {
			tail = tail[:close]
		}
		if mm := reMethodOpt.FindStringSubmatch(tail); mm != nil {
			method = mm[1]
		}
		add(m[0], m[1], method, content[m[2]:m[3]])
	}
	for _, m := range reAxios.FindAllStringSubmatchIndex(content, -1) {
		method := "GET"
		if m[2] >= 0 {
			if verb := content[m[2]:m[3]]; verb != "request" {
				method = verb
			}
		}
		add(m[0], m[1], method, content[m[4]:m[5]])
	}
	for _, m := range reClientVerb.FindAllStringSubmatchIndex(content, -1) {
		if content[m[2]:m[3]] == "axios" {
			continue
		}
		url := content[m[6]:m[7]]
		if !strings.HasPrefix(url, "/") && !strings.HasPrefix(url, "http") {
			continue
		}
		add(m[0], m[1], content[m[4]:m[5]], url)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].offset < found[j].offset })
	out := make([]CallSite, 0, min(len(found), limit))
	dup := map[string]bool{}
	for _, f := range found {
		key := f.Method + " " + f.URL + " " + strconv.Itoa(f.Line)
		if dup[key] {
			continue
		}
		dup[key] = true
		out = append(out, f.CallSite)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func heuristicEnvVars(content string, limit int) []string {
	type hit struct {
		name   string
		offset int
	}
	var hits []hit
	for _, re := range envPatterns {
		for _, m := range re.FindAllStringSubmatchIndex(content, -1) {
			hits = append(hits, hit{content[m[2]:m[3]], m[0]})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].offset < hits[j].offset })

	out := []string{}
	seen := map[string]bool{}
	for _, h := range hits {
		if len(out) >= limit {
			break
		}
		if seen[h.name] {
			continue
		}
		seen[h.name] = true
		out = append(out, h.name)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
