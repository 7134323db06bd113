package store

import (
	"regexp"
	"strings"
	"unicode"
)

// codeStopWords are dropped by the keyword analyzer. They occur in nearly
// every chunk and carry no ranking signal.
var codeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while", "import", "export", "from",
	"default", "true", "false", "null", "undefined", "this", "self",
}

var identRegex = regexp.MustCompile(`[A-Za-z0-9_]+`)

// codeToken is one analyzed token with its byte span in the source text.
type codeToken struct {
	term       string
	start, end int
}

// tokenizeCode splits text into lowercase identifier parts with byte
// offsets. snake_case and camelCase identifiers yield one token per part;
// parts shorter than two bytes are dropped.
func tokenizeCode(text string) []codeToken {
	var out []codeToken
	for _, loc := range identRegex.FindAllStringIndex(text, -1) {
		word := text[loc[0]:loc[1]]
		offset := loc[0]
		for _, part := range strings.Split(word, "_") {
			partStart := offset
			offset += len(part) + 1
			pos := 0
			for _, sub := range SplitCamelCase(part) {
				if len(sub) >= 2 {
					s := partStart + pos
					out = append(out, codeToken{term: strings.ToLower(sub), start: s, end: s + len(sub)})
				}
				pos += len(sub)
			}
		}
	}
	return out
}

// TokenizeCode returns the analyzed terms of text.
func TokenizeCode(text string) []string {
	toks := tokenizeCode(text)
	terms := make([]string, len(toks))
	for i, t := range toks {
		terms[i] = t.term
	}
	return terms
}

// SplitCamelCase splits camelCase and PascalCase identifiers, keeping
// acronyms together:
//
//	"parseHTTPRequest" -> ["parse", "HTTP", "Request"]
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}
	var (
		out     []string
		current strings.Builder
	)
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevLower || nextLower) && current.Len() > 0 {
				out = append(out, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}

func stopWordSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}
