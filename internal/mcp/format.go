package mcp

import (
	"fmt"
	"strings"

	"github.com/forge-ai/forge/internal/chunk"
	"github.com/forge-ai/forge/internal/search"
)

// FormatResults renders query results as markdown for clients that show
// the text content of a tool result.
func FormatResults(query string, results []search.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(results))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range results {
		formatResult(&sb, i+1, r)
	}
	return sb.String()
}

// formatResult writes one result. Stored lines are 0-based and half-open;
// the header shows them 1-based and inclusive.
func formatResult(sb *strings.Builder, num int, r search.Result) {
	fmt.Fprintf(sb, "### %d. %s:%d-%d (score: %.2f)\n", num, r.File, r.StartLine+1, r.EndLine, r.Score)

	if name := r.Metadata[chunk.MetaComponentName]; name != "" {
		kind := r.Metadata[chunk.MetaComponentType]
		if kind == "" {
			kind = "component"
		}
		fmt.Fprintf(sb, "**%s:** `%s`\n", kind, name)
	}
	if len(r.MatchedTerms) > 0 {
		fmt.Fprintf(sb, "**Matched:** %s\n", strings.Join(r.MatchedTerms, ", "))
	}
	sb.WriteString("\n")

	fmt.Fprintf(sb, "```%s\n%s\n```\n\n", fenceLanguage(r), r.Text)
}

func fenceLanguage(r search.Result) string {
	if lang := r.Metadata[chunk.MetaLanguage]; lang != "" {
		return lang
	}
	return "text"
}

// ToResultOutput converts a search result to the tool output shape.
func ToResultOutput(r search.Result) ResultOutput {
	return ResultOutput{
		ID:           r.ID,
		FilePath:     r.File,
		StartLine:    r.StartLine,
		EndLine:      r.EndLine,
		Score:        r.Score,
		Content:      r.Text,
		Language:     r.Metadata[chunk.MetaLanguage],
		Framework:    r.Metadata[chunk.MetaFramework],
		Component:    r.Metadata[chunk.MetaComponentName],
		MatchReason:  matchReason(r),
		MatchedTerms: r.MatchedTerms,
	}
}

func matchReason(r search.Result) string {
	switch {
	case r.InBothLists:
		return "keyword and semantic match"
	case len(r.MatchedTerms) > 0:
		return "keyword match: " + strings.Join(r.MatchedTerms, ", ")
	default:
		return "semantic similarity"
	}
}
