package scanner

import (
	"path"
	"sort"
	"strings"
)

// DetectHints returns framework hint tags suggested by a file's path,
// sorted and deduplicated.
func DetectHints(rel string) []string {
	p := "/" + strings.ToLower(rel)
	ext := path.Ext(p)

	set := map[string]struct{}{}
	add := func(tag string) { set[tag] = struct{}{} }

	if strings.Contains(p, "next.config") || strings.Contains(p, "/pages/") || strings.Contains(p, "/app/") {
		add("nextjs")
	}
	switch ext {
	case ".vue":
		add("vue")
	case ".svelte":
		add("svelte")
	}
	if strings.Contains(p, "vite.config") {
		add("vite")
	}
	if strings.Contains(p, "webpack.config") {
		add("webpack")
	}
	if strings.Contains(p, "react") {
		add("react")
	}

	hints := make([]string, 0, len(set))
	for tag := range set {
		hints = append(hints, tag)
	}
	sort.Strings(hints)
	return hints
}
