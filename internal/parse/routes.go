package parse

import (
	"path"
	"regexp"
	"strings"
)

var (
	reJSXRoute   = regexp.MustCompile(`<Route\s+[^>]*?path=["']([^"']+)["']`)
	reRouteTable = regexp.MustCompile(`["']?path["']?\s*:\s*["']([^"']+)["']`)
	reRouterHint = regexp.MustCompile(`\b(?:Route|Router|createBrowserRouter|createRouter|VueRouter)\b`)
	reCatchAll   = regexp.MustCompile(`^\[\[?\.\.\.(\w+)\]?\]$`)
	reDynamic    = regexp.MustCompile(`^\[(\w+)\]$`)
)

// FileRoute maps a file-system-router path to its URL route. It returns
// false for files that are not routes: anything outside pages/ or app/,
// app/ files other than page.*, and underscore-prefixed special pages.
//
//	pages/index.js            -> /
//	pages/blog/[slug].tsx     -> /blog/:slug
//	app/(shop)/cart/page.tsx  -> /cart
//	pages/docs/[...all].js    -> /docs/:all*
func FileRoute(rel string) (string, bool) {
	p := "/" + strings.TrimPrefix(path.Clean(strings.ReplaceAll(rel, "\\", "/")), "/")

	var tail string
	appRouter := false
	if i := strings.LastIndex(p, "/pages/"); i >= 0 {
		tail = p[i+len("/pages/"):]
	} else if i := strings.LastIndex(p, "/app/"); i >= 0 {
		tail = p[i+len("/app/"):]
		appRouter = true
	} else {
		return "", false
	}

	base := path.Base(tail)
	stem := strings.TrimSuffix(base, path.Ext(base))
	if strings.HasPrefix(stem, "_") {
		return "", false
	}
	dir := path.Dir(tail)
	if dir == "." {
		dir = ""
	}

	var segs []string
	if dir != "" {
		segs = strings.Split(dir, "/")
	}
	if appRouter {
		if stem != "page" {
			return "", false
		}
	} else if stem != "index" {
		segs = append(segs, stem)
	}

	out := make([]string, 0, len(segs))
	for _, s := range segs {
		switch {
		case s == "":
			continue
		case strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")"):
			continue
		case reCatchAll.MatchString(s):
			out = append(out, ":"+reCatchAll.FindStringSubmatch(s)[1]+"*")
		case reDynamic.MatchString(s):
			out = append(out, ":"+reDynamic.FindStringSubmatch(s)[1])
		default:
			out = append(out, s)
		}
	}
	return "/" + strings.Join(out, "/"), true
}

// declaredRoutes finds JSX <Route path=...> elements and route-table
// path keys. Route tables are only trusted in router-aware files.
func declaredRoutes(content, framework string) []string {
	var routes []string
	for _, m := range reJSXRoute.FindAllStringSubmatch(content, -1) {
		routes = append(routes, m[1])
	}
	if framework == "react" || framework == "vue" || framework == "nextjs" || reRouterHint.MatchString(content) {
		for _, m := range reRouteTable.FindAllStringSubmatch(content, -1) {
			routes = append(routes, m[1])
		}
	}
	return routes
}

func extractRoutes(rel, content, framework string, limit int) []string {
	out := []string{}
	if limit <= 0 {
		return out
	}
	seen := map[string]bool{}
	add := func(r string) bool {
		if r == "" || seen[r] {
			return true
		}
		seen[r] = true
		out = append(out, r)
		return len(out) < limit
	}

	if r, ok := FileRoute(rel); ok && isRouteSource(rel) {
		if !add(r) {
			return out
		}
	}
	for _, r := range declaredRoutes(content, framework) {
		if !add(r) {
			break
		}
	}
	return out
}

func isRouteSource(rel string) bool {
	switch strings.ToLower(path.Ext(rel)) {
	case ".js", ".jsx", ".ts", ".tsx", ".mdx", ".vue", ".svelte":
		return true
	}
	return false
}
