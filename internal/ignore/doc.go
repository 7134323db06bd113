// Package ignore decides which project paths are excluded from a scan.
//
// Two rule sets are supported:
//
//   - Rules: .gitignore syntax (https://git-scm.com/docs/gitignore), including
//     negation, directory-only, anchored patterns and nested ignore files
//     scoped to their directory.
//   - Globs: the configured exclude list. A glob matches a relative path
//     at any directory depth unless it starts with "/". "**" crosses
//     directories and a trailing "/**" also prunes the directory itself.
//
// Usage:
//
//	r := ignore.NewRules()
//	r.Add("*.log", "")
//	r.Add("!keep.log", "")
//	_ = r.AddFile("/proj/web/.gitignore", "web")
//
//	g, _ := ignore.CompileGlobs([]string{"node_modules/**", "*.min.js"})
//	g.Match("web/node_modules/react/index.js", false) // true
package ignore
