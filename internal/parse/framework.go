package parse

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Framework labels.
const (
	FrameworkNextJS  = "nextjs"
	FrameworkReact   = "react"
	FrameworkVue     = "vue"
	FrameworkSvelte  = "svelte"
	FrameworkAngular = "angular"
	FrameworkStatic  = "static"
)

// DetectFramework guesses the framework of a single file from its path,
// imports and content. It returns "" when nothing points anywhere.
func DetectFramework(rel, content string, imports []Import) string {
	p := "/" + filepath.ToSlash(rel)
	if strings.Contains(p, "/pages/") || strings.Contains(p, "/app/") {
		return FrameworkNextJS
	}
	for _, imp := range imports {
		if imp.Module == "next" || strings.HasPrefix(imp.Module, "next/") {
			return FrameworkNextJS
		}
	}

	lower := strings.ToLower(content)
	if strings.Contains(lower, "react") || strings.Contains(lower, "usestate") || strings.Contains(lower, "useeffect") {
		return FrameworkReact
	}
	switch strings.ToLower(filepath.Ext(rel)) {
	case ".vue":
		return FrameworkVue
	case ".svelte":
		return FrameworkSvelte
	}
	return ""
}

// ProjectInfo describes the project as a whole.
type ProjectInfo struct {
	Framework string `json:"framework"`
	BuildTool string `json:"build_tool,omitempty"`
}

type packageJSON struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// DetectProject inspects package.json and well-known config files at
// root. An unreadable or malformed package.json is ignored.
func DetectProject(root string) ProjectInfo {
	info := ProjectInfo{}

	var pkg packageJSON
	if data, err := os.ReadFile(filepath.Join(root, "package.json")); err == nil {
		if json.Unmarshal(data, &pkg) != nil {
			pkg = packageJSON{}
		}
	}
	has := func(dep string) bool {
		_, a := pkg.Dependencies[dep]
		_, b := pkg.DevDependencies[dep]
		return a || b
	}
	exists := func(names ...string) bool {
		for _, n := range names {
			if _, err := os.Stat(filepath.Join(root, n)); err == nil {
				return true
			}
		}
		return false
	}

	switch {
	case has("next"):
		info.Framework = FrameworkNextJS
	case has("react"):
		info.Framework = FrameworkReact
	case has("vue"):
		info.Framework = FrameworkVue
	case has("svelte"):
		info.Framework = FrameworkSvelte
	case has("@angular/core"):
		info.Framework = FrameworkAngular
	case exists("next.config.js", "next.config.mjs", "next.config.ts"):
		info.Framework = FrameworkNextJS
	case exists("vue.config.js"):
		info.Framework = FrameworkVue
	case exists("svelte.config.js"):
		info.Framework = FrameworkSvelte
	case exists("angular.json"):
		info.Framework = FrameworkAngular
	default:
		info.Framework = FrameworkStatic
	}

	switch {
	case has("vite") || exists("vite.config.js", "vite.config.ts", "vite.config.mjs"):
		info.BuildTool = "vite"
	case has("webpack") || exists("webpack.config.js"):
		info.BuildTool = "webpack"
	case has("rollup") || exists("rollup.config.js"):
		info.BuildTool = "rollup"
	}
	return info
}
