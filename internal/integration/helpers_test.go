// Package integration exercises scan, search and watch together against
// real project trees on disk.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forge-ai/forge/internal/config"
	"github.com/forge-ai/forge/internal/embed"
	"github.com/forge-ai/forge/internal/index"
	"github.com/forge-ai/forge/internal/search"
	"github.com/forge-ai/forge/internal/ui"
)

type project struct {
	root     string
	cfg      *config.Config
	provider embed.Provider
	runner   *index.Runner
	searcher *search.Searcher
}

func (p *project) runConfig(incremental bool) index.RunnerConfig {
	return index.RunnerConfig{
		RootDir:     p.root,
		DataDir:     filepath.Join(p.root, config.DataDirName),
		OutputDir:   filepath.Join(p.root, "forge-output"),
		Incremental: incremental,
	}
}

func (p *project) scan(t *testing.T, incremental bool) *index.RunnerResult {
	t.Helper()
	res, err := p.runner.Run(context.Background(), p.runConfig(incremental))
	require.NoError(t, err)
	return res
}

func (p *project) query(t *testing.T, text string, mode search.Mode) []search.Result {
	t.Helper()
	results, err := p.searcher.Query(context.Background(), search.Request{Text: text, K: 10, Mode: mode})
	require.NoError(t, err)
	return results
}

func (p *project) write(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(p.root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// newProject writes a small React app and wires a runner and a searcher
// over it with the static provider.
func newProject(t *testing.T, backend string) *project {
	t.Helper()
	cfg := config.NewConfig()
	cfg.VectorStore.Backend = backend
	cfg.Embedding.Provider = string(embed.ProviderStatic)
	cfg.Summarizer.Provider = "none"

	provider := embed.NewStaticProvider(cfg.Embedding.Dimensions)
	t.Cleanup(func() { _ = provider.Close() })

	runner, err := index.NewRunner(index.RunnerDependencies{
		Renderer: ui.NopRenderer{},
		Config:   cfg,
		Provider: provider,
	})
	require.NoError(t, err)

	p := &project{root: t.TempDir(), cfg: cfg, provider: provider, runner: runner}
	p.searcher, err = search.New(search.Options{Config: cfg, Root: p.root, Provider: provider})
	require.NoError(t, err)

	p.write(t, "package.json", `{"name":"shop","dependencies":{"react":"^18.2.0","react-router-dom":"^6.0.0"}}`)
	p.write(t, "src/Cart.jsx", "import React from 'react';\n\n"+
		"export function Cart({ items }) {\n"+
		"  const addToCart = (id) => fetch('/api/cart', { method: 'POST', body: id });\n"+
		"  return <ul>{items.map((i) => <li key={i.id} onClick={() => addToCart(i.id)}>{i.name}</li>)}</ul>;\n"+
		"}\n")
	p.write(t, "src/Login.jsx", "import React from 'react';\n\n"+
		"const API_KEY = 'abcd1234supersecretvalue';\n\n"+
		"export default function Login() {\n"+
		"  const submit = () => fetch('/api/login', { headers: { 'x-key': API_KEY } });\n"+
		"  return <form onSubmit={submit}><input name=\"user\" /></form>;\n"+
		"}\n")
	p.write(t, "src/styles.css", ".cart { display: flex; }\n")
	p.write(t, "node_modules/react/index.js", "module.exports = {};\n")
	return p
}

func files(results []search.Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.File)
	}
	return out
}
