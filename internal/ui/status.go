package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo describes the last run and the persisted index of a project.
type StatusInfo struct {
	ProjectRoot string    `json:"project_root"`
	Framework   string    `json:"framework"`
	LastScan    time.Time `json:"last_scan"`
	LastStatus  string    `json:"last_status"`
	LastMode    string    `json:"last_mode"`
	TotalFiles  int       `json:"total_files"`
	Chunks      int       `json:"chunks"`
	Entries     int       `json:"entries"`
	ErrorCount  int       `json:"error_count"`

	Backend        string `json:"backend"`
	EmbedderModel  string `json:"embedder_model,omitempty"`
	Dimensions     int    `json:"dimensions"`
	TrackedFiles   int    `json:"tracked_files"`
	DataDir        string `json:"data_dir"`
	DataSize       int64  `json:"data_size_bytes"`
	OutputDir      string `json:"output_dir"`
	KeywordEntries int    `json:"keyword_entries,omitempty"`
}

// StatusRenderer prints StatusInfo.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render prints info as aligned text.
func (r *StatusRenderer) Render(info StatusInfo) error {
	line := func(label string, value any) {
		_, _ = fmt.Fprintf(r.out, "  %s %v\n", r.styles.Label.Render(fmt.Sprintf("%-14s", label+":")), value)
	}

	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("forge status: "+info.ProjectRoot))

	if info.LastScan.IsZero() {
		_, _ = fmt.Fprintln(r.out, r.styles.Warning.Render("  no completed scan yet"))
	} else {
		line("Last scan", fmt.Sprintf("%s (%s, %s)", formatAge(info.LastScan, time.Now()), info.LastMode, r.renderStatus(info.LastStatus)))
		line("Framework", orDash(info.Framework))
		line("Files", info.TotalFiles)
		line("Chunks", info.Chunks)
		if info.ErrorCount > 0 {
			line("Errors", r.styles.Warning.Render(fmt.Sprint(info.ErrorCount)))
		}
	}
	_, _ = fmt.Fprintln(r.out)

	line("Store", fmt.Sprintf("%s, %d entries", info.Backend, info.Entries))
	if info.KeywordEntries > 0 {
		line("Keyword index", fmt.Sprintf("%d documents", info.KeywordEntries))
	}
	if info.EmbedderModel != "" {
		line("Embedder", fmt.Sprintf("%s (%d dims)", info.EmbedderModel, info.Dimensions))
	}
	line("Tracked files", info.TrackedFiles)
	line("Data dir", fmt.Sprintf("%s (%s)", info.DataDir, FormatBytes(info.DataSize)))
	line("Output dir", info.OutputDir)
	return nil
}

// RenderJSON prints info as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "success":
		return r.styles.Success.Render(status)
	case "completed_with_errors":
		return r.styles.Warning.Render(status)
	case "":
		return "-"
	default:
		return r.styles.Error.Render(status)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatAge renders t relative to now.
func formatAge(t, now time.Time) string {
	d := now.Sub(t)
	plural := func(n int, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s ago", unit)
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	case d < 7*24*time.Hour:
		return plural(int(d.Hours()/24), "day")
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 2; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMG"[exp])
}
