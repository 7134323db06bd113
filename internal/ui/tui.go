package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// stopTimeout bounds how long Stop waits for the program to exit.
const stopTimeout = 2 * time.Second

// TUIRenderer draws a live bubbletea view of the pipeline.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *scanModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer fails when the output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, errors.New("output is not a terminal")
	}
	tracker := NewProgressTracker()
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   newScanModel(tracker, cfg.ProjectDir, GetStyles(cfg.NoColor || DetectNoColor())),
		done:    make(chan struct{}),
	}, nil
}

// Start runs the bubbletea program in the background.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	ctx, r.cancel = context.WithCancel(ctx)
	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.tracker.Observe(event)
	r.send(event)
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.tracker.AddError(event)
	r.send(event)
}

// Complete shows the summary and ends the program.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.tracker.SetStage(StageComplete, 0)
	r.send(stats)
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Stop quits the program and waits briefly for it to exit.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	p, started := r.program, r.started
	r.mu.Unlock()
	if !started {
		return nil
	}
	p.Quit()
	exited := false
	select {
	case <-r.done:
		exited = true
	case <-time.After(stopTimeout):
	}
	if r.cancel != nil {
		r.cancel()
	}
	// The alt screen hides the summary; print it again on the main screen.
	if exited && r.model.complete {
		_, _ = fmt.Fprint(r.cfg.Output, r.model.renderComplete())
	}
	return nil
}

type tickMsg time.Time

// scanModel is the bubbletea model.
type scanModel struct {
	tracker    *ProgressTracker
	projectDir string
	styles     Styles
	spinner    spinner.Model
	bar        progress.Model
	width      int

	quitting bool
	complete bool
	stats    CompletionStats
}

func newScanModel(tracker *ProgressTracker, projectDir string, styles Styles) *scanModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Active
	return &scanModel{
		tracker:    tracker,
		projectDir: projectDir,
		styles:     styles,
		spinner:    s,
		bar:        progress.New(progress.WithSolidFill(ColorAccent), progress.WithWidth(50), progress.WithoutPercentage()),
		width:      80,
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model.
func (m *scanModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

// Update implements tea.Model.
func (m *scanModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if s := msg.String(); s == "ctrl+c" || s == "q" {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-20, 20)
	case CompletionStats:
		m.complete = true
		m.stats = msg
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *scanModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	width := max(m.width-4, 40)
	snap := m.tracker.Snapshot()
	divider := m.styles.Border.Render(strings.Repeat("─", width))

	sections := []string{
		m.renderStages(snap.Stage),
		divider,
		m.renderProgress(snap),
		m.renderSpeed(snap),
		divider,
		m.styles.Success.Render(m.tracker.Sparkline(max(width-14, 10))) + " " + m.styles.Dim.Render("throughput"),
	}
	if snap.CurrentFile != "" {
		sections = append(sections, divider, m.styles.Dim.Render(truncateFilePath(snap.CurrentFile, width-2)))
	}

	title := "forge scan"
	if m.projectDir != "" {
		title += " • " + m.projectDir
	}
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorBorder)).
		Padding(0, 1).
		Width(width)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		panel.Render(strings.Join(sections, "\n")),
	) + "\n" + m.renderStatusBar(snap)
}

var pipelineStages = []Stage{StageScanning, StageDiffing, StageParsing, StageEmbedding, StageIndexing, StageWriting}

func (m *scanModel) renderStages(current Stage) string {
	parts := make([]string, 0, len(pipelineStages))
	for _, s := range pipelineStages {
		switch {
		case s < current:
			parts = append(parts, m.styles.Success.Render("● "+s.String()))
		case s == current:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+s.String()))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+s.String()))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *scanModel) renderProgress(snap ProgressSnapshot) string {
	if snap.Total == 0 {
		return fmt.Sprintf("%s %s...", m.spinner.View(), snap.Stage)
	}
	return fmt.Sprintf("%s  %s\n%s",
		m.bar.ViewAs(snap.Fraction),
		m.styles.Active.Render(fmt.Sprintf("%3.0f%%", snap.Fraction*100)),
		m.styles.Label.Render(fmt.Sprintf("%d / %d", snap.Current, snap.Total)))
}

func (m *scanModel) renderSpeed(snap ProgressSnapshot) string {
	line := fmt.Sprintf("Speed: %.0f/s", snap.Speed.Current)
	if snap.Speed.Avg > 0 {
		line += fmt.Sprintf(" (avg: %.0f, peak: %.0f)", snap.Speed.Avg, snap.Speed.Peak)
	}
	out := m.styles.Label.Render(line)
	if snap.ETA > 0 {
		out += m.styles.Dim.Render("  •  ") + m.styles.Label.Render("ETA: "+formatDuration(snap.ETA))
	}
	return out
}

func (m *scanModel) renderStatusBar(snap ProgressSnapshot) string {
	var parts []string
	if snap.Warnings > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", snap.Warnings)))
	}
	if snap.Errors > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", snap.Errors)))
	}
	parts = append(parts, m.styles.Dim.Render("q to quit"))
	return strings.Join(parts, m.styles.Dim.Render("  │  "))
}

func (m *scanModel) renderComplete() string {
	st := m.stats
	field := func(label string, value any) string {
		return fmt.Sprintf("%s %s", m.styles.Label.Render(fmt.Sprintf("%-11s", label+":")), m.styles.Active.Render(fmt.Sprint(value)))
	}

	lines := []string{
		m.styles.Success.Render("✓ Scan complete (" + st.Mode + ")"),
		"",
		field("Files", st.Files),
		field("Changed", st.Changed),
		field("Deleted", st.Deleted),
		field("Chunks", st.Chunks),
		field("Embeddings", st.Embeddings),
		field("Duration", formatDuration(st.Duration)),
	}
	if st.Embedder.Model != "" {
		lines = append(lines, field("Embedder", fmt.Sprintf("%s (%d dims)", st.Embedder.Model, st.Embedder.Dimensions)))
	}
	if st.Backend != "" {
		lines = append(lines, field("Store", st.Backend))
	}
	if st.OutputDir != "" {
		lines = append(lines, field("Output", st.OutputDir))
	}
	if st.SkippedBatches > 0 || st.Errors > 0 || st.Warnings > 0 {
		lines = append(lines, "")
	}
	if st.SkippedBatches > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d batches skipped", st.SkippedBatches)))
	}
	if st.Errors > 0 {
		lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", st.Errors)))
	}
	if st.Warnings > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", st.Warnings)))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccentDim)).
		Padding(1, 2).
		Width(max(m.width-4, 40)).
		Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration renders d as "45s", "2m 5s" or "1h 3m".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		m, s := int(d.Minutes()), int(d.Seconds())%60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// truncateFilePath shortens path to maxLen, keeping the file name.
func truncateFilePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	if maxLen < 4 {
		return "..."
	}
	i := strings.LastIndex(path, "/")
	name := path[i+1:]
	if i < 0 || len(name)+4 > maxLen {
		return "..." + path[len(path)-maxLen+3:]
	}
	dir := path[:i]
	room := maxLen - len(name) - 4
	return "..." + dir[len(dir)-room:] + "/" + name
}

var _ Renderer = (*TUIRenderer)(nil)
