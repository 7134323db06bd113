// Package output writes what a run produces: colored status lines for the
// terminal and the JSON artifacts of the output directory.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Console prints status lines. Colors are used only on a terminal.
type Console struct {
	out   io.Writer
	color bool

	ok, warn, fail, dim, accent lipgloss.Style
}

// NewConsole writes plain text to out.
func NewConsole(out io.Writer) *Console {
	c := &Console{out: out}
	c.setStyles()
	return c
}

// NewTerminalConsole writes to f, with colors when f is a terminal and
// NO_COLOR is unset.
func NewTerminalConsole(f *os.File) *Console {
	c := &Console{out: f}
	fd := f.Fd()
	c.color = (isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)) && os.Getenv("NO_COLOR") == ""
	c.setStyles()
	return c
}

func (c *Console) setStyles() {
	s := func(color string) lipgloss.Style {
		if !c.color {
			return lipgloss.NewStyle()
		}
		return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
	}
	c.ok = s("154")
	c.warn = s("220")
	c.fail = s("196")
	c.dim = s("245")
	c.accent = s("154").Bold(c.color)
}

// Status prints msg after icon, or indented when icon is empty.
func (c *Console) Status(icon, msg string) {
	if icon == "" {
		_, _ = fmt.Fprintf(c.out, "   %s\n", msg)
		return
	}
	_, _ = fmt.Fprintf(c.out, "%s %s\n", icon, msg)
}

// Statusf is Status with formatting.
func (c *Console) Statusf(icon, format string, args ...any) {
	c.Status(icon, fmt.Sprintf(format, args...))
}

// Successf prints a success line.
func (c *Console) Successf(format string, args ...any) {
	c.Status(c.ok.Render("✓"), fmt.Sprintf(format, args...))
}

// Warningf prints a warning line.
func (c *Console) Warningf(format string, args ...any) {
	c.Status(c.warn.Render("!"), fmt.Sprintf(format, args...))
}

// Errorf prints an error line.
func (c *Console) Errorf(format string, args ...any) {
	c.Status(c.fail.Render("✗"), fmt.Sprintf(format, args...))
}

// Field prints an aligned "label: value" line.
func (c *Console) Field(label string, value any) {
	_, _ = fmt.Fprintf(c.out, "   %s %v\n", c.dim.Render(fmt.Sprintf("%-12s", label+":")), value)
}

// Heading prints a bold line.
func (c *Console) Heading(text string) {
	_, _ = fmt.Fprintln(c.out, c.accent.Render(text))
}

// Block prints text indented by four spaces.
func (c *Console) Block(text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		_, _ = fmt.Fprintf(c.out, "    %s\n", c.dim.Render(line))
	}
}

// Newline prints an empty line.
func (c *Console) Newline() {
	_, _ = fmt.Fprintln(c.out)
}

// Progress redraws a progress line in place and ends it at completion.
func (c *Console) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	pct := float64(current) / float64(total) * 100
	_, _ = fmt.Fprintf(c.out, "\r[%s] %3.0f%% %s", bar(current, total, 30), pct, msg)
	if current >= total {
		_, _ = fmt.Fprintln(c.out)
	}
}

func bar(current, total, width int) string {
	filled := 0
	if total > 0 {
		filled = int(float64(current) / float64(total) * float64(width))
	}
	filled = max(0, min(filled, width))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
