package ui

import "strings"

var sparkLevels = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline is a fixed-size ring of samples drawn with block characters.
type Sparkline struct {
	samples []float64
	next    int
	filled  int
}

// NewSparkline keeps the last size samples.
func NewSparkline(size int) *Sparkline {
	if size <= 0 {
		size = 60
	}
	return &Sparkline{samples: make([]float64, size)}
}

// Add appends a sample, dropping the oldest when full.
func (s *Sparkline) Add(v float64) {
	s.samples[s.next] = v
	s.next = (s.next + 1) % len(s.samples)
	s.filled = min(s.filled+1, len(s.samples))
}

// Clear drops every sample.
func (s *Sparkline) Clear() {
	clear(s.samples)
	s.next, s.filled = 0, 0
}

// Len returns the number of samples held.
func (s *Sparkline) Len() int { return s.filled }

// recent returns up to n samples, oldest first.
func (s *Sparkline) recent(n int) []float64 {
	n = min(n, s.filled)
	out := make([]float64, n)
	start := (s.next - n + len(s.samples)) % len(s.samples)
	for i := range out {
		out[i] = s.samples[(start+i)%len(s.samples)]
	}
	return out
}

// Render draws the most recent width samples scaled to the largest of
// them, left-padded with the lowest level. width <= 0 draws every slot.
func (s *Sparkline) Render(width int) string {
	if width <= 0 {
		width = len(s.samples)
	}
	vals := s.recent(width)
	peak := 0.0
	for _, v := range vals {
		peak = max(peak, v)
	}

	var b strings.Builder
	b.WriteString(strings.Repeat(string(sparkLevels[0]), width-len(vals)))
	top := len(sparkLevels) - 1
	for _, v := range vals {
		lvl := 0
		if peak > 0 && v > 0 {
			lvl = min(max(int(v/peak*float64(top)+0.5), 0), top)
		}
		b.WriteRune(sparkLevels[lvl])
	}
	return b.String()
}
