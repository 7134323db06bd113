package chunk

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	ferrors "github.com/forge-ai/forge/internal/errors"
	"github.com/forge-ai/forge/internal/parse"
)

// Options configures a Chunker.
type Options struct {
	// ChunkSize is the token budget per chunk.
	ChunkSize int
	// Overlap is the token budget carried from one window into the next.
	Overlap int
	// Strategy is StrategyAuto (components first) or StrategyWindowed.
	Strategy string
	// LinesPerChunk sizes the last-resort line fallback.
	LinesPerChunk int
	// Tokenizer defaults to CharEstimator.
	Tokenizer Tokenizer
}

// DefaultOptions returns the standard chunk sizing.
func DefaultOptions() Options {
	return Options{
		ChunkSize:     DefaultChunkSize,
		Overlap:       DefaultChunkOverlap,
		Strategy:      StrategyAuto,
		LinesPerChunk: DefaultLinesPerChunk,
	}
}

// Chunker splits files into chunks. It is stateless and safe for
// concurrent use.
type Chunker struct {
	opts Options
	tok  Tokenizer
}

// New creates a Chunker. Non-positive sizes take their defaults and the
// overlap is kept below the chunk size.
func New(opts Options) *Chunker {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	if opts.Overlap >= opts.ChunkSize {
		opts.Overlap = opts.ChunkSize / 2
	}
	if opts.LinesPerChunk <= 0 {
		opts.LinesPerChunk = DefaultLinesPerChunk
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyAuto
	}
	tok := opts.Tokenizer
	if tok == nil {
		tok = CharEstimator{}
	}
	return &Chunker{opts: opts, tok: tok}
}

// Options returns the effective options.
func (c *Chunker) Options() Options { return c.opts }

// fileState carries one file through chunking. Sequence numbers are
// per strategy tag and assigned in emission order.
type fileState struct {
	res    *parse.Result
	path   string
	lines  []string
	costs  []int
	seq    map[string]int
	chunks []Chunk
}

// Chunk splits content using the parse result. When token counting fails
// the file is cut into fixed line groups instead; the chunks are still
// returned together with an ErrCodeChunkFailed error for the run log.
func (c *Chunker) Chunk(res *parse.Result, content []byte) ([]Chunk, error) {
	if res == nil {
		res = &parse.Result{Language: "unknown"}
	}
	text := string(content)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	st := &fileState{
		res:   res,
		path:  res.Path,
		lines: SplitLines(text),
		seq:   make(map[string]int),
	}

	costs, err := c.lineCosts(st.lines)
	if err != nil {
		slog.Warn("chunk_fallback_lines",
			slog.String("path", st.path),
			slog.String("error", err.Error()))
		c.byLines(st)
		return st.chunks, ferrors.FileError(ferrors.ErrCodeChunkFailed, st.path,
			fmt.Errorf("token counting failed, used %d-line chunks: %w", c.opts.LinesPerChunk, err))
	}
	st.costs = costs

	if c.opts.Strategy != StrategyWindowed && len(res.Components) > 0 {
		if err := c.byComponents(st); err != nil {
			return nil, err
		}
		return st.chunks, nil
	}

	if err := c.window(st, 0, len(st.lines), c.opts.Overlap, TagToken, KindWindowed, nil); err != nil {
		return nil, err
	}
	return st.chunks, nil
}

// SplitLines splits text on "\n", dropping the empty element a trailing
// newline would leave and any carriage returns.
func SplitLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// lineCosts counts each line with its newline, so a window's cost is the
// sum of its lines.
func (c *Chunker) lineCosts(lines []string) ([]int, error) {
	costs := make([]int, len(lines))
	for i, l := range lines {
		n, err := c.tok.Count(l + "\n")
		if err != nil {
			return nil, err
		}
		costs[i] = n
	}
	return costs, nil
}

func (c *Chunker) byComponents(st *fileState) error {
	for _, comp := range st.res.Components {
		start := max(comp.StartLine-1, 0)
		end := min(comp.EndLine, len(st.lines))
		if start >= end {
			continue
		}
		extra := map[string]string{
			MetaComponentName: comp.Name,
			MetaComponentType: comp.Kind,
		}
		if len(comp.Hooks) > 0 {
			extra[MetaHooks] = strings.Join(comp.Hooks, ",")
		}

		tokens := sum(st.costs[start:end])
		if tokens > c.opts.ChunkSize {
			extra[MetaSplit] = "true"
			if err := c.window(st, start, end, 0, TagComponentSplit, KindStructural, extra); err != nil {
				return err
			}
			continue
		}
		st.emit(TagComponent, KindStructural, start, end, tokens, extra)
	}
	return nil
}

// window slides over lines [lo, hi), emitting a chunk whenever the next
// line would push it past the budget. The next window is seeded with
// trailing lines of the emitted one, walking backward until overlap
// tokens are used up. A single line over budget is cut into pieces.
func (c *Chunker) window(st *fileState, lo, hi, overlap int, tag string, kind Kind, extra map[string]string) error {
	budget := c.opts.ChunkSize
	start, tokens := lo, 0

	for i := lo; i < hi; i++ {
		cost := st.costs[i]

		if cost > budget {
			if i > start {
				st.emit(tag, kind, start, i, tokens, extra)
			}
			if err := c.splitLine(st, i, tag, kind, extra); err != nil {
				return err
			}
			start, tokens = i+1, 0
			continue
		}

		if tokens+cost > budget && i > start {
			st.emit(tag, kind, start, i, tokens, extra)

			j, ov := i, 0
			for j > start+1 && ov+st.costs[j-1] <= overlap {
				j--
				ov += st.costs[j]
			}
			for j < i && ov+cost > budget {
				ov -= st.costs[j]
				j++
			}
			start, tokens = j, ov
		}
		tokens += cost
	}
	if hi > start {
		st.emit(tag, kind, start, hi, tokens, extra)
	}
	return nil
}

// splitLine cuts line i into rune pieces that each fit the budget.
func (c *Chunker) splitLine(st *fileState, i int, tag string, kind Kind, extra map[string]string) error {
	runes := []rune(st.lines[i])
	md := map[string]string{MetaPartialLine: "true"}
	for k, v := range extra {
		md[k] = v
	}

	for len(runes) > 0 {
		// Largest prefix that fits.
		lo, hi := 1, len(runes)
		for lo < hi {
			mid := (lo + hi + 1) / 2
			n, err := c.tok.Count(string(runes[:mid]))
			if err != nil {
				return ferrors.FileError(ferrors.ErrCodeChunkFailed, st.path, err)
			}
			if n <= c.opts.ChunkSize {
				lo = mid
			} else {
				hi = mid - 1
			}
		}
		piece := string(runes[:lo])
		runes = runes[lo:]

		n, err := c.tok.Count(piece)
		if err != nil {
			return ferrors.FileError(ferrors.ErrCodeChunkFailed, st.path, err)
		}
		st.emitText(tag, kind, i, i+1, piece, n, md)
	}
	return nil
}

// byLines is the last resort when the tokenizer is unusable. Groups hold
// at most LinesPerChunk lines and close early once the character estimate
// would pass the budget; a line over the budget on its own is cut into
// rune pieces.
func (c *Chunker) byLines(st *fileState) {
	md := map[string]string{MetaFallback: TagLines}
	budget := c.opts.ChunkSize
	maxRunes := budget * 4

	start, runes := 0, 0
	flush := func(end int) {
		if end > start {
			text := strings.Join(st.lines[start:end], "\n")
			st.emitText(TagLines, KindWindowed, start, end, text, EstimateTokens(text), md)
		}
		start, runes = end, 0
	}

	for i, line := range st.lines {
		n := utf8.RuneCountInString(line)
		if n > maxRunes {
			flush(i)
			c.splitLineByEstimate(st, i, maxRunes, md)
			start = i + 1
			continue
		}
		next := runes + n
		if i > start {
			next++ // joining newline
		}
		if i > start && (i-start >= c.opts.LinesPerChunk || next > maxRunes) {
			flush(i)
			next = n
		}
		runes = next
	}
	flush(len(st.lines))
}

// splitLineByEstimate cuts line i into pieces of at most maxRunes runes.
func (c *Chunker) splitLineByEstimate(st *fileState, i, maxRunes int, extra map[string]string) {
	md := map[string]string{MetaPartialLine: "true"}
	for k, v := range extra {
		md[k] = v
	}
	runes := []rune(st.lines[i])
	for len(runes) > 0 {
		n := min(maxRunes, len(runes))
		piece := string(runes[:n])
		runes = runes[n:]
		st.emitText(TagLines, KindWindowed, i, i+1, piece, EstimateTokens(piece), md)
	}
}

func (st *fileState) emit(tag string, kind Kind, start, end, tokens int, extra map[string]string) {
	st.emitText(tag, kind, start, end, strings.Join(st.lines[start:end], "\n"), tokens, extra)
}

func (st *fileState) emitText(tag string, kind Kind, start, end int, text string, tokens int, extra map[string]string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	seq := st.seq[tag]
	st.seq[tag] = seq + 1

	md := map[string]string{
		MetaFile:     st.path,
		MetaLanguage: st.res.Language,
	}
	if st.res.Framework != "" {
		md[MetaFramework] = st.res.Framework
	}
	if st.res.Summary != "" {
		md[MetaSummary] = st.res.Summary
	}
	for k, v := range extra {
		md[k] = v
	}

	st.chunks = append(st.chunks, Chunk{
		ID:        ID(st.path, tag, seq),
		FilePath:  st.path,
		Strategy:  tag,
		Seq:       seq,
		Text:      text,
		StartLine: start,
		EndLine:   end,
		Tokens:    tokens,
		Kind:      kind,
		Language:  st.res.Language,
		Metadata:  md,
		Provenance: Provenance{
			File:      st.path,
			StartLine: start,
			EndLine:   end,
		},
	})
}

// ID renders the chunk identity "path:strategy:seq".
func ID(path, strategy string, seq int) string {
	return path + ":" + strategy + ":" + strconv.Itoa(seq)
}

func sum(xs []int) int {
	t := 0
	for _, x := range xs {
		t += x
	}
	return t
}
