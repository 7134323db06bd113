// Package chunk splits parsed files into bounded, line-aligned chunks
// ready for embedding.
package chunk

// Chunk size defaults.
const (
	DefaultChunkSize     = 1000
	DefaultChunkOverlap  = 200
	DefaultLinesPerChunk = 50
)

// Strategy selection values for Options.Strategy.
const (
	StrategyAuto     = "auto"
	StrategyWindowed = "windowed"
)

// Strategy tags used in chunk IDs.
const (
	TagComponent      = "component"
	TagComponentSplit = "component-split"
	TagToken          = "token"
	TagLines          = "lines"
)

// Kind is the coarse chunk type.
type Kind string

const (
	KindStructural Kind = "structural"
	KindWindowed   Kind = "windowed"
)

// Metadata keys set by the chunker.
const (
	MetaFile          = "file_path"
	MetaLanguage      = "language"
	MetaFramework     = "framework"
	MetaComponentName = "component_name"
	MetaComponentType = "component_type"
	MetaHooks         = "hooks"
	MetaSplit         = "split"
	MetaPartialLine   = "partial_line"
	MetaFallback      = "fallback"
	MetaSummary       = "ast_summary"
	MetaRedacted      = "redacted"
)

// Provenance records where a chunk came from. It carries no file content
// and is never rewritten after chunking.
type Provenance struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// Chunk is one contiguous slice of a file. Lines are 0-based and the
// range is half-open: [StartLine, EndLine).
type Chunk struct {
	ID         string            `json:"chunk_id"`
	FilePath   string            `json:"file_path"`
	Strategy   string            `json:"strategy"`
	Seq        int               `json:"seq"`
	Text       string            `json:"content"`
	StartLine  int               `json:"start_line"`
	EndLine    int               `json:"end_line"`
	Tokens     int               `json:"token_count"`
	Kind       Kind              `json:"chunk_type"`
	Language   string            `json:"language"`
	Metadata   map[string]string `json:"metadata"`
	Provenance Provenance        `json:"provenance"`
}

// Clone returns a copy with its own metadata map.
func (c Chunk) Clone() Chunk {
	md := make(map[string]string, len(c.Metadata))
	for k, v := range c.Metadata {
		md[k] = v
	}
	c.Metadata = md
	return c
}
