package chunker

import (
	"cmp"
	"slices"
	"strings"

	"github.com/dshills/codesearch/internal/parser"
	"github.com/dshills/codesearch/pkg/types"
)

const (
	// DefaultWindowLines is the fixed window size used when no language-aware splitter applies
	DefaultWindowLines = 50

	// DefaultMaxDeclLines is the longest declaration kept as a single unit
	DefaultMaxDeclLines = 200

	// DefaultMaxUnitsPerFile caps extraction for pathological files
	DefaultMaxUnitsPerFile = 200
)

// ChunkStrategy selects how a file is split
type ChunkStrategy int

const (
	// StrategyFunctionLevel creates one unit per declaration, falling back to windows
	StrategyFunctionLevel ChunkStrategy = iota
	// StrategyWindow always uses fixed-size line windows
	StrategyWindow
)

// Config controls chunk sizes
type Config struct {
	WindowLines     int
	MaxDeclLines    int
	MaxUnitsPerFile int
	Strategy        ChunkStrategy
}

// Chunker cuts source files into CodeUnit candidates.
// Returned units carry location, text, language and kind; the loader assigns ids.
type Chunker struct {
	parser *parser.Parser
	cfg    Config
}

// New creates a new Chunker with default configuration
func New() *Chunker {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a Chunker, filling zero fields with defaults
func NewWithConfig(cfg Config) *Chunker {
	if cfg.WindowLines <= 0 {
		cfg.WindowLines = DefaultWindowLines
	}
	if cfg.MaxDeclLines <= 0 {
		cfg.MaxDeclLines = DefaultMaxDeclLines
	}
	if cfg.MaxUnitsPerFile <= 0 {
		cfg.MaxUnitsPerFile = DefaultMaxUnitsPerFile
	}
	return &Chunker{
		parser: parser.New(),
		cfg:    cfg,
	}
}

// Config returns the effective configuration
func (c *Chunker) Config() Config {
	return c.cfg
}

// ChunkFile splits file content into units. The boolean result reports
// whether the per-file cap truncated the output.
func (c *Chunker) ChunkFile(path string, content []byte, lang types.Language) ([]types.CodeUnit, bool) {
	lines := splitLines(string(content))
	if len(lines) == 0 {
		return nil, false
	}

	var units []types.CodeUnit
	if c.cfg.Strategy == StrategyFunctionLevel && lang == types.LangGo {
		units = c.chunkGo(path, content, lines)
	}

	// Fall back to windows when no language-aware split produced anything
	if len(units) == 0 {
		units = c.windows(lines, 1, len(lines))
	}

	for i := range units {
		units[i].Language = lang
	}

	if len(units) > c.cfg.MaxUnitsPerFile {
		return units[:c.cfg.MaxUnitsPerFile], true
	}
	return units, false
}

// chunkGo creates one unit per top-level declaration. Lines between
// declarations (package clause, imports, var and const blocks) become
// window units so every non-blank line stays searchable.
func (c *Chunker) chunkGo(path string, content []byte, lines []string) []types.CodeUnit {
	result, err := c.parser.ParseSource(path, content)
	if err != nil || result.HasErrors() || len(result.Decls) == 0 {
		return nil
	}

	decls := slices.Clone(result.Decls)
	slices.SortStableFunc(decls, func(a, b parser.Decl) int { return cmp.Compare(a.StartLine, b.StartLine) })

	units := make([]types.CodeUnit, 0, len(decls)+1)
	next := 1
	for _, decl := range decls {
		if decl.StartLine < next || decl.EndLine < decl.StartLine || decl.StartLine > len(lines) {
			continue
		}
		end := min(decl.EndLine, len(lines))

		units = append(units, c.gap(lines, next, decl.StartLine-1)...)
		next = end + 1

		// Oversized declarations are cut into windows so no unit is unbounded
		if end-decl.StartLine+1 > c.cfg.MaxDeclLines {
			for _, w := range c.windows(lines, decl.StartLine, end) {
				w.Name = decl.Name
				units = append(units, w)
			}
			continue
		}

		units = append(units, types.CodeUnit{
			StartLine: decl.StartLine,
			EndLine:   end,
			Text:      strings.Join(lines[decl.StartLine-1:end], "\n"),
			Kind:      decl.Kind,
			Name:      decl.Name,
		})
	}
	return append(units, c.gap(lines, next, len(lines))...)
}

// gap windows the lines [from, to] left between declarations, trimmed of
// leading and trailing blank lines
func (c *Chunker) gap(lines []string, from, to int) []types.CodeUnit {
	for from <= to && strings.TrimSpace(lines[from-1]) == "" {
		from++
	}
	for to >= from && strings.TrimSpace(lines[to-1]) == "" {
		to--
	}
	if from > to {
		return nil
	}
	return c.windows(lines, from, to)
}

// windows cuts the 1-based inclusive line range [from, to] into fixed windows.
// Windows containing only whitespace are dropped.
func (c *Chunker) windows(lines []string, from, to int) []types.CodeUnit {
	var units []types.CodeUnit
	for start := from; start <= to; start += c.cfg.WindowLines {
		end := start + c.cfg.WindowLines - 1
		if end > to {
			end = to
		}
		text := strings.Join(lines[start-1:end], "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		units = append(units, types.CodeUnit{
			StartLine: start,
			EndLine:   end,
			Text:      text,
			Kind:      types.UnitWindow,
		})
	}
	return units
}

// splitLines splits content into lines, dropping a single trailing newline
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}
