package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/codesearch/internal/chunker"
	"github.com/dshills/codesearch/pkg/types"
)

const (
	// DefaultMaxFileBytes skips files larger than 1 MiB
	DefaultMaxFileBytes = 1 << 20

	// binarySniffLen is how many leading bytes are checked for NUL
	binarySniffLen = 8000
)

// DefaultExtensions are the recognized source file extensions
var DefaultExtensions = []string{
	".py", ".java", ".cpp", ".c", ".js", ".jsx", ".ts", ".tsx",
	".go", ".rs", ".rb", ".php", ".cs", ".swift", ".kt", ".scala",
	".html", ".css", ".sql", ".sh", ".yaml", ".json", ".h", ".hpp",
}

// DefaultSkipDirs are directory names never descended into
var DefaultSkipDirs = []string{
	"node_modules", ".git", "__pycache__", "venv", "dist", "build", ".venv", "vendor",
}

// errStop ends a walk early when an iterator consumer stops pulling
var errStop = errors.New("stop iteration")

// Config contains configuration for the loader
type Config struct {
	Extensions   []string // Recognized extensions (default: DefaultExtensions)
	SkipDirs     []string // Directory names to skip (default: DefaultSkipDirs)
	MaxFileBytes int64    // Files above this size are skipped (default: 1 MiB)
	Chunker      chunker.Config
}

// Stats describes one load
type Stats struct {
	Roots           int
	FilesSeen       int
	FilesIndexed    int
	FilesSkipped    int // Binary, oversized or unrecognized
	FilesUnreadable int
	FilesTruncated  int // Hit the per-file unit cap
	Units           int
	Lines           int
	ErrorMessages   []string
}

// Loader walks corpus roots and produces CodeUnits
type Loader struct {
	cfg        Config
	extensions map[string]bool
	skipDirs   map[string]bool
	chunker    *chunker.Chunker
	logger     *slog.Logger
}

// New creates a Loader, filling zero config fields with defaults
func New(cfg Config, logger *slog.Logger) *Loader {
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	if cfg.SkipDirs == nil {
		cfg.SkipDirs = DefaultSkipDirs
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &Loader{
		cfg:        cfg,
		extensions: make(map[string]bool, len(cfg.Extensions)),
		skipDirs:   make(map[string]bool, len(cfg.SkipDirs)),
		chunker:    chunker.NewWithConfig(cfg.Chunker),
		logger:     logger,
	}
	for _, ext := range cfg.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		l.extensions[ext] = true
	}
	for _, dir := range cfg.SkipDirs {
		l.skipDirs[dir] = true
	}
	return l
}

// Walk visits every unit under the given roots in deterministic order and
// calls fn for each one. Ids start at 1 and follow traversal order, so the
// same tree always yields the same ids. Unreadable files are counted and
// skipped; a missing root or an error from fn aborts the walk.
func (l *Loader) Walk(ctx context.Context, roots []string, fn func(types.CodeUnit) error) (*Stats, error) {
	stats := &Stats{ErrorMessages: make([]string, 0)}
	var nextID int64 = 1

	for _, root := range roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return stats, fmt.Errorf("resolve root %s: %w", root, err)
		}
		info, err := os.Stat(absRoot)
		if err != nil {
			return stats, fmt.Errorf("stat root %s: %w", root, err)
		}
		if !info.IsDir() {
			return stats, fmt.Errorf("root %s is not a directory", root)
		}
		stats.Roots++

		repo := filepath.Base(absRoot)
		base := filepath.Dir(absRoot)

		err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			if walkErr != nil {
				// Unreadable directory or entry - count it and keep going
				stats.FilesUnreadable++
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", path, walkErr))
				l.logger.Debug("skipping unreadable path", "path", path, "error", walkErr)
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				if path != absRoot && l.shouldSkipDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}

			if !d.Type().IsRegular() || !l.extensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			stats.FilesSeen++

			relPath, err := filepath.Rel(base, path)
			if err != nil {
				relPath = path
			}
			relPath = filepath.ToSlash(relPath)

			units, err := l.loadFile(path, d, stats)
			if err != nil {
				stats.FilesUnreadable++
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", relPath, err))
				l.logger.Debug("skipping unreadable file", "path", relPath, "error", err)
				return nil
			}
			if units == nil {
				return nil
			}

			stats.FilesIndexed++
			for _, unit := range units {
				unit.ID = nextID
				unit.Repo = repo
				unit.SourcePath = relPath
				nextID++
				stats.Units++
				if err := fn(unit); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return stats, err
		}
	}

	return stats, nil
}

// Units returns a lazy sequence of units under the given roots. Iteration
// stops at the first fatal error, which is yielded with a zero unit.
func (l *Loader) Units(ctx context.Context, roots ...string) iter.Seq2[types.CodeUnit, error] {
	return func(yield func(types.CodeUnit, error) bool) {
		_, err := l.Walk(ctx, roots, func(u types.CodeUnit) error {
			if !yield(u, nil) {
				return errStop
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			yield(types.CodeUnit{}, err)
		}
	}
}

// Load collects every unit under the given roots
func (l *Loader) Load(ctx context.Context, roots ...string) ([]types.CodeUnit, *Stats, error) {
	var units []types.CodeUnit
	stats, err := l.Walk(ctx, roots, func(u types.CodeUnit) error {
		units = append(units, u)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	return units, stats, nil
}

// loadFile reads and chunks one file. A nil slice with nil error means the
// file was skipped on purpose (binary, oversized, or empty).
func (l *Loader) loadFile(path string, d fs.DirEntry, stats *Stats) ([]types.CodeUnit, error) {
	info, err := d.Info()
	if err != nil {
		return nil, err
	}
	if info.Size() > l.cfg.MaxFileBytes {
		stats.FilesSkipped++
		return nil, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if isBinary(content) {
		stats.FilesSkipped++
		return nil, nil
	}

	content = bytes.ToValidUTF8(content, nil)
	units, truncated := l.chunker.ChunkFile(path, content, types.LanguageForPath(path))
	if truncated {
		stats.FilesTruncated++
	}
	if len(units) == 0 {
		stats.FilesSkipped++
		return nil, nil
	}

	stats.Lines += bytes.Count(content, []byte("\n"))
	if len(content) > 0 && content[len(content)-1] != '\n' {
		stats.Lines++
	}
	return units, nil
}

// shouldSkipDir reports whether a directory is excluded from the walk
func (l *Loader) shouldSkipDir(name string) bool {
	return l.skipDirs[name] || strings.HasPrefix(name, ".")
}

// isBinary reports whether content looks like a binary file
func isBinary(content []byte) bool {
	sniff := content
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	return bytes.IndexByte(sniff, 0) >= 0
}
