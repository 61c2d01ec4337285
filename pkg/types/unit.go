package types

import (
	"crypto/sha256"
	"errors"
	"path/filepath"
	"strings"
)

// UnitKind describes how a CodeUnit was cut out of its source file
type UnitKind string

const (
	UnitFunction UnitKind = "function"
	UnitMethod   UnitKind = "method"
	UnitType     UnitKind = "type"
	UnitWindow   UnitKind = "window" // Fixed-size line window
)

// CodeUnit is one indexable snippet of source code.
// CodeUnits are immutable once created by the loader.
type CodeUnit struct {
	// Identification
	ID   int64
	Repo string // Base name of the corpus root the unit was loaded from

	// Location
	SourcePath string // Relative to the corpus root's parent
	StartLine  int
	EndLine    int

	// Content
	Text     string
	Language Language
	Kind     UnitKind
	Name     string // Declaration name for function-level units
}

// Validate checks that the unit is well formed
func (u *CodeUnit) Validate() error {
	if u.ID <= 0 {
		return errors.New("unit id must be positive")
	}

	if strings.TrimSpace(u.Text) == "" {
		return errors.New("unit text cannot be empty")
	}

	if u.StartLine <= 0 || u.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}

	if u.StartLine > u.EndLine {
		return errors.New("start line must be before or equal to end line")
	}

	return nil
}

// LineCount returns the number of source lines the unit spans
func (u *CodeUnit) LineCount() int {
	return u.EndLine - u.StartLine + 1
}

// ContentHash returns the SHA-256 of the unit text.
// Embeddings are recomputed only when this changes.
func (u *CodeUnit) ContentHash() [32]byte {
	return sha256.Sum256([]byte(u.Text))
}

// Language is a normalized language tag derived from a file extension
type Language string

const (
	LangUnknown    Language = "unknown"
	LangGo         Language = "go"
	LangPython     Language = "python"
	LangJava       Language = "java"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangRust       Language = "rust"
	LangRuby       Language = "ruby"
	LangPHP        Language = "php"
	LangCSharp     Language = "csharp"
	LangSwift      Language = "swift"
	LangKotlin     Language = "kotlin"
	LangScala      Language = "scala"
	LangHTML       Language = "html"
	LangCSS        Language = "css"
	LangSQL        Language = "sql"
	LangShell      Language = "shell"
	LangYAML       Language = "yaml"
	LangJSON       Language = "json"
)

var extensionLanguages = map[string]Language{
	".go":    LangGo,
	".py":    LangPython,
	".java":  LangJava,
	".c":     LangC,
	".h":     LangC,
	".cpp":   LangCPP,
	".hpp":   LangCPP,
	".js":    LangJavaScript,
	".jsx":   LangJavaScript,
	".ts":    LangTypeScript,
	".tsx":   LangTypeScript,
	".rs":    LangRust,
	".rb":    LangRuby,
	".php":   LangPHP,
	".cs":    LangCSharp,
	".swift": LangSwift,
	".kt":    LangKotlin,
	".scala": LangScala,
	".html":  LangHTML,
	".css":   LangCSS,
	".sql":   LangSQL,
	".sh":    LangShell,
	".yaml":  LangYAML,
	".yml":   LangYAML,
	".json":  LangJSON,
}

// LanguageForPath returns the language tag for a file path based on its extension
func LanguageForPath(path string) Language {
	if lang, ok := extensionLanguages[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return LangUnknown
}
