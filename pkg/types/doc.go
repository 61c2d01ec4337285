// Package types provides shared domain types for the code search engine.
//
// CodeUnit is one indexable snippet cut out of a source file by the corpus
// loader. Units are immutable and identified by a positive integer id that is
// assigned deterministically in traversal order:
//
//	unit := types.CodeUnit{
//	    ID:         42,
//	    SourcePath: "repo/internal/auth/login.go",
//	    StartLine:  10,
//	    EndLine:    38,
//	    Language:   types.LangGo,
//	    Kind:       types.UnitFunction,
//	}
//
// SearchResult pairs a unit with its similarity score and 1-based rank.
// ScoredID is the id-only form stored by the query cache.
//
// # Errors
//
// The error taxonomy (ErrInvalidQuery, ErrEmbedding, ErrBuild,
// ErrUnsupportedOperation, ErrTimeout, ...) lives here so every component
// wraps the same sentinels. ErrorKind maps an error to a short name used by
// metrics and transport error codes.
package types
