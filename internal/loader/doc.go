// Package loader turns directory trees into CodeUnits.
//
// Files are filtered by extension, hidden and vendored directories are
// skipped, and binary or oversized files are ignored. Traversal order is
// lexical, so unit ids are stable across runs over the same tree.
package loader
