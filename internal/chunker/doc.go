// Package chunker divides source files into code units for embedding and search.
//
// Go files are cut at natural boundaries: one unit per top-level function,
// method or type declaration, including its doc comment. The lines between
// declarations (package clause, imports, var and const blocks) are windowed
// as well. Declarations longer than MaxDeclLines are cut into windows so
// that no unit is unbounded.
//
// Every other language, and Go files that fail to parse, fall back to fixed
// windows of WindowLines lines (50 by default). Windows that contain only
// whitespace are dropped.
//
// # Basic Usage
//
//	c := chunker.New()
//	units, truncated := c.ChunkFile("auth.go", content, types.LangGo)
//	for _, u := range units {
//	    fmt.Printf("%s %s lines %d-%d\n", u.Kind, u.Name, u.StartLine, u.EndLine)
//	}
//
// # Limits
//
// MaxUnitsPerFile caps how many units one file may produce. When the cap is
// hit the first MaxUnitsPerFile units are kept and ChunkFile reports the
// truncation so the loader can count it.
package chunker
