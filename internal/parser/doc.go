// Package parser locates top-level declarations in Go source files.
//
// The corpus loader uses it to cut Go files at function granularity: each
// function, method and type declaration becomes one span, with its doc
// comment included. Files that do not parse cleanly still yield whatever
// declarations the partial AST contains; the error is recorded on the result.
//
//	p := parser.New()
//	result, err := p.ParseSource("auth.go", src)
//	for _, d := range result.Decls {
//	    fmt.Printf("%s %s lines %d-%d\n", d.Kind, d.Name, d.StartLine, d.EndLine)
//	}
package parser
