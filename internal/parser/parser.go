package parser

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"github.com/dshills/codesearch/pkg/types"
)

// Decl is a top-level Go declaration located in a source file
type Decl struct {
	Name      string
	Kind      types.UnitKind
	Receiver  string // For methods: receiver type name
	Signature string
	StartLine int // Includes the doc comment when present
	EndLine   int
}

// ParseResult represents the output of parsing a Go source file
type ParseResult struct {
	PackageName string
	Decls       []Decl
	Errors      []ParseError
}

// ParseError represents an error that occurred during parsing
type ParseError struct {
	File    string
	Message string
}

// Error implements the error interface
func (pe *ParseError) Error() string {
	return pe.Message
}

// HasErrors returns true if any parsing errors occurred
func (pr *ParseResult) HasErrors() bool {
	return len(pr.Errors) > 0
}

// AddError adds a parsing error to the result
func (pr *ParseResult) AddError(file, msg string) {
	pr.Errors = append(pr.Errors, ParseError{File: file, Message: msg})
}

// Parser handles AST-based parsing of Go source files.
// A Parser is safe for concurrent use; every call gets its own FileSet.
type Parser struct{}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{}
}

// ParseSource parses Go source already read into memory and extracts
// top-level function, method and type declarations.
func (p *Parser) ParseSource(filePath string, content []byte) (*ParseResult, error) {
	result := &ParseResult{}
	fset := token.NewFileSet()

	file, err := parser.ParseFile(fset, filePath, content, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		// Syntax errors are non-fatal - record error but continue with partial AST
		result.AddError(filePath, fmt.Sprintf("syntax error: %v", err))
	}

	if file == nil {
		return result, nil
	}

	if file.Name != nil {
		result.PackageName = file.Name.Name
	}

	extractor := &declExtractor{fset: fset}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			extractor.extractFunction(d)
		case *ast.GenDecl:
			if d.Tok == token.TYPE {
				extractor.extractTypes(d)
			}
		}
	}
	result.Decls = extractor.decls

	return result, nil
}

// declExtractor collects declarations from a parsed file
type declExtractor struct {
	fset  *token.FileSet
	decls []Decl
}

// extractFunction extracts function and method declarations
func (e *declExtractor) extractFunction(funcDecl *ast.FuncDecl) {
	start := funcDecl.Pos()
	if funcDecl.Doc != nil {
		start = funcDecl.Doc.Pos()
	}

	decl := Decl{
		Name:      funcDecl.Name.Name,
		Kind:      types.UnitFunction,
		Signature: e.extractFunctionSignature(funcDecl),
		StartLine: e.line(start),
		EndLine:   e.line(funcDecl.End()),
	}

	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		decl.Kind = types.UnitMethod
		decl.Receiver = e.extractReceiverType(funcDecl.Recv.List[0].Type)
	}

	e.decls = append(e.decls, decl)
}

// extractTypes extracts a type declaration. Grouped declarations
// (type ( ... )) become a single span named after the first type.
func (e *declExtractor) extractTypes(genDecl *ast.GenDecl) {
	if len(genDecl.Specs) == 0 {
		return
	}
	typeSpec, ok := genDecl.Specs[0].(*ast.TypeSpec)
	if !ok {
		return
	}

	start := genDecl.Pos()
	if genDecl.Doc != nil {
		start = genDecl.Doc.Pos()
	}

	e.decls = append(e.decls, Decl{
		Name:      typeSpec.Name.Name,
		Kind:      types.UnitType,
		Signature: fmt.Sprintf("type %s", typeSpec.Name.Name),
		StartLine: e.line(start),
		EndLine:   e.line(genDecl.End()),
	})
}

// extractReceiverType extracts the receiver type name from a method
func (e *declExtractor) extractReceiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return e.extractReceiverType(t.X)
	case *ast.IndexExpr:
		return e.extractReceiverType(t.X)
	case *ast.IndexListExpr:
		return e.extractReceiverType(t.X)
	case *ast.Ident:
		return t.Name
	}
	return ""
}

// extractFunctionSignature builds a function signature string
func (e *declExtractor) extractFunctionSignature(funcDecl *ast.FuncDecl) string {
	var sig strings.Builder

	sig.WriteString("func ")

	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		sig.WriteString("(")
		sig.WriteString(exprToString(funcDecl.Recv.List[0].Type))
		sig.WriteString(") ")
	}

	sig.WriteString(funcDecl.Name.Name)

	sig.WriteString("(")
	if funcDecl.Type.Params != nil {
		sig.WriteString(fieldListToString(funcDecl.Type.Params))
	}
	sig.WriteString(")")

	if funcDecl.Type.Results != nil {
		results := fieldListToString(funcDecl.Type.Results)
		if results != "" {
			if funcDecl.Type.Results.NumFields() > 1 {
				sig.WriteString(" (")
				sig.WriteString(results)
				sig.WriteString(")")
			} else {
				sig.WriteString(" ")
				sig.WriteString(results)
			}
		}
	}

	return sig.String()
}

// line converts a token position to a 1-based line number
func (e *declExtractor) line(pos token.Pos) int {
	return e.fset.Position(pos).Line
}

// fieldListToString converts a field list to a string representation
func fieldListToString(fieldList *ast.FieldList) string {
	if fieldList == nil || len(fieldList.List) == 0 {
		return ""
	}

	var parts []string
	for _, field := range fieldList.List {
		typeStr := exprToString(field.Type)
		if len(field.Names) > 0 {
			for _, name := range field.Names {
				parts = append(parts, fmt.Sprintf("%s %s", name.Name, typeStr))
			}
		} else {
			parts = append(parts, typeStr)
		}
	}

	return strings.Join(parts, ", ")
}

// exprToString converts an expression to a string representation
func exprToString(expr ast.Expr) string {
	if expr == nil {
		return ""
	}

	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + exprToString(t.X)
	case *ast.ArrayType:
		return "[]" + exprToString(t.Elt)
	case *ast.MapType:
		return fmt.Sprintf("map[%s]%s", exprToString(t.Key), exprToString(t.Value))
	case *ast.ChanType:
		return "chan " + exprToString(t.Value)
	case *ast.FuncType:
		return "func(...)"
	case *ast.InterfaceType:
		return "interface{}"
	case *ast.SelectorExpr:
		return exprToString(t.X) + "." + t.Sel.Name
	case *ast.Ellipsis:
		return "..." + exprToString(t.Elt)
	case *ast.IndexExpr:
		return exprToString(t.X) + "[" + exprToString(t.Index) + "]"
	default:
		return "..."
	}
}
