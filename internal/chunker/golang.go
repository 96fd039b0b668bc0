package chunker

import (
	"go/ast"
	"go/parser"
	"go/token"
)

// goParser emits one unit per top-level Go declaration using the standard
// library parser: functions, methods, and type declarations.
type goParser struct{}

func (p *goParser) Parse(content string) ([]Unit, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "src.go", content, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	var units []Unit
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			u := Unit{
				Name:      funcName(d),
				Type:      "function",
				StartLine: declStart(fset, d, d.Doc),
				EndLine:   fset.Position(d.End()).Line,
			}
			if d.Recv != nil {
				u.Type = "method"
			}
			units = append(units, u)
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			units = append(units, Unit{
				Name:      typeName(d),
				Type:      "type",
				StartLine: declStart(fset, d, d.Doc),
				EndLine:   fset.Position(d.End()).Line,
			})
		}
	}
	return units, nil
}

// declStart returns the first line of a declaration including its doc
// comment, so the comment travels with the chunk.
func declStart(fset *token.FileSet, decl ast.Decl, doc *ast.CommentGroup) int {
	if doc != nil {
		return fset.Position(doc.Pos()).Line
	}
	return fset.Position(decl.Pos()).Line
}

func funcName(d *ast.FuncDecl) string {
	if d.Recv == nil || len(d.Recv.List) == 0 {
		return d.Name.Name
	}
	return receiverTypeName(d.Recv.List[0].Type) + "." + d.Name.Name
}

func receiverTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return receiverTypeName(t.X)
	case *ast.IndexExpr:
		return receiverTypeName(t.X)
	case *ast.IndexListExpr:
		return receiverTypeName(t.X)
	default:
		return ""
	}
}

func typeName(d *ast.GenDecl) string {
	for _, spec := range d.Specs {
		if ts, ok := spec.(*ast.TypeSpec); ok {
			return ts.Name.Name
		}
	}
	return ""
}
