package extractor

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"github.com/dshills/codesearch/pkg/entity"
)

// GoExtractor parses Go source files with the standard library AST.
type GoExtractor struct{}

// NewGoExtractor creates a new Go extractor.
func NewGoExtractor() *GoExtractor {
	return &GoExtractor{}
}

// Language reports the language this extractor handles.
func (x *GoExtractor) Language() entity.Language {
	return entity.LangGo
}

// Extract parses source and returns the entities declared in it.
// Syntax errors are non-fatal: the parser may return a partial AST,
// and whatever entities it contains are still extracted.
func (x *GoExtractor) Extract(filePath string, source []byte) ([]entity.CodeEntity, error) {
	fset := token.NewFileSet()

	file, parseErr := parser.ParseFile(fset, filePath, source, parser.ParseComments)
	if file == nil {
		return nil, fmt.Errorf("parse %s: %w", filePath, parseErr)
	}

	v := &goVisitor{
		fset:     fset,
		filePath: filePath,
		source:   source,
		entities: make([]entity.CodeEntity, 0),
	}

	ast.Inspect(file, v.visit)
	return v.entities, nil
}

// goVisitor walks the AST collecting declaration-level entities.
type goVisitor struct {
	fset     *token.FileSet
	filePath string
	source   []byte
	entities []entity.CodeEntity
}

func (v *goVisitor) visit(node ast.Node) bool {
	if node == nil {
		return false
	}

	switch n := node.(type) {
	case *ast.FuncDecl:
		v.extractFunction(n)
	case *ast.GenDecl:
		v.extractGenDecl(n)
	}

	return true
}

// extractFunction extracts function and method declarations.
func (v *goVisitor) extractFunction(funcDecl *ast.FuncDecl) {
	ent := entity.CodeEntity{
		FilePath:   v.filePath,
		Name:       funcDecl.Name.Name,
		Language:   entity.LangGo,
		StartLine:  v.line(funcDecl.Pos()),
		EndLine:    v.line(funcDecl.End()),
		DocComment: docText(funcDecl.Doc),
		Parameters: v.paramNames(funcDecl.Type.Params),
		ReturnType: v.returnType(funcDecl.Type.Results),
	}

	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		ent.Kind = entity.KindMethod
		ent.Parent = v.receiverType(funcDecl.Recv.List[0].Type)
	} else {
		ent.Kind = entity.KindFunction
	}

	ent.Signature = v.functionSignature(funcDecl)
	ent.Source = v.sourceRange(funcDecl.Pos(), funcDecl.End())

	v.entities = append(v.entities, ent)
}

// extractGenDecl extracts type declarations. Const and var specs are
// skipped: they carry too little searchable text to rank usefully.
func (v *goVisitor) extractGenDecl(genDecl *ast.GenDecl) {
	for _, spec := range genDecl.Specs {
		typeSpec, ok := spec.(*ast.TypeSpec)
		if !ok {
			continue
		}
		v.extractTypeSpec(typeSpec, genDecl)
	}
}

func (v *goVisitor) extractTypeSpec(typeSpec *ast.TypeSpec, genDecl *ast.GenDecl) {
	doc := typeSpec.Doc
	if doc == nil {
		doc = genDecl.Doc
	}

	ent := entity.CodeEntity{
		FilePath:   v.filePath,
		Name:       typeSpec.Name.Name,
		Language:   entity.LangGo,
		StartLine:  v.line(typeSpec.Pos()),
		EndLine:    v.line(typeSpec.End()),
		DocComment: docText(doc),
	}

	switch t := typeSpec.Type.(type) {
	case *ast.StructType:
		ent.Kind = entity.KindStruct
		ent.Signature = fmt.Sprintf("type %s struct // %d fields", typeSpec.Name.Name, fieldCount(t.Fields))
	case *ast.InterfaceType:
		ent.Kind = entity.KindInterface
		ent.Signature = fmt.Sprintf("type %s interface // %d methods", typeSpec.Name.Name, fieldCount(t.Methods))
	default:
		// Aliases and defined types over non-composite types are
		// indexed as structs for lack of a closer kind.
		ent.Kind = entity.KindStruct
		ent.Signature = fmt.Sprintf("type %s %s", typeSpec.Name.Name, exprToString(typeSpec.Type))
	}

	ent.Source = v.sourceRange(typeSpec.Pos(), typeSpec.End())

	v.entities = append(v.entities, ent)
}

// receiverType extracts the receiver type name from a method.
func (v *goVisitor) receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return exprToString(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return exprToString(t.X)
	case *ast.IndexListExpr:
		return exprToString(t.X)
	}
	return ""
}

// functionSignature builds a function signature string.
func (v *goVisitor) functionSignature(funcDecl *ast.FuncDecl) string {
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

// paramNames returns the declared parameter names in order.
func (v *goVisitor) paramNames(params *ast.FieldList) []string {
	if params == nil || len(params.List) == 0 {
		return nil
	}

	names := make([]string, 0, len(params.List))
	for _, field := range params.List {
		for _, name := range field.Names {
			names = append(names, name.Name)
		}
	}
	return names
}

// returnType renders the result list as a single type string.
func (v *goVisitor) returnType(results *ast.FieldList) string {
	if results == nil || len(results.List) == 0 {
		return ""
	}
	out := fieldListToString(results)
	if results.NumFields() > 1 {
		return "(" + out + ")"
	}
	return out
}

// line converts a token position to a 1-based line number.
func (v *goVisitor) line(pos token.Pos) int {
	return v.fset.Position(pos).Line
}

// sourceRange returns the raw source text between two positions.
func (v *goVisitor) sourceRange(start, end token.Pos) string {
	s := v.fset.Position(start).Offset
	e := v.fset.Position(end).Offset
	if s < 0 || e > len(v.source) || s >= e {
		return ""
	}
	return string(v.source[s:e])
}

func fieldCount(fields *ast.FieldList) int {
	if fields == nil {
		return 0
	}
	return fields.NumFields()
}

// fieldListToString converts a field list to a string representation.
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

// exprToString converts a type expression to a string representation.
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

// docText extracts documentation text from a comment group.
func docText(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}
