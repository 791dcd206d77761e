package extractor

import (
	"regexp"
	"strings"

	"github.com/dshills/codesearch/pkg/entity"
)

var (
	jsFuncRe   = regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s+(\w+)\s*\(([^)]*)\)`)
	jsArrowRe  = regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s+)?\(([^)]*)\)\s*=>`)
	jsClassRe  = regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?class\s+(\w+)(?:\s+extends\s+(\w+))?`)
	jsMethodRe = regexp.MustCompile(`^\s+(?:static\s+)?(?:async\s+)?(\w+)\s*\(([^)]*)\)\s*\{`)
)

// jsMethodKeywords are statements the method pattern would otherwise
// match inside a class body.
var jsMethodKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true,
	"catch": true, "return": true, "function": true,
}

// JavaScriptExtractor extracts functions, arrow functions, classes,
// and methods from JavaScript and TypeScript source. Block extents
// are found by brace counting.
type JavaScriptExtractor struct{}

// NewJavaScriptExtractor creates a new JavaScript extractor.
func NewJavaScriptExtractor() *JavaScriptExtractor {
	return &JavaScriptExtractor{}
}

// Language reports the language this extractor handles.
func (x *JavaScriptExtractor) Language() entity.Language {
	return entity.LangJavaScript
}

// Extract scans source line by line for declarations.
func (x *JavaScriptExtractor) Extract(filePath string, source []byte) ([]entity.CodeEntity, error) {
	return x.extract(filePath, source, entity.LangJavaScript)
}

func (x *JavaScriptExtractor) extract(filePath string, source []byte, lang entity.Language) ([]entity.CodeEntity, error) {
	lines := strings.Split(string(source), "\n")
	entities := make([]entity.CodeEntity, 0)

	var currentClass string
	classDepth := 0
	depth := 0

	for i, line := range lines {
		inClass := currentClass != "" && depth > classDepth

		if m := jsClassRe.FindStringSubmatch(line); m != nil && !inClass {
			name := m[1]
			end := jsBlockEnd(lines, i)

			sig := "class " + name
			var params []string
			if m[2] != "" {
				sig += " extends " + m[2]
				params = []string{m[2]}
			}

			entities = append(entities, entity.CodeEntity{
				FilePath:   filePath,
				Name:       name,
				Kind:       entity.KindClass,
				Language:   lang,
				StartLine:  i + 1,
				EndLine:    end + 1,
				Signature:  sig,
				Parameters: params,
				DocComment: jsDocComment(lines, i),
				Source:     strings.Join(lines[i:end+1], "\n"),
			})

			currentClass = name
			classDepth = depth
		} else if m := jsFuncRe.FindStringSubmatch(line); m != nil {
			end := jsBlockEnd(lines, i)
			entities = append(entities, entity.CodeEntity{
				FilePath:   filePath,
				Name:       m[1],
				Kind:       entity.KindFunction,
				Language:   lang,
				StartLine:  i + 1,
				EndLine:    end + 1,
				Signature:  "function " + m[1] + "(" + m[2] + ")",
				Parameters: splitParams(m[2]),
				DocComment: jsDocComment(lines, i),
				Source:     strings.Join(lines[i:end+1], "\n"),
			})
		} else if m := jsArrowRe.FindStringSubmatch(line); m != nil {
			end := jsBlockEnd(lines, i)
			entities = append(entities, entity.CodeEntity{
				FilePath:   filePath,
				Name:       m[1],
				Kind:       entity.KindFunction,
				Language:   lang,
				StartLine:  i + 1,
				EndLine:    end + 1,
				Signature:  "const " + m[1] + " = (" + m[2] + ") =>",
				Parameters: splitParams(m[2]),
				DocComment: jsDocComment(lines, i),
				Source:     strings.Join(lines[i:end+1], "\n"),
			})
		} else if m := jsMethodRe.FindStringSubmatch(line); m != nil && inClass && depth == classDepth+1 {
			if !jsMethodKeywords[m[1]] {
				end := jsBlockEnd(lines, i)
				entities = append(entities, entity.CodeEntity{
					FilePath:   filePath,
					Name:       m[1],
					Kind:       entity.KindMethod,
					Language:   lang,
					StartLine:  i + 1,
					EndLine:    end + 1,
					Signature:  m[1] + "(" + m[2] + ")",
					Parameters: splitParams(m[2]),
					Parent:     currentClass,
					DocComment: jsDocComment(lines, i),
					Source:     strings.Join(lines[i:end+1], "\n"),
				})
			}
		}

		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth <= classDepth {
			currentClass = ""
		}
	}

	return entities, nil
}

// jsBlockEnd finds the closing line of the block opened at start by
// counting braces. Declarations with no body end on their own line.
func jsBlockEnd(lines []string, start int) int {
	depth := 0
	opened := false

	for j := start; j < len(lines); j++ {
		depth += strings.Count(lines[j], "{")
		if depth > 0 {
			opened = true
		}
		depth -= strings.Count(lines[j], "}")
		if opened && depth <= 0 {
			return j
		}
		// Give up on one-line declarations without a brace nearby.
		if !opened && j > start+1 {
			return start
		}
	}
	return len(lines) - 1
}

// jsDocComment collects the JSDoc block immediately above a declaration.
func jsDocComment(lines []string, declLine int) string {
	end := declLine - 1
	if end < 0 || !strings.HasSuffix(strings.TrimSpace(lines[end]), "*/") {
		return ""
	}

	var block []string
	for j := end; j >= 0; j-- {
		trimmed := strings.TrimSpace(lines[j])
		block = append([]string{trimmed}, block...)
		if strings.HasPrefix(trimmed, "/**") || strings.HasPrefix(trimmed, "/*") {
			break
		}
		if j == 0 {
			return ""
		}
	}

	var parts []string
	for _, line := range block {
		line = strings.TrimPrefix(line, "/**")
		line = strings.TrimPrefix(line, "/*")
		line = strings.TrimSuffix(line, "*/")
		line = strings.TrimPrefix(strings.TrimSpace(line), "*")
		line = strings.TrimSpace(line)
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, "\n")
}
