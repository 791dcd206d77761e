package extractor

import (
	"regexp"
	"strings"

	"github.com/dshills/codesearch/pkg/entity"
)

var (
	pyDefRe   = regexp.MustCompile(`^(\s*)def\s+(\w+)\s*\(([^)]*)\)\s*(?:->\s*([^:]+))?:`)
	pyClassRe = regexp.MustCompile(`^(\s*)class\s+(\w+)(?:\s*\(([^)]*)\))?\s*:`)
)

// PythonExtractor extracts functions, methods, and classes from Python
// source using an indentation-aware line scanner.
type PythonExtractor struct{}

// NewPythonExtractor creates a new Python extractor.
func NewPythonExtractor() *PythonExtractor {
	return &PythonExtractor{}
}

// Language reports the language this extractor handles.
func (x *PythonExtractor) Language() entity.Language {
	return entity.LangPython
}

// Extract scans source line by line. A def nested under a class
// becomes a method with the class recorded as its parent. Block
// extents are determined by indentation.
func (x *PythonExtractor) Extract(filePath string, source []byte) ([]entity.CodeEntity, error) {
	lines := strings.Split(string(source), "\n")
	entities := make([]entity.CodeEntity, 0)

	var currentClass string
	classIndent := -1

	for i, line := range lines {
		if m := pyClassRe.FindStringSubmatch(line); m != nil {
			indent := len(m[1])
			name := m[2]
			bases := splitParams(m[3])

			currentClass = name
			classIndent = indent

			end := pyBlockEnd(lines, i, indent)
			sig := "class " + name
			if m[3] != "" {
				sig = "class " + name + "(" + m[3] + ")"
			}

			entities = append(entities, entity.CodeEntity{
				FilePath:   filePath,
				Name:       name,
				Kind:       entity.KindClass,
				Language:   entity.LangPython,
				StartLine:  i + 1,
				EndLine:    end + 1,
				Signature:  sig,
				Parameters: bases,
				DocComment: pyDocstring(lines, i, end),
				Source:     strings.Join(lines[i:end+1], "\n"),
			})
			continue
		}

		m := pyDefRe.FindStringSubmatch(line)
		if m == nil {
			// A non-empty unindented line ends the current class scope.
			if line != "" && !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
				currentClass = ""
				classIndent = -1
			}
			continue
		}

		indent := len(m[1])
		name := m[2]
		params := splitParams(m[3])
		returnType := strings.TrimSpace(m[4])

		kind := entity.KindFunction
		parent := ""
		if currentClass != "" && indent > classIndent {
			kind = entity.KindMethod
			parent = currentClass
		}

		end := pyBlockEnd(lines, i, indent)
		sig := "def " + name + "(" + m[3] + ")"
		if returnType != "" {
			sig += " -> " + returnType
		}

		entities = append(entities, entity.CodeEntity{
			FilePath:   filePath,
			Name:       name,
			Kind:       kind,
			Language:   entity.LangPython,
			StartLine:  i + 1,
			EndLine:    end + 1,
			Signature:  sig,
			Parameters: params,
			ReturnType: returnType,
			Parent:     parent,
			DocComment: pyDocstring(lines, i, end),
			Source:     strings.Join(lines[i:end+1], "\n"),
		})
	}

	return entities, nil
}

// pyBlockEnd finds the last line of the block opened at start by
// scanning for the next non-empty line at or below the opening indent.
func pyBlockEnd(lines []string, start, indent int) int {
	end := start
	for j := start + 1; j < len(lines); j++ {
		line := lines[j]
		if strings.TrimSpace(line) == "" {
			continue
		}
		lineIndent := len(line) - len(strings.TrimLeft(line, " \t"))
		if lineIndent <= indent {
			break
		}
		end = j
	}
	return end
}

// pyDocstring returns the docstring of the block opened at start, if
// the first statement of its body is a string literal.
func pyDocstring(lines []string, start, end int) string {
	for j := start + 1; j <= end && j < len(lines); j++ {
		trimmed := strings.TrimSpace(lines[j])
		if trimmed == "" {
			continue
		}

		var quote string
		switch {
		case strings.HasPrefix(trimmed, `"""`):
			quote = `"""`
		case strings.HasPrefix(trimmed, `'''`):
			quote = `'''`
		default:
			return ""
		}

		body := strings.TrimPrefix(trimmed, quote)
		if idx := strings.Index(body, quote); idx >= 0 {
			return strings.TrimSpace(body[:idx])
		}

		// Multi-line docstring: collect until the closing quotes.
		parts := []string{body}
		for k := j + 1; k <= end && k < len(lines); k++ {
			line := strings.TrimSpace(lines[k])
			if idx := strings.Index(line, quote); idx >= 0 {
				parts = append(parts, line[:idx])
				return strings.TrimSpace(strings.Join(parts, "\n"))
			}
			parts = append(parts, line)
		}
		return ""
	}
	return ""
}

// splitParams splits a comma-separated parameter list, stripping type
// annotations and default values.
func splitParams(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	params := make([]string, 0)
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if idx := strings.IndexAny(p, ":="); idx >= 0 {
			p = strings.TrimSpace(p[:idx])
		}
		if p != "" {
			params = append(params, p)
		}
	}
	return params
}
