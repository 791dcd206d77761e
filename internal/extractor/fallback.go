package extractor

import (
	"regexp"
	"strings"

	"github.com/dshills/codesearch/pkg/entity"
)

// fallbackPattern pairs a declaration regex with the kind it yields.
// The name group index identifies which capture holds the entity name.
type fallbackPattern struct {
	re   *regexp.Regexp
	kind entity.Kind
	name int
}

// fallbackPatterns holds per-language declaration heuristics used when no
// structural extractor is available or structural parsing found nothing.
var fallbackPatterns = map[entity.Language][]fallbackPattern{
	entity.LangGo: {
		{regexp.MustCompile(`^func\s+\(\w+\s+\*?(\w+)\)\s+(\w+)\s*\(`), entity.KindMethod, 2},
		{regexp.MustCompile(`^func\s+(\w+)\s*\(`), entity.KindFunction, 1},
		{regexp.MustCompile(`^type\s+(\w+)\s+struct\b`), entity.KindStruct, 1},
		{regexp.MustCompile(`^type\s+(\w+)\s+interface\b`), entity.KindInterface, 1},
	},
	entity.LangPython: {
		{regexp.MustCompile(`^\s*def\s+(\w+)\s*\(`), entity.KindFunction, 1},
		{regexp.MustCompile(`^\s*class\s+(\w+)`), entity.KindClass, 1},
	},
	entity.LangJavaScript: {
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s+(\w+)\s*\(`), entity.KindFunction, 1},
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s+)?\([^)]*\)\s*=>`), entity.KindFunction, 1},
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?class\s+(\w+)`), entity.KindClass, 1},
	},
	entity.LangRust: {
		{regexp.MustCompile(`^\s*(?:pub\s+)?(?:async\s+)?fn\s+(\w+)\s*(?:<[^>]*>)?\s*\(`), entity.KindFunction, 1},
		{regexp.MustCompile(`^\s*(?:pub\s+)?struct\s+(\w+)`), entity.KindStruct, 1},
		{regexp.MustCompile(`^\s*(?:pub\s+)?enum\s+(\w+)`), entity.KindEnum, 1},
		{regexp.MustCompile(`^\s*(?:pub\s+)?trait\s+(\w+)`), entity.KindTrait, 1},
	},
	entity.LangJava: {
		{regexp.MustCompile(`^\s*(?:public\s+|private\s+|protected\s+)?(?:abstract\s+|final\s+)?class\s+(\w+)`), entity.KindClass, 1},
		{regexp.MustCompile(`^\s*(?:public\s+|private\s+|protected\s+)?interface\s+(\w+)`), entity.KindInterface, 1},
		{regexp.MustCompile(`^\s*(?:public\s+|private\s+|protected\s+)?(?:static\s+)?(?:final\s+)?[\w<>\[\],\s]+\s+(\w+)\s*\([^;]*\)\s*\{`), entity.KindMethod, 1},
	},
	entity.LangC: {
		{regexp.MustCompile(`^\w[\w\s\*]*\s\*?(\w+)\s*\([^;]*\)\s*\{?\s*$`), entity.KindFunction, 1},
		{regexp.MustCompile(`^\s*(?:typedef\s+)?struct\s+(\w+)`), entity.KindStruct, 1},
	},
	entity.LangCPP: {
		{regexp.MustCompile(`^\s*class\s+(\w+)`), entity.KindClass, 1},
		{regexp.MustCompile(`^\s*(?:typedef\s+)?struct\s+(\w+)`), entity.KindStruct, 1},
		{regexp.MustCompile(`^\w[\w\s\*:<>~]*\s\*?(\w+)\s*\([^;]*\)\s*\{?\s*$`), entity.KindFunction, 1},
	},
}

// Fallback is the universal regex extractor of last resort. It yields
// declaration names and line numbers only, with the declaration line as
// both signature and source.
type Fallback struct{}

// NewFallback creates the fallback extractor.
func NewFallback() *Fallback {
	return &Fallback{}
}

// ExtractLang scans source for declaration lines matching the heuristics
// for lang. Languages with no pattern set produce no entities.
func (f *Fallback) ExtractLang(filePath string, source []byte, lang entity.Language) ([]entity.CodeEntity, error) {
	patternLang := lang
	if patternLang == entity.LangTypeScript {
		patternLang = entity.LangJavaScript
	}
	patterns, ok := fallbackPatterns[patternLang]
	if !ok {
		return nil, nil
	}

	lines := strings.Split(string(source), "\n")
	entities := make([]entity.CodeEntity, 0)

	for i, line := range lines {
		for _, p := range patterns {
			m := p.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}

			ent := entity.CodeEntity{
				FilePath:  filePath,
				Name:      m[p.name],
				Kind:      p.kind,
				Language:  lang,
				StartLine: i + 1,
				EndLine:   i + 1,
				Signature: strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), "{")),
				Source:    line,
			}
			if p.kind == entity.KindMethod && lang == entity.LangGo {
				ent.Parent = m[1]
			}

			entities = append(entities, ent)
			break
		}
	}

	return entities, nil
}
