package extractor

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dshills/codesearch/pkg/entity"
)

// ErrNoEntities is returned when neither structural extraction nor the
// regex fallback produced any entities for a file.
var ErrNoEntities = errors.New("no entities extracted")

// Extractor extracts code entities from a single source file. Implementations
// must be safe for concurrent use.
type Extractor interface {
	// Language identifies the language this extractor understands.
	Language() entity.Language

	// Extract parses source and emits one entity per declaration,
	// including nested declarations (a method inside a class yields both
	// the class and the method). Extracted entities carry no repository
	// identity; the caller assigns it.
	Extract(filePath string, source []byte) ([]entity.CodeEntity, error)
}

// extByLanguage maps file extensions to languages for all files the system
// recognizes, including those served only by the fallback extractor.
var extByLanguage = map[string]entity.Language{
	".go":   entity.LangGo,
	".py":   entity.LangPython,
	".pyw":  entity.LangPython,
	".js":   entity.LangJavaScript,
	".jsx":  entity.LangJavaScript,
	".mjs":  entity.LangJavaScript,
	".ts":   entity.LangTypeScript,
	".tsx":  entity.LangTypeScript,
	".rs":   entity.LangRust,
	".java": entity.LangJava,
	".c":    entity.LangC,
	".h":    entity.LangC,
	".cc":   entity.LangCPP,
	".cpp":  entity.LangCPP,
	".hpp":  entity.LangCPP,
}

// LanguageForFile returns the language for a file path based on its
// extension, or LangUnknown.
func LanguageForFile(path string) entity.Language {
	if lang, ok := extByLanguage[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return entity.LangUnknown
}

// Registry selects the structural extractor for a file at runtime and owns
// the universal fallback.
type Registry struct {
	byLang   map[entity.Language]Extractor
	fallback *Fallback
}

// NewRegistry creates a registry with all built-in structural extractors
// registered.
func NewRegistry() *Registry {
	r := &Registry{
		byLang:   make(map[entity.Language]Extractor),
		fallback: NewFallback(),
	}
	r.Register(NewGoExtractor())
	r.Register(NewPythonExtractor())
	r.Register(NewJavaScriptExtractor())
	return r
}

// Register adds a structural extractor, replacing any previous one for the
// same language.
func (r *Registry) Register(ex Extractor) {
	r.byLang[ex.Language()] = ex
}

// ForLanguage returns the structural extractor for a language, if any.
func (r *Registry) ForLanguage(lang entity.Language) (Extractor, bool) {
	// TypeScript shares the JavaScript extractor.
	if lang == entity.LangTypeScript {
		lang = entity.LangJavaScript
	}
	ex, ok := r.byLang[lang]
	return ex, ok
}

// Supported reports whether a file would produce entities through any
// strategy, structural or fallback.
func (r *Registry) Supported(path string) bool {
	return LanguageForFile(path) != entity.LangUnknown
}

// ExtractFile runs structural extraction for the file's language, falling
// back to the regex heuristic when structural parsing is unavailable or
// fails. A nil entity slice with ErrNoEntities means the file should be
// skipped with a warning, never that the repository run should abort.
func (r *Registry) ExtractFile(path string, source []byte) ([]entity.CodeEntity, error) {
	lang := LanguageForFile(path)
	if lang == entity.LangUnknown {
		return nil, fmt.Errorf("%w: unrecognized extension %q", ErrNoEntities, filepath.Ext(path))
	}

	if ex, ok := r.ForLanguage(lang); ok {
		entities, err := ex.Extract(path, source)
		if err == nil && len(entities) > 0 {
			// TypeScript is served by the JavaScript extractor; the
			// entities still carry the file's own language.
			for i := range entities {
				entities[i].Language = lang
			}
			return entities, nil
		}
		// Structural parsing failed or found nothing; try the fallback.
	}

	entities, err := r.fallback.ExtractLang(path, source, lang)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, ErrNoEntities
	}
	return entities, nil
}
