package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind represents the type of an indexed code entity.
type Kind string

const (
	KindFunction  Kind = "function"
	KindMethod    Kind = "method"
	KindClass     Kind = "class"
	KindStruct    Kind = "struct"
	KindEnum      Kind = "enum"
	KindTrait     Kind = "trait"
	KindInterface Kind = "interface"
)

// Language identifies the source language an entity was extracted from.
type Language string

const (
	LangGo         Language = "go"
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangRust       Language = "rust"
	LangJava       Language = "java"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
	LangUnknown    Language = "unknown"
)

// idNamespace is the UUID namespace for deterministic entity IDs.
// Changing it invalidates every stored entity ID.
var idNamespace = uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")

// CodeEntity is one indexed unit of code.
type CodeEntity struct {
	// Identity
	ID       string
	RepoID   string
	FilePath string
	Name     string

	// Classification
	Kind     Kind
	Language Language

	// Location
	StartLine int
	EndLine   int

	// Content
	Signature  string
	DocComment string
	Parent     string // Enclosing context, e.g. the class a method belongs to
	Parameters []string
	ReturnType string
	Source     string

	// Derived
	ContentHash string    // SHA-256 of the canonical searchable text
	Vector      []float32 // nil when embedding failed or is pending
}

// DeriveID computes the deterministic entity ID for the given identity
// tuple. The ID is a namespace UUID, which keeps re-indexing idempotent and
// satisfies vector backends that require UUID point IDs.
func DeriveID(repoID, filePath, name string, startLine int) string {
	key := fmt.Sprintf("%s|%s|%s|%d", repoID, filePath, name, startLine)
	return uuid.NewSHA1(idNamespace, []byte(key)).String()
}

// ComputeID fills in the entity's ID from its identity fields.
func (e *CodeEntity) ComputeID() {
	e.ID = DeriveID(e.RepoID, e.FilePath, e.Name, e.StartLine)
}

// SearchableText builds the canonical text representation used for both
// embedding and lexical indexing. The name and signature lead because they
// carry the most discriminative meaning for search; the doc comment follows
// for semantic context.
func (e *CodeEntity) SearchableText() string {
	parts := make([]string, 0, 8)

	parts = append(parts, e.Name)

	switch e.Kind {
	case KindFunction, KindMethod:
		parts = append(parts, "function")
	case KindClass, KindStruct:
		parts = append(parts, string(e.Kind))
	}

	if e.Signature != "" {
		parts = append(parts, e.Signature)
	}
	if len(e.Parameters) > 0 {
		parts = append(parts, "parameters: "+strings.Join(e.Parameters, " "))
	}
	if e.DocComment != "" {
		parts = append(parts, strings.TrimSpace(e.DocComment))
	}
	if e.ReturnType != "" {
		parts = append(parts, "returns "+e.ReturnType)
	}
	if e.Parent != "" {
		parts = append(parts, "method of "+e.Parent)
	}

	return strings.Join(parts, " ")
}

// ComputeContentHash canonicalizes the searchable text and stores its
// SHA-256 hex digest for embedding-cache lookups.
func (e *CodeEntity) ComputeContentHash() string {
	e.ContentHash = HashText(CanonicalizeText(e.SearchableText()))
	return e.ContentHash
}

// HashText returns the SHA-256 hex digest of text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// CanonicalizeText collapses all whitespace runs to single spaces so that
// formatting-only changes do not invalidate cached embeddings.
func CanonicalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ValidateKind checks that the entity kind is one of the indexed kinds.
func (e *CodeEntity) ValidateKind() error {
	switch e.Kind {
	case KindFunction, KindMethod, KindClass, KindStruct, KindEnum, KindTrait, KindInterface:
		return nil
	default:
		return fmt.Errorf("invalid entity kind: %q", e.Kind)
	}
}

// Validate performs comprehensive validation of the entity.
func (e *CodeEntity) Validate() error {
	if e.Name == "" {
		return errors.New("entity name is required")
	}
	if e.RepoID == "" {
		return errors.New("repository id is required")
	}
	if e.FilePath == "" {
		return errors.New("file path is required")
	}
	if err := e.ValidateKind(); err != nil {
		return err
	}
	if e.StartLine <= 0 || e.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}
	if e.StartLine > e.EndLine {
		return errors.New("start line must be before or equal to end line")
	}
	if e.Kind == KindMethod && e.Parent == "" {
		return errors.New("methods must have an enclosing context")
	}
	return nil
}

// LineCount returns the number of source lines the entity spans.
func (e *CodeEntity) LineCount() int {
	return e.EndLine - e.StartLine + 1
}
