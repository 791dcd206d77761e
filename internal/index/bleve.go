package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/dshills/codesearch/pkg/entity"
)

// Bleve field names
const (
	fieldText     = "text"
	fieldRepoID   = "repo_id"
	fieldLanguage = "language"
	fieldKind     = "kind"
)

// lexicalDoc is the document shape stored in Bleve.
type lexicalDoc struct {
	Text     string `json:"text"`
	RepoID   string `json:"repo_id"`
	Language string `json:"language"`
	Kind     string `json:"kind"`
}

// BleveIndex implements LexicalIndex on a Bleve index.
type BleveIndex struct {
	index bleve.Index
}

// createIndexMapping builds the Bleve mapping: searchable text under
// the standard analyzer, filter fields as unanalyzed keywords.
func createIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = false
	docMapping.AddFieldMappingsAt(fieldText, textField)

	repoField := bleve.NewTextFieldMapping()
	repoField.Analyzer = keyword.Name
	repoField.Store = true
	docMapping.AddFieldMappingsAt(fieldRepoID, repoField)

	langField := bleve.NewTextFieldMapping()
	langField.Analyzer = keyword.Name
	langField.Store = true
	docMapping.AddFieldMappingsAt(fieldLanguage, langField)

	kindField := bleve.NewTextFieldMapping()
	kindField.Analyzer = keyword.Name
	kindField.Store = true
	docMapping.AddFieldMappingsAt(fieldKind, kindField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name

	return indexMapping
}

// NewBleveIndex opens the index at path, creating it if absent. An
// empty path builds an in-memory index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(createIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create in-memory index: %w", err)
		}
		return &BleveIndex{index: idx}, nil
	}

	idx, err := bleve.Open(path)
	if err != nil {
		idx, err = bleve.New(path, createIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index at %s: %w", path, err)
		}
	}
	return &BleveIndex{index: idx}, nil
}

// Upsert indexes entities by ID. Bleve's Index call replaces any
// previous document with the same ID.
func (b *BleveIndex) Upsert(ctx context.Context, entities []entity.CodeEntity) error {
	batch := b.index.NewBatch()
	for i := range entities {
		e := &entities[i]
		doc := lexicalDoc{
			Text:     e.SearchableText(),
			RepoID:   e.RepoID,
			Language: string(e.Language),
			Kind:     string(e.Kind),
		}
		if err := batch.Index(e.ID, doc); err != nil {
			return fmt.Errorf("batch index %s: %w", e.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("bleve batch: %w", err)
	}
	return nil
}

// Delete removes documents by ID. Deleting an unknown ID is a no-op.
func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("bleve delete batch: %w", err)
	}
	return nil
}

// QueryLexical ranks documents matching any query term, constrained by
// the filters.
func (b *BleveIndex) QueryLexical(ctx context.Context, terms []string, filters Filters, limit int) ([]Hit, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	textQuery := bleve.NewMatchQuery(strings.Join(terms, " "))
	textQuery.SetField(fieldText)

	searchQuery := buildBleveQuery(textQuery, filters)

	req := bleve.NewSearchRequestOptions(searchQuery, limit, 0, false)
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}

func buildBleveQuery(textQuery *query.MatchQuery, filters Filters) query.Query {
	must := []query.Query{textQuery}

	if filters.RepoID != "" {
		q := bleve.NewTermQuery(filters.RepoID)
		q.SetField(fieldRepoID)
		must = append(must, q)
	}
	if filters.Language != "" {
		q := bleve.NewTermQuery(string(filters.Language))
		q.SetField(fieldLanguage)
		must = append(must, q)
	}
	if len(filters.Kinds) > 0 {
		kindQueries := make([]query.Query, len(filters.Kinds))
		for i, k := range filters.Kinds {
			q := bleve.NewTermQuery(string(k))
			q.SetField(fieldKind)
			kindQueries[i] = q
		}
		must = append(must, bleve.NewDisjunctionQuery(kindQueries...))
	}

	if len(must) == 1 {
		return textQuery
	}
	return bleve.NewConjunctionQuery(must...)
}

// Close closes the underlying index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

var _ LexicalIndex = (*BleveIndex)(nil)
