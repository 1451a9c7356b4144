package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/kagami/internal/models"
)

const (
	fieldName        = "name"
	fieldType        = "type"
	fieldCountry     = "country"
	fieldDescription = "description"
	fieldSpecs       = "technical_specs"
	fieldInService   = "in_service"

	rebuildPageSize = 200
)

// textFields are searched by EntityQuery.Text.
var textFields = []string{fieldName, fieldType, fieldCountry, fieldDescription, fieldSpecs}

// BleveIndex implements EntityIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path keeps the index in
// memory, which is then rebuilt from the store on every start.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := newEntityMapping()
	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func newEntityMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer lowercases and tokenizes without stemming, so "leo" stays a prefix
	// of "leopard".
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	for _, f := range textFields {
		docMapping.AddFieldMappingsAt(f, textFieldMapping)
	}
	docMapping.AddFieldMappingsAt(fieldInService, bleve.NewBooleanFieldMapping())

	im.AddDocumentMapping("entity", docMapping)
	im.DefaultType = "entity"
	im.DefaultMapping = docMapping
	return im
}

// entityDoc flattens e into the indexed fields.
func entityDoc(e *models.Entity) map[string]interface{} {
	return map[string]interface{}{
		fieldName:        e.Name,
		fieldType:        e.Type,
		fieldCountry:     e.Country,
		fieldDescription: e.Description,
		fieldSpecs:       flattenSpecs(e.TechnicalSpecs),
		fieldInService:   e.InService,
	}
}

// flattenSpecs renders specs as "key value" pairs in key order so both keys and values
// are searchable.
func flattenSpecs(specs map[string]interface{}) string {
	if len(specs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(specs))
	for k := range specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s %v", k, specs[k])
	}
	return b.String()
}

// Index adds or replaces the entity's document.
func (b *BleveIndex) Index(ctx context.Context, e *models.Entity) error {
	return b.index.Index(e.ID, entityDoc(e))
}

// Delete removes an entity from the index. Unknown ids are not an error.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// Rebuild indexes every entity from src in batches and returns how many were indexed.
func (b *BleveIndex) Rebuild(ctx context.Context, src EntitySource) (int, error) {
	total := 0
	for offset := 0; ; offset += rebuildPageSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		page, err := src.ListEntities(ctx, offset, rebuildPageSize)
		if err != nil {
			return total, fmt.Errorf("failed to list entities: %w", err)
		}
		if len(page) == 0 {
			return total, nil
		}
		batch := b.index.NewBatch()
		for _, e := range page {
			if err := batch.Index(e.ID, entityDoc(e)); err != nil {
				return total, fmt.Errorf("failed to index entity %s: %w", e.ID, err)
			}
		}
		if err := b.index.Batch(batch); err != nil {
			return total, fmt.Errorf("Bleve batch failed: %w", err)
		}
		total += len(page)
		if len(page) < rebuildPageSize {
			return total, nil
		}
	}
}

// Search returns one page of entities matching q, best score first and by id on ties.
func (b *BleveIndex) Search(ctx context.Context, q *EntityQuery, offset, limit int) (*SearchResult, error) {
	req := bleve.NewSearchRequestOptions(buildQuery(q), limit, offset, false)
	req.SortBy([]string{"-_score", "_id"})
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := &SearchResult{Hits: make([]*Hit, len(results.Hits)), Total: results.Total}
	for i, hit := range results.Hits {
		out.Hits[i] = &Hit{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// buildQuery ANDs every constraint in q. Each field constraint requires all of its words.
func buildQuery(q *EntityQuery) blevequery.Query {
	if q.IsZero() {
		return bleve.NewMatchAllQuery()
	}
	var must []blevequery.Query
	if q.Text != "" {
		must = append(must, wordsQuery(q.Text, textFields...))
	}
	for field, value := range map[string]string{
		fieldName:        q.Name,
		fieldType:        q.Type,
		fieldCountry:     q.Country,
		fieldDescription: q.Description,
	} {
		if value != "" {
			must = append(must, wordsQuery(value, field))
		}
	}
	if q.InService != nil {
		bq := bleve.NewBoolFieldQuery(*q.InService)
		bq.SetField(fieldInService)
		must = append(must, bq)
	}
	return bleve.NewConjunctionQuery(must...)
}

// wordsQuery requires every word of value to match in at least one of fields, either as an
// analyzed match or as a prefix of an indexed term.
func wordsQuery(value string, fields ...string) blevequery.Query {
	terms := tokenizeQuery(value)
	if len(terms) == 0 {
		return bleve.NewMatchNoneQuery()
	}
	perTerm := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		alternatives := make([]blevequery.Query, 0, 2*len(fields))
		for _, field := range fields {
			mq := bleve.NewMatchQuery(term)
			mq.SetField(field)
			mq.SetOperator(blevequery.MatchQueryOperatorAnd)
			alternatives = append(alternatives, mq)

			pq := bleve.NewPrefixQuery(term)
			pq.SetField(field)
			alternatives = append(alternatives, pq)
		}
		perTerm = append(perTerm, bleve.NewDisjunctionQuery(alternatives...))
	}
	return bleve.NewConjunctionQuery(perTerm...)
}

// tokenizeQuery splits query into lowercase terms, filtering out empty strings.
func tokenizeQuery(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w != "" {
			terms = append(terms, w)
		}
	}
	return terms
}

// DocCount returns the total number of documents in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
