// Package annosearch provides a Bleve full-text index over annotations so
// highlights, questions, answers, and notes can be searched from the UI.
package annosearch

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"

	"github.com/margolab/margo/internal/models"
	"github.com/margolab/margo/internal/store"
)

// Hit is one search match.
type Hit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// indexDoc is the flattened shape of an annotation as the index sees it.
type indexDoc struct {
	Text     string `json:"text"`
	Question string `json:"question"`
	Response string `json:"response"`
	Note     string `json:"note"`
	Kind     string `json:"kind"`
	Page     int    `json:"page"`
}

// Index is an in-memory Bleve index over the annotation store. It stays in
// sync by listening to store events.
type Index struct {
	index bleve.Index
}

// New creates an empty in-memory index.
// The standard analyzer (lowercase + tokenize, no stemming) keeps exact-word
// queries matching; English stemming would make "bayes" miss "Bayesian".
func New() (*Index, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	for _, field := range []string{"text", "question", "response", "note"} {
		docMapping.AddFieldMappingsAt(field, textFieldMapping)
	}
	docMapping.AddFieldMappingsAt("kind", bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("annotation", docMapping)
	im.DefaultType = "annotation"
	im.DefaultMapping = docMapping

	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("create annotation index: %w", err)
	}
	return &Index{index: index}, nil
}

// Listener returns a store listener that mirrors store mutations into the
// index. Pass it to store.WithListener. Replace events carry no records; the
// caller follows up with Rebuild over the new contents.
func (ix *Index) Listener() func(store.Event) {
	return func(ev store.Event) {
		switch ev.Type {
		case store.EventAdded, store.EventNoteUpdated:
			_ = ix.Upsert(&ev.Annotation)
		case store.EventRemoved:
			_ = ix.Remove(ev.ID)
		}
	}
}

// Upsert indexes or re-indexes one annotation.
func (ix *Index) Upsert(ann *models.Annotation) error {
	doc := indexDoc{
		Text:     ann.Text,
		Question: ann.Question,
		Response: ann.Response,
		Note:     ann.Note,
		Kind:     string(ann.Kind),
		Page:     ann.Page,
	}
	if err := ix.index.Index(ann.ID, doc); err != nil {
		return fmt.Errorf("index annotation %s: %w", ann.ID, err)
	}
	return nil
}

// Remove drops one annotation from the index.
func (ix *Index) Remove(id string) error {
	if err := ix.index.Delete(id); err != nil {
		return fmt.Errorf("remove annotation %s: %w", id, err)
	}
	return nil
}

// Rebuild clears the index and re-indexes the given annotations. Used after
// a session import replaces the whole store.
func (ix *Index) Rebuild(anns []models.Annotation) error {
	ids, err := ix.allIDs()
	if err != nil {
		return err
	}
	batch := ix.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	for i := range anns {
		ann := &anns[i]
		if err := batch.Index(ann.ID, indexDoc{
			Text:     ann.Text,
			Question: ann.Question,
			Response: ann.Response,
			Note:     ann.Note,
			Kind:     string(ann.Kind),
			Page:     ann.Page,
		}); err != nil {
			return fmt.Errorf("index annotation %s: %w", ann.ID, err)
		}
	}
	if err := ix.index.Batch(batch); err != nil {
		return fmt.Errorf("rebuild annotation index: %w", err)
	}
	return nil
}

// Search runs a match query over all text fields and returns up to limit
// hits, best first.
func (ix *Index) Search(query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = limit
	results, err := ix.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("annotation search failed: %w", err)
	}
	hits := make([]Hit, len(results.Hits))
	for i, hit := range results.Hits {
		hits[i] = Hit{ID: hit.ID, Score: hit.Score}
	}
	return hits, nil
}

// Close releases index resources.
func (ix *Index) Close() error {
	return ix.index.Close()
}

func (ix *Index) allIDs() ([]string, error) {
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = 10000
	results, err := ix.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("enumerate index: %w", err)
	}
	ids := make([]string, len(results.Hits))
	for i, hit := range results.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}
