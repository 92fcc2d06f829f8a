package index

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve"

	"github.com/docquery-ai/docquery/models"
)

// Lexical is a term-frequency ranked index over preprocessed chunk text.
// Read-only once built; safe for concurrent searches.
type Lexical struct {
	idx bleve.Index
}

type lexicalDoc struct {
	Text string `json:"text"`
}

// BuildLexical indexes every chunk under its chunk ID. Chunk text passes
// through the same Preprocess pipeline queries do.
func BuildLexical(chunks []models.Chunk) (*Lexical, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating lexical index: %w", err)
	}
	for _, c := range chunks {
		doc := lexicalDoc{Text: strings.Join(Preprocess(c.Text), " ")}
		if err := idx.Index(strconv.Itoa(c.ID), doc); err != nil {
			return nil, fmt.Errorf("indexing chunk %d: %w", c.ID, err)
		}
	}
	return &Lexical{idx: idx}, nil
}

// Search returns up to k chunk IDs ranked by score, ties broken by lowest
// chunk ID. A query with no indexable tokens returns no hits, not an error.
func (l *Lexical) Search(query string, k int) ([]models.SearchHit, error) {
	tokens := Preprocess(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	q := bleve.NewMatchQuery(strings.Join(tokens, " "))
	req := bleve.NewSearchRequestOptions(q, k, 0, false)
	res, err := l.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	hits := make([]models.SearchHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		id, err := strconv.Atoi(h.ID)
		if err != nil {
			continue
		}
		hits = append(hits, models.SearchHit{ChunkID: id, Score: h.Score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	for i := range hits {
		hits[i].Rank = i + 1
	}
	return hits, nil
}

// Close releases the underlying bleve index.
func (l *Lexical) Close() error {
	return l.idx.Close()
}
