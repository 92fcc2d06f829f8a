package index

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/docquery-ai/docquery/models"
)

// ErrRetrieverUninitialized signals that retrieval ran before the index pair
// for the active document was built. This is an ordering bug in the caller,
// not a recoverable condition.
var ErrRetrieverUninitialized = errors.New("retriever not initialized")

const rrfK = 60 // reciprocal-rank-fusion constant

// EnsembleOptions tune the fusion of the two sub-rankings.
type EnsembleOptions struct {
	LexicalWeight     float64
	SemanticWeight    float64
	CandidateMultiple int // per-index fan-in = topK * CandidateMultiple
}

func (o EnsembleOptions) normalized() EnsembleOptions {
	if o.LexicalWeight <= 0 && o.SemanticWeight <= 0 {
		o.LexicalWeight, o.SemanticWeight = 0.5, 0.5
	}
	total := o.LexicalWeight + o.SemanticWeight
	o.LexicalWeight /= total
	o.SemanticWeight /= total
	if o.CandidateMultiple < 1 {
		o.CandidateMultiple = 2
	}
	return o
}

// Ensemble fuses lexical and semantic rankings into one ranked list per
// query via weighted reciprocal-rank fusion. Read-only after construction;
// safe for concurrent Retrieve calls.
type Ensemble struct {
	lexical  *Lexical
	semantic *Semantic
	embedder Embedder
	chunks   map[int]models.Chunk
	opts     EnsembleOptions
}

// NewEnsemble wires both indices over the same chunk set.
func NewEnsemble(lexical *Lexical, semantic *Semantic, embedder Embedder, chunks []models.Chunk, opts EnsembleOptions) *Ensemble {
	byID := make(map[int]models.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}
	return &Ensemble{
		lexical:  lexical,
		semantic: semantic,
		embedder: embedder,
		chunks:   byID,
		opts:     opts.normalized(),
	}
}

// Retrieve returns up to topK chunks ranked by combined score. Each
// sub-ranking contributes weight * 1/(rrfK+rank); a chunk seen by only one
// side keeps that side's contribution alone. Ties break on lowest chunk ID.
func (e *Ensemble) Retrieve(ctx context.Context, query string, topK int) ([]models.RetrievalResult, error) {
	if e == nil || e.lexical == nil || e.semantic == nil || e.embedder == nil {
		return nil, ErrRetrieverUninitialized
	}
	if topK <= 0 {
		return nil, nil
	}

	candidates := topK * e.opts.CandidateMultiple

	lexHits, err := e.lexical.Search(query, candidates)
	if err != nil {
		return nil, fmt.Errorf("lexical side: %w", err)
	}

	qvecs, err := e.embedder.CreateEmbedding(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(qvecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(qvecs))
	}
	semHits, err := e.semantic.Search(qvecs[0], candidates)
	if err != nil {
		return nil, fmt.Errorf("semantic side: %w", err)
	}

	fused := map[int]float64{}
	accumulate := func(hits []models.SearchHit, weight float64) {
		for _, h := range hits {
			fused[h.ChunkID] += weight / float64(rrfK+h.Rank)
		}
	}
	accumulate(lexHits, e.opts.LexicalWeight)
	accumulate(semHits, e.opts.SemanticWeight)

	ids := make([]int, 0, len(fused))
	for id := range fused {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if fused[ids[i]] != fused[ids[j]] {
			return fused[ids[i]] > fused[ids[j]]
		}
		return ids[i] < ids[j]
	})

	if topK > len(ids) {
		topK = len(ids)
	}
	results := make([]models.RetrievalResult, 0, topK)
	for i := 0; i < topK; i++ {
		results = append(results, models.RetrievalResult{
			Chunk: e.chunks[ids[i]],
			Score: fused[ids[i]],
			Rank:  i + 1,
		})
	}
	return results, nil
}
