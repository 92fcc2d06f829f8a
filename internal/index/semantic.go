package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/docquery-ai/docquery/models"
)

// ErrIndexCorrupt is returned when a persisted semantic index cannot be read
// back or its dimensionality disagrees with the current embedder. The caller
// is expected to rebuild from scratch rather than crash.
var ErrIndexCorrupt = errors.New("semantic index corrupt")

const semanticIndexVersion = 1

// embedBatchSize bounds how many chunk texts go to the embedding service per call.
const embedBatchSize = 64

// Embedder maps texts to fixed-dimension vectors.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Semantic is a flat cosine-similarity index over chunk embeddings. For a
// single document's chunk set an exact scan is both small and deterministic.
// Read-only once built; safe for concurrent searches.
type Semantic struct {
	dim     int
	ids     []int
	vectors [][]float32
}

type semanticEnvelope struct {
	Version   int         `json:"version"`
	Dimension int         `json:"dimension"`
	IDs       []int       `json:"ids"`
	Vectors   [][]float32 `json:"vectors"`
}

// BuildSemantic embeds every chunk's text and assembles the index. Embedding
// calls are batched; a failed batch fails the build.
func BuildSemantic(ctx context.Context, chunks []models.Chunk, embedder Embedder) (*Semantic, error) {
	s := &Semantic{}
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		vecs, err := embedder.CreateEmbedding(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding chunks %d-%d: %w", start, end-1, err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
		}
		for i, v := range vecs {
			if s.dim == 0 {
				s.dim = len(v)
			}
			if len(v) != s.dim {
				return nil, fmt.Errorf("embedder returned inconsistent dimensions: %d and %d", s.dim, len(v))
			}
			s.ids = append(s.ids, chunks[start+i].ID)
			s.vectors = append(s.vectors, v)
		}
	}
	return s, nil
}

// Dimension reports the embedding dimensionality of the index.
func (s *Semantic) Dimension() int { return s.dim }

// Search returns the k chunks nearest to the query vector under cosine
// similarity, ties broken by lowest chunk ID. A query vector whose
// dimensionality disagrees with the index means the embedding model changed
// since the index was built; that surfaces as ErrIndexCorrupt so callers
// rebuild instead of scoring garbage.
func (s *Semantic) Search(queryVec []float32, k int) ([]models.SearchHit, error) {
	if s.dim > 0 && len(queryVec) != s.dim {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d", ErrIndexCorrupt, len(queryVec), s.dim)
	}
	type scored struct {
		id    int
		score float64
	}
	scoreds := make([]scored, 0, len(s.ids))
	for i, v := range s.vectors {
		scoreds = append(scoreds, scored{id: s.ids[i], score: cosine(queryVec, v)})
	}
	sort.Slice(scoreds, func(i, j int) bool {
		if scoreds[i].score != scoreds[j].score {
			return scoreds[i].score > scoreds[j].score
		}
		return scoreds[i].id < scoreds[j].id
	})
	if k > len(scoreds) {
		k = len(scoreds)
	}
	hits := make([]models.SearchHit, 0, k)
	for i := 0; i < k; i++ {
		hits = append(hits, models.SearchHit{ChunkID: scoreds[i].id, Score: scoreds[i].score, Rank: i + 1})
	}
	return hits, nil
}

// Save persists the index so embeddings need not be recomputed on reload.
func (s *Semantic) Save(path string) error {
	env := semanticEnvelope{
		Version:   semanticIndexVersion,
		Dimension: s.dim,
		IDs:       s.ids,
		Vectors:   s.vectors,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding semantic index: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing semantic index: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadSemantic reloads a persisted index. Any unreadable payload or a
// dimensionality that disagrees with wantDim yields ErrIndexCorrupt.
// Pass wantDim 0 to accept whatever dimension was persisted.
func LoadSemantic(path string, wantDim int) (*Semantic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}
	var env semanticEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}
	if env.Version != semanticIndexVersion {
		return nil, fmt.Errorf("%w: unknown version %d", ErrIndexCorrupt, env.Version)
	}
	if len(env.IDs) != len(env.Vectors) {
		return nil, fmt.Errorf("%w: %d ids for %d vectors", ErrIndexCorrupt, len(env.IDs), len(env.Vectors))
	}
	if wantDim > 0 && env.Dimension != wantDim {
		return nil, fmt.Errorf("%w: persisted dimension %d, embedder dimension %d", ErrIndexCorrupt, env.Dimension, wantDim)
	}
	for _, v := range env.Vectors {
		if len(v) != env.Dimension {
			return nil, fmt.Errorf("%w: vector dimension %d, expected %d", ErrIndexCorrupt, len(v), env.Dimension)
		}
	}
	return &Semantic{dim: env.Dimension, ids: env.IDs, vectors: env.Vectors}, nil
}

// MergeSemantic combines per-document indices into one, shifting each part's
// chunk IDs by the matching offset so they stay unique in the merged corpus.
func MergeSemantic(parts []*Semantic, offsets []int) (*Semantic, error) {
	if len(parts) != len(offsets) {
		return nil, fmt.Errorf("%d parts with %d offsets", len(parts), len(offsets))
	}
	merged := &Semantic{}
	for i, p := range parts {
		if p == nil || len(p.ids) == 0 {
			continue
		}
		if merged.dim == 0 {
			merged.dim = p.dim
		}
		if p.dim != merged.dim {
			return nil, fmt.Errorf("%w: mixed dimensions %d and %d", ErrIndexCorrupt, merged.dim, p.dim)
		}
		for j, id := range p.ids {
			merged.ids = append(merged.ids, id+offsets[i])
			merged.vectors = append(merged.vectors, p.vectors[j])
		}
	}
	return merged, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
