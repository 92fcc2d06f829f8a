package index

import (
	"context"
	"errors"
	"testing"

	"github.com/docquery-ai/docquery/models"
)

func buildEnsemble(t *testing.T, chunks []models.Chunk, opts EnsembleOptions) *Ensemble {
	t.Helper()
	emb := newStubEmbedder()
	lex, err := BuildLexical(chunks)
	if err != nil {
		t.Fatalf("BuildLexical failed: %v", err)
	}
	t.Cleanup(func() { lex.Close() })
	sem, err := BuildSemantic(context.Background(), chunks, emb)
	if err != nil {
		t.Fatalf("BuildSemantic failed: %v", err)
	}
	return NewEnsemble(lex, sem, emb, chunks, opts)
}

func ensembleChunks() []models.Chunk {
	return []models.Chunk{
		{ID: 0, SourceRef: "doc", Text: "The policy covers hospital stays after an accident."},
		{ID: 1, SourceRef: "doc", Text: "Premium payments can be made online every month."},
		{ID: 2, SourceRef: "doc", Text: "A claim must reference the hospital admission papers."},
		{ID: 3, SourceRef: "doc", Text: "Grace periods extend premium due dates by fifteen days."},
	}
}

func TestEnsemble_ResultLengthAndOrdering(t *testing.T) {
	ens := buildEnsemble(t, ensembleChunks(), EnsembleOptions{})

	results, err := ens.Retrieve(context.Background(), "hospital claim", 2)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		prev, cur := results[i-1], results[i]
		if cur.Score > prev.Score {
			t.Errorf("results not sorted by descending score at position %d", i)
		}
		if cur.Score == prev.Score && cur.Chunk.ID < prev.Chunk.ID {
			t.Errorf("tie at position %d not broken by lowest chunk ID", i)
		}
	}
	for i, r := range results {
		if r.Rank != i+1 {
			t.Errorf("result %d rank = %d", i, r.Rank)
		}
		if r.Chunk.Text == "" {
			t.Errorf("result %d lost its chunk text", i)
		}
	}
}

func TestEnsemble_TopKExceedsCorpus(t *testing.T) {
	chunks := ensembleChunks()
	ens := buildEnsemble(t, chunks, EnsembleOptions{})
	results, err := ens.Retrieve(context.Background(), "premium hospital policy claim", 50)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) > len(chunks) {
		t.Errorf("got %d results for a %d-chunk corpus", len(results), len(chunks))
	}
}

func TestEnsemble_SingleSideContribution(t *testing.T) {
	// "online" exists in the stub embedder vocabulary and chunk 1's text, so
	// a purely semantic-weighted retriever must still surface it.
	ens := buildEnsemble(t, ensembleChunks(), EnsembleOptions{LexicalWeight: 0, SemanticWeight: 1})
	results, err := ens.Retrieve(context.Background(), "online", 1)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ID != 1 {
		t.Fatalf("expected chunk 1 from semantic side alone, got %+v", results)
	}
}

func TestEnsemble_Uninitialized(t *testing.T) {
	var ens *Ensemble
	_, err := ens.Retrieve(context.Background(), "anything", 3)
	if !errors.Is(err, ErrRetrieverUninitialized) {
		t.Errorf("nil ensemble: want ErrRetrieverUninitialized, got %v", err)
	}

	partial := &Ensemble{}
	_, err = partial.Retrieve(context.Background(), "anything", 3)
	if !errors.Is(err, ErrRetrieverUninitialized) {
		t.Errorf("empty ensemble: want ErrRetrieverUninitialized, got %v", err)
	}
}

func TestEnsemble_EmbedderFailurePropagates(t *testing.T) {
	chunks := ensembleChunks()
	emb := newStubEmbedder()
	lex, err := BuildLexical(chunks)
	if err != nil {
		t.Fatalf("BuildLexical failed: %v", err)
	}
	defer lex.Close()
	sem, err := BuildSemantic(context.Background(), chunks, emb)
	if err != nil {
		t.Fatalf("BuildSemantic failed: %v", err)
	}
	emb.err = errors.New("embedding service down")
	ens := NewEnsemble(lex, sem, emb, chunks, EnsembleOptions{})
	if _, err := ens.Retrieve(context.Background(), "hospital", 2); err == nil {
		t.Error("expected embedding failure to propagate")
	}
}
