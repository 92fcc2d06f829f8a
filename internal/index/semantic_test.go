package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/docquery-ai/docquery/models"
)

// stubEmbedder produces deterministic bag-of-words vectors over a fixed
// vocabulary so similarity behaves predictably without a network call.
type stubEmbedder struct {
	vocab []string
	err   error
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{vocab: []string{"policy", "premium", "claim", "hospital", "accident", "online"}}
}

func (s *stubEmbedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(s.vocab))
		lower := strings.ToLower(t)
		for j, w := range s.vocab {
			v[j] = float32(strings.Count(lower, w))
		}
		vecs[i] = v
	}
	return vecs, nil
}

func TestSemantic_BuildAndSearch(t *testing.T) {
	chunks := []models.Chunk{
		{ID: 0, Text: "policy policy premium"},
		{ID: 1, Text: "claim hospital accident"},
		{ID: 2, Text: "online premium payment"},
	}
	emb := newStubEmbedder()
	sem, err := BuildSemantic(context.Background(), chunks, emb)
	if err != nil {
		t.Fatalf("BuildSemantic failed: %v", err)
	}
	if sem.Dimension() != len(emb.vocab) {
		t.Fatalf("dimension = %d, want %d", sem.Dimension(), len(emb.vocab))
	}

	qvecs, _ := emb.CreateEmbedding(context.Background(), []string{"hospital claim"})
	hits, err := sem.Search(qvecs[0], 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ChunkID != 1 {
		t.Errorf("nearest chunk = %d, want 1", hits[0].ChunkID)
	}
}

func TestSemantic_SearchKExceedsCorpus(t *testing.T) {
	chunks := []models.Chunk{{ID: 0, Text: "policy"}}
	sem, err := BuildSemantic(context.Background(), chunks, newStubEmbedder())
	if err != nil {
		t.Fatalf("BuildSemantic failed: %v", err)
	}
	qvecs, _ := newStubEmbedder().CreateEmbedding(context.Background(), []string{"policy"})
	hits, err := sem.Search(qvecs[0], 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("expected 1 hit, got %d", len(hits))
	}
}

func TestSemantic_SearchDimensionMismatch(t *testing.T) {
	chunks := []models.Chunk{
		{ID: 0, Text: "policy premium"},
		{ID: 1, Text: "claim hospital"},
	}
	sem, err := BuildSemantic(context.Background(), chunks, newStubEmbedder())
	if err != nil {
		t.Fatalf("BuildSemantic failed: %v", err)
	}

	if _, err := sem.Search([]float32{1, 0, 1}, 2); !errors.Is(err, ErrIndexCorrupt) {
		t.Errorf("short query vector: want ErrIndexCorrupt, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "semantic.json")
	if err := sem.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := LoadSemantic(path, 0)
	if err != nil {
		t.Fatalf("LoadSemantic failed: %v", err)
	}
	if _, err := loaded.Search([]float32{1, 0, 1}, 2); !errors.Is(err, ErrIndexCorrupt) {
		t.Errorf("reloaded index with short query vector: want ErrIndexCorrupt, got %v", err)
	}
}

func TestSemantic_SaveLoadRoundTrip(t *testing.T) {
	chunks := []models.Chunk{
		{ID: 0, Text: "policy premium"},
		{ID: 1, Text: "claim hospital"},
	}
	emb := newStubEmbedder()
	sem, err := BuildSemantic(context.Background(), chunks, emb)
	if err != nil {
		t.Fatalf("BuildSemantic failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "semantic.json")
	if err := sem.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadSemantic(path, len(emb.vocab))
	if err != nil {
		t.Fatalf("LoadSemantic failed: %v", err)
	}
	qvecs, _ := emb.CreateEmbedding(context.Background(), []string{"hospital"})
	orig, err := sem.Search(qvecs[0], 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	got, err := loaded.Search(qvecs[0], 2)
	if err != nil {
		t.Fatalf("Search on reloaded index failed: %v", err)
	}
	if len(orig) != len(got) {
		t.Fatalf("hit counts differ: %d vs %d", len(orig), len(got))
	}
	for i := range orig {
		if orig[i].ChunkID != got[i].ChunkID {
			t.Errorf("position %d: chunk %d vs %d after reload", i, orig[i].ChunkID, got[i].ChunkID)
		}
	}
}

func TestSemantic_LoadDimensionMismatch(t *testing.T) {
	chunks := []models.Chunk{{ID: 0, Text: "policy"}}
	sem, err := BuildSemantic(context.Background(), chunks, newStubEmbedder())
	if err != nil {
		t.Fatalf("BuildSemantic failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "semantic.json")
	if err := sem.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	_, err = LoadSemantic(path, 999)
	if !errors.Is(err, ErrIndexCorrupt) {
		t.Errorf("want ErrIndexCorrupt for dimension mismatch, got %v", err)
	}
}

func TestSemantic_LoadGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "semantic.json")
	if err := os.WriteFile(path, []byte("not json at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSemantic(path, 6); !errors.Is(err, ErrIndexCorrupt) {
		t.Errorf("want ErrIndexCorrupt for garbage file, got %v", err)
	}
	if _, err := LoadSemantic(filepath.Join(t.TempDir(), "missing.json"), 6); !errors.Is(err, ErrIndexCorrupt) {
		t.Errorf("want ErrIndexCorrupt for missing file, got %v", err)
	}
}
