package cache

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docquery-ai/docquery/models"
)

func quietLogger() *log.Logger {
	return log.New(os.Stderr, "[TEST] ", 0)
}

func samplePayload() DocumentPayload {
	return DocumentPayload{
		Chunks: []models.Chunk{
			{ID: 0, SourceRef: "policy.pdf", Text: "some chunk text"},
		},
		SemanticIndexFile: "policy.semantic.json",
		EmbeddingDim:      6,
	}
}

func TestDocumentCache_TTLWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "documents.json")
	c := OpenDocumentCache(path, DefaultDocumentTTL, quietLogger())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	c.Put("policy.pdf", samplePayload())

	c.now = func() time.Time { return base.Add(24 * time.Hour) }
	if _, ok := c.Get("policy.pdf"); !ok {
		t.Error("entry one day old should still be cached")
	}

	c.now = func() time.Time { return base.Add(8 * 24 * time.Hour) }
	if _, ok := c.Get("policy.pdf"); ok {
		t.Error("entry eight days old should have expired")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not evicted, len = %d", c.Len())
	}
}

func TestDocumentCache_PersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "documents.json")
	c := OpenDocumentCache(path, DefaultDocumentTTL, quietLogger())
	c.Put("policy.pdf", samplePayload())

	reopened := OpenDocumentCache(path, DefaultDocumentTTL, quietLogger())
	payload, ok := reopened.Get("policy.pdf")
	if !ok {
		t.Fatal("entry lost across reopen")
	}
	if payload.SemanticIndexFile != "policy.semantic.json" || payload.EmbeddingDim != 6 {
		t.Errorf("payload mangled across reopen: %+v", payload)
	}
	if len(payload.Chunks) != 1 || payload.Chunks[0].Text != "some chunk text" {
		t.Errorf("chunks mangled across reopen: %+v", payload.Chunks)
	}
}

func TestDocumentCache_LegacyFormatUpgrade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "documents.json")
	legacy := map[string]documentEntry{
		"old.pdf": {
			Payload:   samplePayload(),
			CachedAt:  time.Now(),
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
	data, err := json.Marshal(legacy)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	c := OpenDocumentCache(path, DefaultDocumentTTL, quietLogger())
	if _, ok := c.Get("old.pdf"); !ok {
		t.Fatal("legacy entry not carried forward")
	}

	// The upgrade rewrites the file with the envelope.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var env documentEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.SchemaVersion != DocumentSchemaVersion {
		t.Errorf("file not rewritten in current format: version=%d err=%v", env.SchemaVersion, err)
	}
}

func TestDocumentCache_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "documents.json")
	if err := os.WriteFile(path, []byte("{{{{ nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := OpenDocumentCache(path, DefaultDocumentTTL, quietLogger())
	if c.Len() != 0 {
		t.Errorf("corrupt file should start an empty cache, len = %d", c.Len())
	}
	if _, ok := c.Get("anything"); ok {
		t.Error("corrupt cache must behave as all misses")
	}
}

func TestDocumentCache_PruneExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "documents.json")
	c := OpenDocumentCache(path, DefaultDocumentTTL, quietLogger())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	c.Put("fresh.pdf", samplePayload())
	c.now = func() time.Time { return base.Add(-10 * 24 * time.Hour) }
	c.Put("stale.pdf", samplePayload())

	c.now = func() time.Time { return base.Add(time.Hour) }
	if removed := c.PruneExpired(); removed != 1 {
		t.Errorf("PruneExpired removed %d entries, want 1", removed)
	}
	if _, ok := c.Get("fresh.pdf"); !ok {
		t.Error("fresh entry removed by prune")
	}
	if _, ok := c.Get("stale.pdf"); ok {
		t.Error("stale entry survived prune")
	}
}
