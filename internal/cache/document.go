package cache

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docquery-ai/docquery/models"
)

// DocumentSchemaVersion tags the on-disk envelope. Version 1 files (a bare
// reference->entry map without the envelope) are upgraded at load time.
const DocumentSchemaVersion = 2

// DefaultDocumentTTL matches the 7-day document expiry of the pipeline.
const DefaultDocumentTTL = 7 * 24 * time.Hour

// DocumentPayload is the processed artifact cached per document reference.
type DocumentPayload struct {
	Chunks            []models.Chunk `json:"chunks"`
	SemanticIndexFile string         `json:"semantic_index_file"`
	EmbeddingDim      int            `json:"embedding_dim"`
}

type documentEntry struct {
	Payload   DocumentPayload `json:"payload"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type documentEnvelope struct {
	SchemaVersion int                      `json:"schema_version"`
	UpdatedAt     time.Time                `json:"updated_at"`
	Documents     map[string]documentEntry `json:"documents"`
}

// DocumentCache persists processed documents on disk with a fixed TTL.
// Lookups fail closed: unreadable or expired entries are misses, never
// errors. Every Put flushes the full map synchronously so a crash loses at
// most the in-flight entry.
type DocumentCache struct {
	path   string
	ttl    time.Duration
	logger *log.Logger

	mu   sync.Mutex
	docs map[string]documentEntry

	now func() time.Time
}

// OpenDocumentCache loads (or initializes) the cache at path. Load failures
// are logged and start the cache empty; they never fail the open.
func OpenDocumentCache(path string, ttl time.Duration, logger *log.Logger) *DocumentCache {
	if ttl <= 0 {
		ttl = DefaultDocumentTTL
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[CACHE] ", log.LstdFlags)
	}
	c := &DocumentCache{
		path:   path,
		ttl:    ttl,
		logger: logger,
		docs:   map[string]documentEntry{},
		now:    time.Now,
	}
	c.load()
	return c
}

func (c *DocumentCache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Printf("document cache unreadable, starting empty: %v", err)
		}
		return
	}

	var env documentEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.SchemaVersion == DocumentSchemaVersion {
		c.docs = env.Documents
		if c.docs == nil {
			c.docs = map[string]documentEntry{}
		}
		return
	}

	// Version-1 layout: a bare map keyed by reference.
	var legacy map[string]documentEntry
	if err := json.Unmarshal(data, &legacy); err == nil && legacy != nil {
		c.logger.Printf("document cache: upgrading legacy format (%d entries)", len(legacy))
		c.docs = legacy
		c.persistLocked()
		return
	}

	c.logger.Printf("document cache corrupt, starting empty")
}

// Get returns the cached payload for reference, or absent. Expired entries
// are evicted lazily on lookup.
func (c *DocumentCache) Get(reference string) (DocumentPayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.docs[reference]
	if !ok {
		return DocumentPayload{}, false
	}
	if c.now().After(entry.ExpiresAt) {
		delete(c.docs, reference)
		c.persistLocked()
		return DocumentPayload{}, false
	}
	return entry.Payload, true
}

// Put stores the payload for reference, overwriting any existing entry and
// resetting its TTL clock. The cache file is written before Put returns;
// write failures are logged and degrade to running uncached.
func (c *DocumentCache) Put(reference string, payload DocumentPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.docs[reference] = documentEntry{
		Payload:   payload,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
	c.persistLocked()
}

// PruneExpired removes every expired entry and reports how many were dropped.
func (c *DocumentCache) PruneExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for ref, entry := range c.docs {
		if now.After(entry.ExpiresAt) {
			delete(c.docs, ref)
			removed++
		}
	}
	if removed > 0 {
		c.persistLocked()
	}
	return removed
}

// Len reports the number of cached documents, expired or not.
func (c *DocumentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}

func (c *DocumentCache) persistLocked() {
	env := documentEnvelope{
		SchemaVersion: DocumentSchemaVersion,
		UpdatedAt:     c.now(),
		Documents:     c.docs,
	}
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Printf("document cache encode failed: %v", err)
		return
	}
	if dir := filepath.Dir(c.path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		c.logger.Printf("document cache write failed: %v", err)
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		c.logger.Printf("document cache rename failed: %v", err)
	}
}
