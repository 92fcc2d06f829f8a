package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/docquery-ai/docquery/internal/chunk"
	"github.com/docquery-ai/docquery/models"
)

// AnswerSchemaVersion tags the durable chunk-cache file.
const AnswerSchemaVersion = 2

const snippetLength = 500

// AnswerEntry is the durable record kept per chunk. The snippet is what gets
// assembled into prompts; the full text stays available for reprocessing.
type AnswerEntry struct {
	ChunkID      int       `json:"chunk_id"`
	SourceDocID  string    `json:"source_doc_id"`
	TextSnippet  string    `json:"text_snippet"`
	FullText     string    `json:"full_text"`
	CreatedAt    time.Time `json:"created_at"`
	AccessCount  int       `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`
	TextHash     string    `json:"text_hash"`
	QualityScore float64   `json:"quality_score"`
	Keywords     []string  `json:"keywords"`
	Size         int       `json:"size"`
}

type answerEnvelope struct {
	SchemaVersion int                    `json:"schema_version"`
	UpdatedAt     time.Time              `json:"updated_at"`
	Entries       map[string]AnswerEntry `json:"entries"`
}

// AnswerReport summarizes the durable tier for the logs endpoint.
type AnswerReport struct {
	Entries     int       `json:"entries"`
	TotalSize   int       `json:"total_size"`
	AvgQuality  float64   `json:"avg_quality"`
	OldestEntry time.Time `json:"oldest_entry,omitempty"`
	TotalAccess int       `json:"total_access"`
	HotTierHits int64     `json:"hot_tier_hits"`
	DurableHits int64     `json:"durable_hits"`
	TotalMisses int64     `json:"misses"`
}

// AnswerCache is the two-tier chunk cache: a durable JSON file holding every
// entry plus an optional hot tier consulted first on reads. Writes go to the
// durable tier synchronously and to the hot tier best effort.
type AnswerCache struct {
	path   string
	hot    HotTier
	logger *log.Logger

	mu      sync.Mutex
	entries map[string]AnswerEntry

	hotHits     int64
	durableHits int64
	misses      int64

	now func() time.Time
}

// OpenAnswerCache loads the durable tier from path. hot may be nil to run
// single-tier.
func OpenAnswerCache(path string, hot HotTier, logger *log.Logger) *AnswerCache {
	if logger == nil {
		logger = log.New(log.Writer(), "[CACHE] ", log.LstdFlags)
	}
	c := &AnswerCache{
		path:    path,
		hot:     hot,
		logger:  logger,
		entries: map[string]AnswerEntry{},
		now:     time.Now,
	}
	c.load()
	return c
}

func entryKey(sourceDocID string, chunkID int) string {
	return fmt.Sprintf("%s#%d", sourceDocID, chunkID)
}

// truncateSnippet cuts text to at most snippetLength bytes without splitting
// a multi-byte rune.
func truncateSnippet(text string) string {
	if len(text) <= snippetLength {
		return text
	}
	cut := snippetLength
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func (c *AnswerCache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Printf("answer cache unreadable, starting empty: %v", err)
		}
		return
	}
	var env answerEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.SchemaVersion == AnswerSchemaVersion {
		if env.Entries != nil {
			c.entries = env.Entries
		}
		return
	}

	// Version-1 layout stored the bare entry map.
	var legacy map[string]AnswerEntry
	if err := json.Unmarshal(data, &legacy); err == nil && legacy != nil {
		c.logger.Printf("answer cache: upgrading legacy format (%d entries)", len(legacy))
		c.entries = legacy
		c.persistLocked()
		return
	}
	c.logger.Printf("answer cache corrupt, starting empty")
}

// RecordBatch stores one entry per chunk. An existing entry is kept when its
// content hash still matches; on a hash change the entry is rebuilt and its
// access counters reset. Returns how many entries were added or replaced.
func (c *AnswerCache) RecordBatch(ctx context.Context, chunks []models.Chunk) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := 0
	now := c.now()
	for _, ch := range chunks {
		key := entryKey(ch.SourceRef, ch.ID)
		hash := ch.ContentHash
		if hash == "" {
			hash = chunk.HashText(ch.Text)
		}
		if existing, ok := c.entries[key]; ok && existing.TextHash == hash {
			continue
		}
		entry := AnswerEntry{
			ChunkID:      ch.ID,
			SourceDocID:  ch.SourceRef,
			TextSnippet:  truncateSnippet(ch.Text),
			FullText:     ch.Text,
			CreatedAt:    now,
			AccessCount:  0,
			LastAccessed: now,
			TextHash:     hash,
			QualityScore: ch.QualityScore,
			Keywords:     ch.Keywords,
			Size:         len(ch.Text),
		}
		c.entries[key] = entry
		if c.hot != nil {
			c.hot.Set(ctx, key, entry)
		}
		changed++
	}
	if changed > 0 {
		c.persistLocked()
	}
	return changed
}

// Get fetches a chunk entry, consulting the hot tier first and falling back
// to the durable tier. Durable hits refresh the hot tier and bump the access
// counters.
func (c *AnswerCache) Get(ctx context.Context, sourceDocID string, chunkID int) (AnswerEntry, bool) {
	key := entryKey(sourceDocID, chunkID)
	if c.hot != nil {
		if entry, ok := c.hot.Get(ctx, key); ok {
			c.mu.Lock()
			c.hotHits++
			c.touchLocked(key)
			c.mu.Unlock()
			return entry, true
		}
	}

	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		c.mu.Unlock()
		return AnswerEntry{}, false
	}
	c.durableHits++
	c.touchLocked(key)
	entry = c.entries[key]
	c.mu.Unlock()

	if c.hot != nil {
		c.hot.Set(ctx, key, entry)
	}
	return entry, true
}

func (c *AnswerCache) touchLocked(key string) {
	if entry, ok := c.entries[key]; ok {
		entry.AccessCount++
		entry.LastAccessed = c.now()
		c.entries[key] = entry
	}
}

// Snippets returns the prompt snippets for the given chunks in order,
// preferring cached entries and falling back to the chunk text itself.
func (c *AnswerCache) Snippets(ctx context.Context, results []models.RetrievalResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		if entry, ok := c.Get(ctx, r.Chunk.SourceRef, r.Chunk.ID); ok {
			out = append(out, entry.TextSnippet)
			continue
		}
		out = append(out, truncateSnippet(r.Chunk.Text))
	}
	return out
}

// Report summarizes the cache contents and tier hit counters.
func (c *AnswerCache) Report() AnswerReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	rep := AnswerReport{
		Entries:     len(c.entries),
		HotTierHits: c.hotHits,
		DurableHits: c.durableHits,
		TotalMisses: c.misses,
	}
	var qualitySum float64
	for _, entry := range c.entries {
		rep.TotalSize += entry.Size
		rep.TotalAccess += entry.AccessCount
		qualitySum += entry.QualityScore
		if rep.OldestEntry.IsZero() || entry.CreatedAt.Before(rep.OldestEntry) {
			rep.OldestEntry = entry.CreatedAt
		}
	}
	if len(c.entries) > 0 {
		rep.AvgQuality = qualitySum / float64(len(c.entries))
	}
	return rep
}

// Flush writes the durable tier to disk immediately.
func (c *AnswerCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persistLocked()
}

func (c *AnswerCache) persistLocked() {
	env := answerEnvelope{
		SchemaVersion: AnswerSchemaVersion,
		UpdatedAt:     c.now(),
		Entries:       c.entries,
	}
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Printf("answer cache encode failed: %v", err)
		return
	}
	if dir := filepath.Dir(c.path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		c.logger.Printf("answer cache write failed: %v", err)
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		c.logger.Printf("answer cache rename failed: %v", err)
	}
}
