package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/docquery-ai/docquery/config"
	"github.com/docquery-ai/docquery/internal/cache"
	"github.com/docquery-ai/docquery/internal/chunk"
	"github.com/docquery-ai/docquery/internal/extract"
	"github.com/docquery-ai/docquery/internal/index"
	"github.com/docquery-ai/docquery/models"
	"github.com/docquery-ai/docquery/provider"
)

var (
	documentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docquery_documents_processed_total",
		Help: "Documents prepared for retrieval, by source",
	}, []string{"source"})
	questionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docquery_questions_total",
		Help: "Questions answered, by outcome",
	}, []string{"outcome"})
	generationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docquery_generation_retries_total",
		Help: "Generation attempts beyond the first",
	})
	answerSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docquery_answer_seconds",
		Help:    "End-to-end latency per question",
		Buckets: prometheus.DefBuckets,
	})
)

// snapshot is one immutable prepared corpus: the flattened chunk list (local
// per-document IDs preserved) plus the index pair built over position-keyed
// copies. Swapped wholesale under the engine mutex.
type snapshot struct {
	refs      []string
	chunks    []models.Chunk
	lexical   *index.Lexical
	retriever *index.Ensemble
}

// Engine owns the document preparation pipeline and the batched question
// answering loop on top of it.
type Engine struct {
	retrieval config.RetrievalConfig
	exec      config.EngineConfig
	provider  provider.Provider
	docs      *cache.DocumentCache
	answers   *cache.AnswerCache
	extractor *extract.Extractor
	cacheDir  string
	logger    *log.Logger

	mu   sync.RWMutex
	snap *snapshot

	dimMu    sync.Mutex
	embedDim int

	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg *config.Config, prov provider.Provider, docs *cache.DocumentCache, answers *cache.AnswerCache, extractor *extract.Extractor, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	}
	return &Engine{
		retrieval: cfg.Retrieval,
		exec:      cfg.Engine,
		provider:  prov,
		docs:      docs,
		answers:   answers,
		extractor: extractor,
		cacheDir:  cfg.Cache.Dir,
		logger:    logger,
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Setup prepares every referenced document and swaps in a fresh retrieval
// snapshot. Cached documents skip extraction and embedding entirely; the
// lexical index is always rebuilt in memory since it carries no API cost.
func (e *Engine) Setup(ctx context.Context, refs []string) error {
	if len(refs) == 0 {
		return errors.New("no document references given")
	}

	var (
		flat    []models.Chunk
		parts   []*index.Semantic
		offsets []int
	)
	for _, ref := range refs {
		chunks, sem, err := e.prepareDocument(ctx, ref)
		if err != nil {
			return fmt.Errorf("preparing %s: %w", ref, err)
		}
		offsets = append(offsets, len(flat))
		flat = append(flat, chunks...)
		parts = append(parts, sem)
	}

	merged, err := index.MergeSemantic(parts, offsets)
	if err != nil {
		return err
	}

	// The indices see position-keyed copies so chunk IDs stay unique across
	// documents; the snapshot keeps the originals for cache lookups.
	positioned := make([]models.Chunk, len(flat))
	for i, c := range flat {
		c.ID = i
		positioned[i] = c
	}
	lexical, err := index.BuildLexical(positioned)
	if err != nil {
		return fmt.Errorf("building lexical index: %w", err)
	}
	retriever := index.NewEnsemble(lexical, merged, e.provider, positioned, index.EnsembleOptions{
		LexicalWeight:     e.retrieval.LexicalWeight,
		SemanticWeight:    e.retrieval.SemanticWeight,
		CandidateMultiple: e.retrieval.CandidateMultiple,
	})

	next := &snapshot{refs: refs, chunks: flat, lexical: lexical, retriever: retriever}

	e.mu.Lock()
	old := e.snap
	e.snap = next
	e.mu.Unlock()

	if old != nil && old.lexical != nil {
		if err := old.lexical.Close(); err != nil {
			e.logger.Printf("closing previous lexical index: %v", err)
		}
	}
	e.logger.Printf("snapshot ready: %d documents, %d chunks", len(refs), len(flat))
	return nil
}

// embedderDimension reports the vector width of the configured embedding
// model, embedding a single short text the first time it is needed. Fresh
// index builds record the width for free, so the extra call only happens
// when a process starts straight onto cached documents.
func (e *Engine) embedderDimension(ctx context.Context) (int, error) {
	e.dimMu.Lock()
	defer e.dimMu.Unlock()
	if e.embedDim > 0 {
		return e.embedDim, nil
	}
	vecs, err := e.provider.CreateEmbedding(ctx, []string{"dimension check"})
	if err != nil {
		return 0, fmt.Errorf("checking embedding dimension: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return 0, errors.New("embedder returned no vector for dimension check")
	}
	e.embedDim = len(vecs[0])
	return e.embedDim, nil
}

func (e *Engine) recordEmbedderDimension(dim int) {
	e.dimMu.Lock()
	e.embedDim = dim
	e.dimMu.Unlock()
}

// prepareDocument returns the chunk list and semantic index for one
// reference, via the document cache when possible. A cached index whose
// dimensionality disagrees with the current embedding model is rebuilt
// rather than served.
func (e *Engine) prepareDocument(ctx context.Context, ref string) ([]models.Chunk, *index.Semantic, error) {
	if payload, ok := e.docs.Get(ref); ok {
		wantDim, dimErr := e.embedderDimension(ctx)
		if dimErr != nil {
			return nil, nil, dimErr
		}
		sem, err := index.LoadSemantic(payload.SemanticIndexFile, wantDim)
		if err == nil {
			documentsProcessed.WithLabelValues("cache").Inc()
			e.logger.Printf("cache hit for %s (%d chunks)", ref, len(payload.Chunks))
			return payload.Chunks, sem, nil
		}
		if errors.Is(err, index.ErrIndexCorrupt) {
			e.logger.Printf("semantic index for %s unusable, rebuilding: %v", ref, err)
			sem, err = e.rebuildSemantic(ctx, ref, payload)
			if err != nil {
				return nil, nil, err
			}
			documentsProcessed.WithLabelValues("rebuilt").Inc()
			return payload.Chunks, sem, nil
		}
		return nil, nil, err
	}

	doc, err := e.extractor.Extract(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	chunks, err := chunk.Split(ref, doc.Text, e.retrieval.WindowSize, e.retrieval.Overlap)
	if err != nil {
		return nil, nil, err
	}
	if len(chunks) == 0 {
		return nil, nil, fmt.Errorf("%s yielded no chunks", ref)
	}

	sem, err := index.BuildSemantic(ctx, chunks, e.provider)
	if err != nil {
		return nil, nil, err
	}
	indexFile := e.semanticIndexPath(ref)
	if err := sem.Save(indexFile); err != nil {
		return nil, nil, err
	}
	e.recordEmbedderDimension(sem.Dimension())
	e.docs.Put(ref, cache.DocumentPayload{
		Chunks:            chunks,
		SemanticIndexFile: indexFile,
		EmbeddingDim:      sem.Dimension(),
	})
	e.answers.RecordBatch(ctx, chunks)
	documentsProcessed.WithLabelValues("fresh").Inc()
	e.logger.Printf("processed %s: %d chunks, dim %d", ref, len(chunks), sem.Dimension())
	return chunks, sem, nil
}

func (e *Engine) rebuildSemantic(ctx context.Context, ref string, payload cache.DocumentPayload) (*index.Semantic, error) {
	sem, err := index.BuildSemantic(ctx, payload.Chunks, e.provider)
	if err != nil {
		return nil, err
	}
	if err := sem.Save(payload.SemanticIndexFile); err != nil {
		e.logger.Printf("persisting rebuilt index for %s: %v", ref, err)
	}
	payload.EmbeddingDim = sem.Dimension()
	e.docs.Put(ref, payload)
	e.recordEmbedderDimension(sem.Dimension())
	return sem, nil
}

func (e *Engine) semanticIndexPath(ref string) string {
	return filepath.Join(e.cacheDir, chunk.HashText(ref)+".semantic.json")
}

// AnswerBatch answers every question concurrently, bounded by the
// configured generation gate, and returns one result per question in input
// order. Individual failures produce placeholder answers; the only batch
// error is running before Setup.
func (e *Engine) AnswerBatch(ctx context.Context, questions []string) ([]models.QueryResult, error) {
	e.mu.RLock()
	snap := e.snap
	e.mu.RUnlock()
	if snap == nil || snap.retriever == nil {
		return nil, index.ErrRetrieverUninitialized
	}

	results := make([]models.QueryResult, len(questions))
	gate := make(chan struct{}, e.exec.MaxConcurrentGenerations)
	var wg sync.WaitGroup
	for i, q := range questions {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			results[i] = e.answerOne(ctx, snap, gate, q)
		}(i, q)
	}
	wg.Wait()
	return results, nil
}

func (e *Engine) answerOne(ctx context.Context, snap *snapshot, gate chan struct{}, question string) models.QueryResult {
	start := time.Now()
	res := models.QueryResult{Question: question}
	defer func() {
		res.Elapsed = time.Since(start)
		answerSeconds.Observe(res.Elapsed.Seconds())
		if res.Failed {
			questionsTotal.WithLabelValues("failed").Inc()
		} else {
			questionsTotal.WithLabelValues("answered").Inc()
		}
	}()

	retrieved, err := snap.retriever.Retrieve(ctx, question, e.retrieval.TopK)
	if err != nil {
		e.logger.Printf("retrieval failed for %q: %v", question, err)
		res.Answer = placeholder("retrieval failed")
		res.Failed = true
		return res
	}
	// Map the position-keyed results back to the original chunks so cache
	// lookups use the per-document IDs.
	for i := range retrieved {
		if pos := retrieved[i].Chunk.ID; pos >= 0 && pos < len(snap.chunks) {
			retrieved[i].Chunk = snap.chunks[pos]
		}
	}
	snippets := e.answers.Snippets(ctx, retrieved)

	var lastErr error
	for attempt := 0; attempt <= e.exec.MaxRetries; attempt++ {
		if attempt > 0 {
			generationRetries.Inc()
			if err := e.sleep(ctx, e.exec.RetryBackoff*time.Duration(attempt)); err != nil {
				lastErr = err
				break
			}
		}

		select {
		case gate <- struct{}{}:
		case <-ctx.Done():
			lastErr = ctx.Err()
			res.Answer = placeholder(lastErr.Error())
			res.Failed = true
			return res
		}
		answer, err := e.provider.Answer(ctx, question, snippets)
		<-gate

		res.Attempts = attempt + 1
		// A blank answer with a nil error is still a generation failure and
		// goes back through the retry policy.
		if err == nil && strings.TrimSpace(answer) == "" {
			err = errors.New("generation returned an empty answer")
		}
		if err == nil {
			res.Answer = answer
			return res
		}
		lastErr = err
		e.logger.Printf("generation attempt %d failed for %q: %v", attempt+1, question, err)
	}

	res.Answer = placeholder(lastErr.Error())
	res.Failed = true
	return res
}

func placeholder(reason string) string {
	return "unable to answer: " + reason
}

// Ready reports whether a snapshot has been prepared.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap != nil
}

// ActiveDocuments lists the references in the current snapshot.
func (e *Engine) ActiveDocuments() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.snap == nil {
		return nil
	}
	out := make([]string, len(e.snap.refs))
	copy(out, e.snap.refs)
	return out
}

// Close releases the active snapshot's index resources.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap != nil && e.snap.lexical != nil {
		err := e.snap.lexical.Close()
		e.snap = nil
		return err
	}
	return nil
}
