package models

import (
	"errors"
	"time"
)

// ErrDocumentNotFound is returned when a document reference has never been processed
var ErrDocumentNotFound = errors.New("document not found")

type DocumentStatus string

const (
	DocumentStatusPending   DocumentStatus = "pending"
	DocumentStatusProcessed DocumentStatus = "processed"
	DocumentStatusFailed    DocumentStatus = "failed"
)

// Document is the raw extracted text for a single document reference.
type Document struct {
	Reference   string         `json:"reference"`
	Text        string         `json:"text"`
	Status      DocumentStatus `json:"status"`
	ProcessedAt time.Time      `json:"processed_at"`
}

// Chunk is a bounded, overlapping window of a document's text, the unit of
// retrieval. ID is the zero-based emission order of the window and is stable
// across rebuilds of the same document text.
type Chunk struct {
	ID           int      `json:"chunk_id"`
	SourceRef    string   `json:"source_ref"`
	Text         string   `json:"text"`
	CharLength   int      `json:"char_length"`
	Keywords     []string `json:"keywords"`
	QualityScore float64  `json:"quality_score"`
	ContentHash  string   `json:"content_hash"`
}

// SearchHit is a single ranked result from one index (lexical or semantic).
type SearchHit struct {
	ChunkID int     `json:"chunk_id"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// RetrievalResult is an ensemble-ranked chunk for one query. Ephemeral,
// never persisted.
type RetrievalResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// QueryResult is the outcome of answering a single question. Failed results
// carry a placeholder answer rather than an error so a batch always yields
// one result per question.
type QueryResult struct {
	Question string        `json:"question"`
	Answer   string        `json:"answer"`
	Failed   bool          `json:"failed"`
	Attempts int           `json:"attempts"`
	Elapsed  time.Duration `json:"elapsed"`
}
