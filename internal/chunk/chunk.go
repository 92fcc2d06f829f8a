package chunk

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/docquery-ai/docquery/models"
)

// ErrInvalidChunking is returned when the window/overlap pair would never
// advance. Checked up front so a bad configuration fails fast instead of
// looping forever.
var ErrInvalidChunking = errors.New("invalid chunking configuration")

const (
	snippetKeywordMinLen = 5
	maxKeywords          = 10
)

// Split windows the document text into overlapping word chunks. Windows
// advance by windowSize-overlap words; the trailing partial window is kept if
// non-empty. Identical input always yields identical chunk boundaries and IDs.
func Split(sourceRef, text string, windowSize, overlap int) ([]models.Chunk, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("%w: window size %d must be positive", ErrInvalidChunking, windowSize)
	}
	if overlap < 0 || overlap >= windowSize {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidChunking, overlap, windowSize)
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}

	step := windowSize - overlap
	var chunks []models.Chunk
	for start := 0; start < len(words); start += step {
		end := start + windowSize
		if end > len(words) {
			end = len(words)
		}
		chunkText := strings.Join(words[start:end], " ")
		if strings.TrimSpace(chunkText) == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{
			ID:           len(chunks),
			SourceRef:    sourceRef,
			Text:         chunkText,
			CharLength:   len(chunkText),
			Keywords:     ExtractKeywords(chunkText),
			QualityScore: QualityScore(chunkText),
			ContentHash:  HashText(chunkText),
		})
	}
	return chunks, nil
}

// QualityScore rates chunk text by word and sentence density, capped at 1.0.
// Computed once at chunking time and never recomputed on read.
func QualityScore(text string) float64 {
	score := float64(len(strings.Fields(text))) / 100
	score += float64(strings.Count(text, ".")) / 10
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// ExtractKeywords picks the first few long-ish lowercase terms for indexing hints.
func ExtractKeywords(text string) []string {
	var keywords []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if len(w) > snippetKeywordMinLen {
			keywords = append(keywords, w)
			if len(keywords) == maxKeywords {
				break
			}
		}
	}
	return keywords
}

// HashText fingerprints chunk text for change detection.
func HashText(text string) string {
	h := sha1.Sum([]byte(text))
	return hex.EncodeToString(h[:])
}
