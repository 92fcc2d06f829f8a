package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/docquery-ai/docquery/models"
)

// ErrExtractionFailed wraps every failure to turn a document reference into
// plain text.
var ErrExtractionFailed = errors.New("document extraction failed")

const maxDocumentBytes = 64 << 20

// Extractor resolves document references (URLs or local paths) into plain
// text. PDF bodies are converted with the poppler pdftotext binary; HTML
// bodies go through readability extraction; anything else is treated as
// already-plain text.
type Extractor struct {
	client  *http.Client
	logger  *log.Logger
	pdfTool string
}

func New(timeout time.Duration, logger *log.Logger) *Extractor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[EXTRACT] ", log.LstdFlags)
	}
	return &Extractor{
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		pdfTool: "pdftotext",
	}
}

// Extract fetches reference and returns the document with its plain text.
// The returned document carries a failed status alongside the error, and a
// missing source additionally wraps models.ErrDocumentNotFound.
func (e *Extractor) Extract(ctx context.Context, reference string) (models.Document, error) {
	doc := models.Document{Reference: reference, Status: models.DocumentStatusPending}

	body, contentType, err := e.fetch(ctx, reference)
	if err != nil {
		doc.Status = models.DocumentStatusFailed
		return doc, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	text, err := e.convert(ctx, reference, body, contentType)
	if err != nil {
		doc.Status = models.DocumentStatusFailed
		return doc, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	if strings.TrimSpace(text) == "" {
		doc.Status = models.DocumentStatusFailed
		return doc, fmt.Errorf("%w: %s produced no text", ErrExtractionFailed, reference)
	}
	e.logger.Printf("extracted %s (%d chars, %s)", reference, len(text), contentType)
	doc.Text = text
	doc.Status = models.DocumentStatusProcessed
	doc.ProcessedAt = time.Now()
	return doc, nil
}

func (e *Extractor) fetch(ctx context.Context, reference string) ([]byte, string, error) {
	if u, err := url.Parse(reference); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return e.fetchURL(ctx, reference)
	}

	data, err := os.ReadFile(reference)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%s: %w", reference, models.ErrDocumentNotFound)
		}
		return nil, "", err
	}
	return data, typeFromExtension(reference), nil
}

func (e *Extractor) fetchURL(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, "", fmt.Errorf("fetching %s: %w", rawURL, models.ErrDocumentNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetching %s: status %d", rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, "", err
	}

	contentType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = typeFromExtension(rawURL)
	}
	return data, contentType, nil
}

func (e *Extractor) convert(ctx context.Context, reference string, body []byte, contentType string) (string, error) {
	switch {
	case contentType == "application/pdf" || bytes.HasPrefix(body, []byte("%PDF")):
		return e.pdfText(ctx, body)
	case contentType == "text/html" || looksLikeHTML(body):
		return htmlText(reference, body)
	default:
		return string(body), nil
	}
}

// pdfText shells out to pdftotext, reading the PDF from stdin and writing
// the layout-preserved text to stdout.
func (e *Extractor) pdfText(ctx context.Context, body []byte) (string, error) {
	cmd := exec.CommandContext(ctx, e.pdfTool, "-layout", "-", "-")
	cmd.Stdin = bytes.NewReader(body)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("pdftotext: %s", msg)
		}
		return "", fmt.Errorf("pdftotext: %w", err)
	}
	return out.String(), nil
}

func htmlText(reference string, body []byte) (string, error) {
	pageURL, _ := url.Parse(reference)
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	return article.TextContent, nil
}

func typeFromExtension(reference string) string {
	switch strings.ToLower(filepath.Ext(strings.SplitN(reference, "?", 2)[0])) {
	case ".pdf":
		return "application/pdf"
	case ".html", ".htm":
		return "text/html"
	default:
		return "text/plain"
	}
}

func looksLikeHTML(body []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(body))
	if len(head) > 256 {
		head = head[:256]
	}
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}
