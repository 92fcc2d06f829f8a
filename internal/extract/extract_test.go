package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/docquery-ai/docquery/models"
)

func TestExtract_PlainTextURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("the policy covers hospitalization"))
	}))
	defer srv.Close()

	e := New(5*time.Second, nil)
	doc, err := e.Extract(context.Background(), srv.URL+"/doc.txt")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if doc.Text != "the policy covers hospitalization" {
		t.Errorf("unexpected text: %q", doc.Text)
	}
	if doc.Status != models.DocumentStatusProcessed {
		t.Errorf("status = %q, want processed", doc.Status)
	}
	if doc.Reference != srv.URL+"/doc.txt" || doc.ProcessedAt.IsZero() {
		t.Errorf("document metadata not populated: %+v", doc)
	}
}

func TestExtract_HTMLGoesThroughReadability(t *testing.T) {
	page := `<!DOCTYPE html><html><head><title>Policy</title></head><body>
		<nav>menu menu menu</nav>
		<article><h1>Coverage</h1><p>Hospitalization expenses are covered for accidents occurring during the policy period, subject to the limits stated in the schedule of benefits.</p>
		<p>Premium payments are due monthly and a grace period of fifteen days applies to every renewal.</p></article>
		</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	e := New(5*time.Second, nil)
	doc, err := e.Extract(context.Background(), srv.URL+"/policy.html")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !strings.Contains(doc.Text, "Hospitalization expenses are covered") {
		t.Errorf("article body missing from extracted text: %q", doc.Text)
	}
	if strings.Contains(doc.Text, "<p>") {
		t.Error("markup leaked into extracted text")
	}
}

func TestExtract_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(path, []byte("local document body"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := New(5*time.Second, nil)
	doc, err := e.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if doc.Text != "local document body" {
		t.Errorf("unexpected text: %q", doc.Text)
	}
}

func TestExtract_NotFoundURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	e := New(5*time.Second, nil)
	doc, err := e.Extract(context.Background(), srv.URL+"/missing.txt")
	if !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("want ErrExtractionFailed, got %v", err)
	}
	if !errors.Is(err, models.ErrDocumentNotFound) {
		t.Errorf("missing URL should wrap ErrDocumentNotFound, got %v", err)
	}
	if doc.Status != models.DocumentStatusFailed {
		t.Errorf("status = %q, want failed", doc.Status)
	}
}

func TestExtract_ServerErrorIsNotNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := New(5*time.Second, nil)
	_, err := e.Extract(context.Background(), srv.URL+"/doc.txt")
	if !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("want ErrExtractionFailed, got %v", err)
	}
	if errors.Is(err, models.ErrDocumentNotFound) {
		t.Errorf("a 500 must not read as document-not-found: %v", err)
	}
}

func TestExtract_EmptyBodyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
	}))
	defer srv.Close()

	e := New(5*time.Second, nil)
	if _, err := e.Extract(context.Background(), srv.URL+"/empty.txt"); !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("want ErrExtractionFailed for empty body, got %v", err)
	}
}

func TestExtract_MissingLocalFile(t *testing.T) {
	e := New(5*time.Second, nil)
	_, err := e.Extract(context.Background(), "/does/not/exist.txt")
	if !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("want ErrExtractionFailed, got %v", err)
	}
	if !errors.Is(err, models.ErrDocumentNotFound) {
		t.Errorf("missing file should wrap ErrDocumentNotFound, got %v", err)
	}
}

func TestTypeFromExtension(t *testing.T) {
	cases := map[string]string{
		"https://host/doc.pdf?sig=abc": "application/pdf",
		"page.html":                    "text/html",
		"notes.txt":                    "text/plain",
		"no-extension":                 "text/plain",
	}
	for ref, want := range cases {
		if got := typeFromExtension(ref); got != want {
			t.Errorf("typeFromExtension(%q) = %q, want %q", ref, got, want)
		}
	}
}
