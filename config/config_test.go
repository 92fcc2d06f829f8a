package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Retrieval.WindowSize != 1024 || cfg.Retrieval.Overlap != 212 {
		t.Errorf("chunking defaults wrong: window=%d overlap=%d", cfg.Retrieval.WindowSize, cfg.Retrieval.Overlap)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("top_k default = %d, want 5", cfg.Retrieval.TopK)
	}
	if cfg.Engine.MaxConcurrentGenerations != 3 {
		t.Errorf("max_concurrent_generations default = %d, want 3", cfg.Engine.MaxConcurrentGenerations)
	}
	if cfg.Engine.MaxRetries != 2 {
		t.Errorf("max_retries default = %d, want 2", cfg.Engine.MaxRetries)
	}
	if cfg.Cache.DocumentTTL != 168*time.Hour {
		t.Errorf("document_ttl default = %v, want 168h", cfg.Cache.DocumentTTL)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("server address default = %q", cfg.Server.Address)
	}
}

func TestRetrievalConfig_Validate(t *testing.T) {
	base := RetrievalConfig{WindowSize: 100, Overlap: 20, TopK: 5, LexicalWeight: 0.5, SemanticWeight: 0.5}
	if err := base.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*RetrievalConfig)
	}{
		{"zero window", func(c *RetrievalConfig) { c.WindowSize = 0 }},
		{"overlap equals window", func(c *RetrievalConfig) { c.Overlap = c.WindowSize }},
		{"negative overlap", func(c *RetrievalConfig) { c.Overlap = -1 }},
		{"zero top_k", func(c *RetrievalConfig) { c.TopK = 0 }},
		{"negative weight", func(c *RetrievalConfig) { c.LexicalWeight = -1 }},
		{"both weights zero", func(c *RetrievalConfig) { c.LexicalWeight = 0; c.SemanticWeight = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base
			tc.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestPostgresConfig_DSN(t *testing.T) {
	if _, err := (PostgresConfig{}).DSN(); err == nil {
		t.Error("empty config should not yield a DSN")
	}

	p := PostgresConfig{Host: "db", User: "u", Password: "p", DBName: "docquery"}
	dsn, err := p.DSN()
	if err != nil {
		t.Fatalf("DSN failed: %v", err)
	}
	want := "postgres://u:p@db:5432/docquery?sslmode=disable"
	if dsn != want {
		t.Errorf("dsn = %q, want %q", dsn, want)
	}

	p.URL = "postgres://explicit"
	if dsn, _ := p.DSN(); dsn != "postgres://explicit" {
		t.Errorf("explicit URL not preferred: %q", dsn)
	}
}
