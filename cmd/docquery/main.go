package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docquery-ai/docquery/config"
	"github.com/docquery-ai/docquery/internal/cache"
	"github.com/docquery-ai/docquery/internal/engine"
	"github.com/docquery-ai/docquery/internal/extract"
	"github.com/docquery-ai/docquery/internal/server"
	"github.com/docquery-ai/docquery/internal/store"
	"github.com/docquery-ai/docquery/provider"
)

func main() {
	root := &cobra.Command{Use: "docquery"}
	root.AddCommand(serveCMD(), migrateCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCMD() *cobra.Command {
	var cfgPath string
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the document QA HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}
			return run(cfg)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return serve
}

func migrateCMD() *cobra.Command {
	var cfgPath string
	var dir string
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			return store.RunMigrations(dsn, dir)
		},
	}
	migrate.Flags().StringVar(&dir, "dir", "migrations", "migrations directory")
	migrate.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return migrate
}

func run(cfg *config.Config) error {
	logger := log.New(log.Writer(), "[DOCQUERY] ", log.LstdFlags)

	prov, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}

	cacheLogger := log.New(log.Writer(), "[CACHE] ", log.LstdFlags)
	docs := cache.OpenDocumentCache(filepath.Join(cfg.Cache.Dir, "documents.json"), cfg.Cache.DocumentTTL, cacheLogger)

	var hot cache.HotTier
	switch cfg.Cache.HotTier {
	case "redis":
		redisAddr := cfg.Storage.Redis.Host + ":" + cfg.Storage.Redis.Port
		hot = cache.NewRedisHotTier(redisAddr, cfg.Storage.Redis.Pass, cfg.Storage.Redis.DB, cfg.Cache.HotTTL, cacheLogger)
	default:
		hot = cache.NewMemoryHotTier(cfg.Cache.HotMaxSize, cfg.Cache.HotTTL)
	}
	answers := cache.OpenAnswerCache(filepath.Join(cfg.Cache.Dir, "answers.json"), hot, cacheLogger)

	var logs server.QueryLogger
	if dsn, err := cfg.Storage.Postgres.DSN(); err == nil {
		if err := store.RunMigrations(dsn, "migrations"); err != nil {
			return err
		}
		st, err := store.NewWithDSN(dsn)
		if err != nil {
			return err
		}
		defer st.Close()
		logs = st
	} else {
		logger.Printf("postgres not configured, query logging disabled")
	}

	extractor := extract.New(cfg.LLM.Timeout, log.New(log.Writer(), "[EXTRACT] ", log.LstdFlags))
	eng := engine.New(cfg, prov, docs, answers, extractor, log.New(log.Writer(), "[ENGINE] ", log.LstdFlags))
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	janitor, err := cache.NewJanitor(docs, answers, cfg.Cache.JanitorCron, nil)
	if err != nil {
		return err
	}
	go janitor.Run(ctx)

	srv := server.New(eng, logs, answers, cfg.Server.BearerToken, log.New(log.Writer(), "[HTTP] ", log.LstdFlags))
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(cfg.Server.Address)
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutting down")
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
