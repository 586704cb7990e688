package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vrite/vrite/internal/agent"
	"github.com/vrite/vrite/internal/config"
	"github.com/vrite/vrite/internal/server"
	"github.com/vrite/vrite/internal/session"
	"github.com/vrite/vrite/internal/snippets"
	"github.com/vrite/vrite/internal/watch"
)

func main() {
	// Load .env if present; real environment variables win.
	_ = godotenv.Load()

	if err := run(context.Background(), os.Args[1:]); err != nil {
		log.Fatalf("vrited failed: %v", err)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("vrited", flag.ExitOnError)
	addrFlag := fs.String("addr", "", "HTTP listen address (default from config, then :8787)")
	dataFlag := fs.String("data", "", "Data directory for the document store")
	providerFlag := fs.String("provider", "", "Completion provider (openai, anthropic, ollama, ...)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	mgr, err := config.NewManager()
	if err != nil {
		return err
	}
	cfg, err := mgr.Load()
	if err != nil {
		return err
	}
	if *addrFlag != "" {
		cfg.ListenAddr = *addrFlag
	}
	if *dataFlag != "" {
		cfg.DataDir = *dataFlag
	}
	if *providerFlag != "" {
		cfg.Provider = *providerFlag
	}

	completer, model, err := buildCompleter(cfg)
	if err != nil {
		return err
	}
	log.Printf("completion provider ready (model %s)", model)

	dataDir, err := cfg.DataDirOrDefault()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	storePath := filepath.Join(dataDir, "vrite.db")

	store, err := session.NewStore(ctx, storePath)
	if err != nil {
		return err
	}
	defer store.Close()

	index, err := snippets.Open(storePath)
	if err != nil {
		log.Printf("snippet index unavailable: %v", err)
		index = nil
	} else {
		defer index.Close()
	}

	srv := server.New(store, completer, searcher(index))
	defer srv.Close()

	watcher, err := watch.NewStoreWatcher(storePath)
	if err != nil {
		log.Printf("store watcher unavailable: %v", err)
	} else {
		// Our own saves must not read as external conflicts.
		store.SetBeforeWrite(watcher.MarkLocalWrite)
		watcher.OnConflict(func() {
			log.Printf("⚠️  Document store changed outside this process; open editors should reload")
		})
		if err := watcher.Start(); err != nil {
			log.Printf("store watcher failed to start: %v", err)
		} else {
			defer watcher.Stop()
		}
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddrOrDefault(),
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("vrited listening on %s", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}

	return nil
}

func buildCompleter(cfg *config.Config) (agent.Completer, string, error) {
	// Flags and config file set the baseline; environment overrides fill
	// the gaps so `OPENAI_API_KEY=... vrited` still works with no config.
	if cfg.Provider == "" && cfg.APIKey == "" {
		return agent.NewFromEnv()
	}
	return agent.New(agent.Options{
		Provider: cfg.Provider,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		BaseURL:  cfg.BaseURL,
	})
}

// searcher keeps a nil *snippets.Index from becoming a non-nil interface.
func searcher(index *snippets.Index) session.SnippetSearcher {
	if index == nil {
		return nil
	}
	return index
}
