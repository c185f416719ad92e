package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/vitrine-app/vitrine/pkg/config"
	"github.com/vitrine-app/vitrine/pkg/loader"
	"github.com/vitrine-app/vitrine/pkg/observability"
)

func runServeCmd(cfg *config.Config, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", cfg.ArtifactsDir, "artifacts directory")
	policyPath := fs.String("policy", cfg.PolicyPath, "policy file (yaml or json)")
	historyDB := fs.String("history", cfg.HistoryDB, "verdict history sqlite path")
	port := fs.String("port", cfg.Port, "listen port")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	obsConfig := observability.DefaultConfig()
	obsConfig.OTLPEndpoint = cfg.OTLPEndpoint
	obsConfig.Enabled = cfg.OTLPEndpoint != ""
	obs, err := observability.New(ctx, obsConfig)
	if err != nil {
		fmt.Fprintf(stderr, "serve: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	ld, cleanup, err := newLoader(cfg, *dir, *policyPath, *historyDB, loader.WithRecorder(obs))
	if err != nil {
		fmt.Fprintf(stderr, "serve: %v\n", err)
		return 1
	}
	defer cleanup()

	if err := ld.Refresh(ctx); err != nil {
		fmt.Fprintf(stderr, "serve: %v\n", err)
		return 1
	}

	srv := &http.Server{
		Addr:              ":" + *port,
		Handler:           obs.Middleware(newAPIHandler(ld, *dir)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("catalog server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(stderr, "serve: %v\n", err)
			return 1
		}
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(stderr, "serve: shutdown: %v\n", err)
			return 1
		}
	}
	return 0
}

// newAPIHandler exposes the catalog endpoints the browsing host consumes.
func newAPIHandler(ld *loader.Loader, dir string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/artifacts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ld.List())
	})

	mux.HandleFunc("GET /api/verdict", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		art, ok := ld.Get(id)
		if !ok {
			http.Error(w, "unknown artifact", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, art.Validation)
	})

	mux.HandleFunc("GET /api/artifact-source", func(w http.ResponseWriter, r *http.Request) {
		rel := r.URL.Query().Get("path")
		if rel == "" {
			http.Error(w, "missing path parameter", http.StatusBadRequest)
			return
		}
		full, ok := resolveWithin(dir, rel)
		if !ok {
			http.Error(w, "invalid or unauthorized path", http.StatusForbidden)
			return
		}
		data, err := os.ReadFile(full)
		if err != nil {
			http.Error(w, "artifact not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(data)
	})

	mux.HandleFunc("POST /api/refresh", func(w http.ResponseWriter, r *http.Request) {
		if err := ld.Refresh(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"artifacts": len(ld.List())})
	})

	return mux
}

// resolveWithin joins rel under base and rejects any path escaping base.
// A traversal attempt is rejected outright rather than silently remapped
// back under base.
func resolveWithin(base, rel string) (string, bool) {
	if filepath.IsAbs(rel) {
		return "", false
	}
	cleaned := filepath.Clean(rel)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", false
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", false
	}
	full := filepath.Join(absBase, cleaned)
	canonical, err := filepath.Rel(absBase, full)
	if err != nil || canonical == ".." || strings.HasPrefix(canonical, ".."+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}
