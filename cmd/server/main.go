package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tenderlens/tenderlens"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := tenderlens.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}

	// Override from environment variables.
	if v := os.Getenv("TENDERLENS_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TENDERLENS_WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}
	if v := os.Getenv("TENDERLENS_VISION_PROVIDER"); v != "" {
		cfg.Vision.Provider = v
	}
	if v := os.Getenv("TENDERLENS_VISION_MODEL"); v != "" {
		cfg.Vision.Model = v
	}
	if v := os.Getenv("TENDERLENS_VISION_BASE_URL"); v != "" {
		cfg.Vision.BaseURL = v
	}
	if v := os.Getenv("TENDERLENS_VISION_API_KEY"); v != "" {
		cfg.Vision.APIKey = v
	}
	if v := os.Getenv("TENDERLENS_BRIDGE_URL"); v != "" {
		cfg.Automation.BridgeURL = v
	}

	// Fallback: check well-known provider env vars for API keys.
	if cfg.Vision.APIKey == "" {
		switch cfg.Vision.Provider {
		case "dashscope":
			cfg.Vision.APIKey = os.Getenv("DASHSCOPE_API_KEY")
		case "ark":
			cfg.Vision.APIKey = os.Getenv("ARK_API_KEY")
		case "openai":
			cfg.Vision.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	apiKey := os.Getenv("TENDERLENS_API_KEY")
	corsOrigins := os.Getenv("TENDERLENS_CORS_ORIGINS")

	engine, err := tenderlens.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	h := newHandler(engine, cfg.Automation.BridgeURL)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /documents", h.handleRegister)
	mux.HandleFunc("POST /documents/{id}/descriptor", h.handleSetDescriptor)
	mux.HandleFunc("POST /documents/{id}/process", h.handleProcess)
	mux.HandleFunc("POST /runs/{id}/cancel", h.handleCancelRun)
	mux.HandleFunc("GET /documents/{id}/status", h.handleStatus)
	mux.HandleFunc("GET /documents/{id}/artifacts", h.handleArtifacts)
	mux.HandleFunc("DELETE /documents/{id}/artifacts", h.handleCleanup)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
