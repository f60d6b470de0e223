// Package main is the Margo CLI entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/margolab/margo/internal/ai"
	"github.com/margolab/margo/internal/config"
	"github.com/margolab/margo/internal/docengine"
	"github.com/margolab/margo/internal/history"
	"github.com/margolab/margo/internal/pdfmark"
	"github.com/margolab/margo/internal/server"
	"github.com/margolab/margo/internal/session"
	"github.com/margolab/margo/internal/viewer"
	"github.com/margolab/margo/internal/watcher"
	"github.com/margolab/margo/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/margo/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "export":
		runExport()
	case "version", "--version", "-v":
		fmt.Printf("margo version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`Usage: margo <command> [flags]

Commands:
  server    Start the annotation service
  export    Render a saved session artifact to an annotated PDF or spreadsheet
  version   Print the version
  help      Show this help
`)
}

// buildBackends wires the configured AI providers. Backends without an API
// key are skipped.
func buildBackends(cfg *config.AIConfig) map[string]viewer.Backend {
	backends := make(map[string]viewer.Backend)
	if cfg.OpenAI.Configured() {
		var opts []ai.OpenAIOption
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, ai.WithOpenAIBaseURL(cfg.OpenAI.BaseURL))
		}
		backends["openai"] = viewer.Backend{
			Provider: ai.NewOpenAI(cfg.OpenAI.APIKey, opts...),
			Model:    cfg.OpenAI.Model,
		}
	}
	if cfg.Anthropic.Configured() {
		var opts []ai.AnthropicOption
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, ai.WithAnthropicBaseURL(cfg.Anthropic.BaseURL))
		}
		backends["anthropic"] = viewer.Backend{
			Provider: ai.NewAnthropic(cfg.Anthropic.APIKey, opts...),
			Model:    cfg.Anthropic.Model,
		}
	}
	if cfg.Gemini.Configured() {
		var opts []ai.GeminiOption
		if cfg.Gemini.BaseURL != "" {
			opts = append(opts, ai.WithGeminiBaseURL(cfg.Gemini.BaseURL))
		}
		backends["gemini"] = viewer.Backend{
			Provider: ai.NewGemini(cfg.Gemini.APIKey, opts...),
			Model:    cfg.Gemini.Model,
		}
	}
	return backends
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	raster, err := docengine.NewRasterizer(cfg.Render.Pdftoppm, logger)
	if err != nil {
		logger.Fatal("Failed to create rasterizer", zap.Error(err))
	}
	defer raster.Close()
	if err := raster.Probe(); err != nil {
		logger.Fatal("Render engine unavailable", zap.Error(err))
	}

	hist, err := history.NewSQLiteHistory(cfg.Storage.HistoryPath)
	if err != nil {
		logger.Fatal("Failed to open history database", zap.Error(err))
	}
	defer hist.Close()

	backends := buildBackends(&cfg.AI)
	if len(backends) == 0 {
		logger.Warn("no AI backends configured; ask requests will fail")
	}
	if _, ok := backends[cfg.AI.Default]; !ok && len(backends) > 0 {
		for name := range backends {
			logger.Warn("default AI backend not configured, falling back",
				zap.String("configured", cfg.AI.Default), zap.String("fallback", name))
			cfg.AI.Default = name
			break
		}
	}

	sess, err := viewer.New(viewer.Options{
		Logger:         logger,
		Raster:         raster,
		Text:           docengine.NewTextSource(),
		Snip:           docengine.CropPNG,
		Marker:         pdfmark.New(),
		History:        hist,
		Backends:       backends,
		DefaultBackend: cfg.AI.Default,
		SystemPrompt:   cfg.AI.SystemPrompt,
		SessionsDir:    cfg.Storage.SessionsDir,
	})
	if err != nil {
		logger.Fatal("Failed to assemble session", zap.Error(err))
	}
	defer sess.Close()

	catalogOpts := []watcher.Option{}
	if debugMode {
		catalogOpts = append(catalogOpts, watcher.WithLogger(logger))
	}
	catalog := watcher.NewCatalog(cfg.Storage.SessionsDir, catalogOpts...)
	catalogCtx, catalogCancel := context.WithCancel(context.Background())
	defer catalogCancel()
	if err := catalog.Start(catalogCtx); err != nil {
		logger.Fatal("Failed to start session catalog", zap.Error(err))
	}
	defer catalog.Stop()

	srv := server.NewServer(sess, hist, catalog, &cfg.Server, cfg.Render.MaxScale, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// runExport renders a saved session artifact offline, without a server.
func runExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	inPath := fs.String("in", "", "session artifact path (required)")
	outPath := fs.String("out", "", "output path (required)")
	format := fs.String("format", "", "output format: pdf or xlsx (default: from output extension)")
	_ = fs.Parse(os.Args[2:])

	if *inPath == "" || *outPath == "" {
		fmt.Println("Usage: margo export -in session.json -out annotated.pdf")
		fs.PrintDefaults()
		os.Exit(1)
	}
	f := *format
	if f == "" {
		f = strings.TrimPrefix(filepath.Ext(*outPath), ".")
	}

	data, err := os.ReadFile(*inPath)
	if err != nil {
		fmt.Printf("Failed to read session artifact: %v\n", err)
		os.Exit(1)
	}
	artifact, pdfBytes, err := session.Decode(data)
	if err != nil {
		fmt.Printf("Invalid session artifact: %v\n", err)
		os.Exit(1)
	}

	var out []byte
	switch f {
	case "pdf":
		out, err = session.ExportAnnotated(pdfmark.New(), pdfBytes, artifact.Annotations)
	case "xlsx":
		out, err = session.ExportXLSX(artifact.Annotations)
	default:
		fmt.Printf("Unknown format %q (want pdf or xlsx)\n", f)
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("Export failed: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*outPath, out, 0644); err != nil {
		fmt.Printf("Failed to write output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s (%d annotations, %d bytes)\n", *outPath, len(artifact.Annotations), len(out))
}
