// Package main is the Tansaku CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kurosawa/tansaku/internal/cli"
	"github.com/kurosawa/tansaku/internal/config"
	"github.com/kurosawa/tansaku/internal/embedding"
	"github.com/kurosawa/tansaku/internal/index"
	"github.com/kurosawa/tansaku/internal/keyword"
	"github.com/kurosawa/tansaku/internal/models"
	"github.com/kurosawa/tansaku/internal/search"
	"github.com/kurosawa/tansaku/internal/server"
	"github.com/kurosawa/tansaku/internal/vault"
	"github.com/kurosawa/tansaku/internal/vectorstore"
	"github.com/kurosawa/tansaku/internal/watcher"
	"github.com/kurosawa/tansaku/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/tansaku/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used, so that "tansaku server" from the project dir uses the project's
// config. Returns the config and the path that was actually loaded.
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
	case "search":
		runSearch()
	case "build":
		runBuild()
	case "refresh", "update":
		runRefresh()
	case "remove":
		runRemove()
	case "stats":
		runStats()
	case "version", "--version", "-v":
		fmt.Printf("tansaku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// Components holds the initialized services behind a running index.
type Components struct {
	Vault     *vault.FS
	Embedder  embedding.Embedder
	Keywords  *keyword.BleveIndex
	Persister vectorstore.Persister
	Manager   *index.Manager
	Engine    *search.Engine
}

func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Keywords != nil {
		_ = c.Keywords.Close()
	}
	if c.Persister != nil {
		_ = c.Persister.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if len(cfg.Vault.Directories) == 0 {
		return nil, fmt.Errorf("no vault directories configured")
	}
	source, err := vault.NewFS(&cfg.Vault, vault.WithFSLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vault: %w", err)
	}

	embedder, err := embedding.NewEmbedder(&cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	keywords, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	persister, err := vectorstore.NewPersister(cfg.Storage.SnapshotBackend, cfg.Storage.SnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize snapshot persister: %w", err)
	}

	manager, err := index.NewManager(source, embedder, &cfg.Index,
		index.WithLogger(logger),
		index.WithKeywordIndex(keywords),
		index.WithPersister(persister),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize index manager: %w", err)
	}

	engine := search.NewEngine(manager, keywords, manager.Store(), &cfg.Search)

	return &Components{
		Vault:     source,
		Embedder:  embedder,
		Keywords:  keywords,
		Persister: persister,
		Manager:   manager,
		Engine:    engine,
	}, nil
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

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	manager := components.Manager
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	if err := manager.LoadSnapshot(runCtx); err != nil {
		logger.Warn("snapshot load failed, starting from an empty index", zap.Error(err))
	}
	go func() {
		if err := manager.Run(runCtx); err != nil && runCtx.Err() == nil {
			logger.Error("index event loop stopped", zap.Error(err))
		}
	}()
	if manager.State() == index.StateEmpty {
		go func() {
			if _, err := manager.Build(runCtx, false); err != nil && runCtx.Err() == nil {
				logger.Error("initial build failed", zap.Error(err))
			}
		}()
	}

	watchOpts := []watcher.Option{}
	if debugMode {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watchSvc := watcher.New(
		cfg.Vault.Directories,
		cfg.Vault.Extensions,
		cfg.Vault.RecursiveOrDefault(),
		manager,
		watchOpts...,
	)
	if err := watchSvc.Start(runCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}

	srv := server.NewServer(components.Engine, manager, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchSvc.Stop()
	runCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: tansaku search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  tansaku search machine learning
  tansaku search "machine learning"          # same as above
  tansaku search --hybrid neural networks    # fuse keyword and semantic scores
  tansaku search --limit 20 --output json your query
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the
// query to the front of the slice so that flag.Parse() sees them. Go's flag
// package stops at the first non-flag argument, so "tansaku search query
// -limit 5" would otherwise leave -limit unparsed.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSearch() {
	searchArgs := searchArgsReorder(os.Args[2:])

	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = open the index directly)")
	limit := fs.Int("limit", 10, "number of results")
	hybrid := fs.Bool("hybrid", false, "fuse keyword and semantic scores per document")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgs)

	if fs.NArg() < 1 {
		printSearchUsage(fs)
		os.Exit(1)
	}
	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}

	format := cli.OutputText
	switch *outputFormat {
	case "json":
		format = cli.OutputJSON
	case "compact":
		format = cli.OutputCompact
	case "text":
		format = cli.OutputText
	default:
		fmt.Printf("Unknown output format %q; use text, compact, or json\n", *outputFormat)
		os.Exit(1)
	}

	searchQuery := &models.SearchQuery{
		Query:  queryStr,
		Limit:  *limit,
		Hybrid: *hybrid,
	}

	if *serverURL != "" {
		// Use the HTTP API when the server is running (avoids a Bleve/SQLite
		// lock conflict with the server process).
		response, err := searchViaHTTP(*serverURL, searchQuery)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Direct index access (when the server is not running). The index is
	// restored from the last snapshot; documents changed since then are
	// reconciled against the vault before searching.
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	if err := components.Manager.LoadSnapshot(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Snapshot load failed: %v\n", err)
		os.Exit(1)
	}
	if components.Manager.State() == index.StateEmpty {
		fmt.Fprintln(os.Stderr, "Index is empty; run \"tansaku build\" or start the server first.")
		os.Exit(1)
	}

	response, err := components.Engine.Search(ctx, searchQuery)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func searchViaHTTP(serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runBuild() {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	force := fs.Bool("force", false, "re-embed every document even if unchanged")
	_ = fs.Parse(os.Args[2:])

	body, _ := json.Marshal(map[string]bool{"force": *force})
	resp, err := http.Post(*serverURL+"/api/v1/index/build", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusConflict {
		fmt.Fprintln(os.Stderr, "A build is already in progress.")
		os.Exit(1)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Build failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var result models.BuildResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Build %s: %d documents, %d chunks in %dms\n",
		result.BuildID, result.DocumentCount, result.ChunkCount, result.DurationMillis)
	for _, skipped := range result.SkippedDocuments {
		fmt.Printf("  skipped %s: %s\n", skipped.DocumentID, skipped.Reason)
	}
}

func runRefresh() {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: tansaku refresh [flags] <path>")
		os.Exit(1)
	}
	path, _ := filepath.Abs(fs.Arg(0))
	id := vault.DocumentID(path)

	body, _ := json.Marshal(map[string]string{"id": id})
	resp, err := http.Post(*serverURL+"/api/v1/documents/refresh", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Refresh failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	fmt.Printf("Refreshed: %s\n", id)
}

func runRemove() {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: tansaku remove [flags] <path-or-id>")
		os.Exit(1)
	}
	path, _ := filepath.Abs(fs.Arg(0))
	id := vault.DocumentID(path)

	body, _ := json.Marshal(map[string]string{"id": id})
	req, _ := http.NewRequest(http.MethodDelete, *serverURL+"/api/v1/documents", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Remove failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	fmt.Printf("Removed: %s\n", id)
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/v1/stats")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Stats failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var stats models.IndexStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(stats); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("state:           %s\n", stats.State)
		fmt.Printf("documents:       %d\n", stats.DocumentCount)
		fmt.Printf("chunks:          %d\n", stats.ChunkCount)
		fmt.Printf("backend:         %s\n", stats.BackendID)
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`tansaku - Semantic index and search for a personal knowledge vault

Usage:
  tansaku server [flags]           Start the HTTP server
  tansaku search [flags] <query>   Search the vault
  tansaku build [flags]            Rebuild the index from the vault
  tansaku refresh [flags] <path>   Re-index a single document
  tansaku remove [flags] <path>    Remove a document from the index
  tansaku stats [flags]            Show index state and counts
  tansaku version                  Show version
  tansaku help                     Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/tansaku/config.yaml)
  --debug            Enable debug logging

Search Flags:
  --config string    Config file path (direct mode only)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") to open the index directly.
  --limit int        Number of results (default: 10)
  --hybrid           Fuse keyword and semantic scores per document
  --output string    Output format: text, compact, or json (default: text)

Build Flags:
  --server string    Server URL
  --force            Re-embed every document even if unchanged

Examples:
  tansaku server
  tansaku search "machine learning algorithms"
  tansaku search --hybrid --output json "query"
  tansaku build --force
  tansaku refresh ~/vault/notes/today.md
  tansaku remove ~/vault/notes/old.md
  tansaku stats`)
}
