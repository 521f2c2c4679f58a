// Package main is the kioku CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/server"
	"github.com/hyperjump/kioku/internal/vector"
	"github.com/hyperjump/kioku/internal/watcher"
	"github.com/hyperjump/kioku/pkg/utils"
)

var version = "dev"

// defaultConfigName is looked up in the working directory when --config is not given.
const defaultConfigName = "kioku.yaml"

// probeQuery is run after indexing to check that the new index answers queries.
const probeQuery = "hello"

// loadConfig loads config from path. An empty path uses kioku.yaml in the
// current directory when present, and built-in defaults otherwise.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, "", err
		}
		candidate := filepath.Join(cwd, defaultConfigName)
		if _, statErr := os.Stat(candidate); statErr != nil {
			cfg := config.Default()
			config.ExpandPaths(cfg, cwd)
			return cfg, "", nil
		}
		path = candidate
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
	// API keys may live in .env; a missing file is fine.
	_ = godotenv.Load()

	command := os.Args[1]
	switch command {
	case "index":
		runIndex(os.Args[2:])
	case "search":
		runSearch(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "serve", "server":
		runServe(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "config":
		runConfig(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("kioku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// fail prints the user-facing message for err and exits.
func fail(prefix string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %s\n", prefix, cli.ErrorMessage(err))
	os.Exit(1)
}

// setup loads config, applies the --vault override, validates, and builds a logger.
func setup(configPath, vault string, debug bool) (*config.Config, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if vault != "" {
		cfg.Vault.Path = vault
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runIndex(args []string) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (default: ./kioku.yaml or built-in defaults)")
	force := fs.Bool("force", false, "reindex every transcript, rebuilding an index made with another embedding model")
	noProgress := fs.Bool("no-progress", false, "disable the progress bar")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, logger := setup(*configPath, fs.Arg(0), *debug)
	defer logger.Sync()
	if cfg.Vault.Path == "" {
		fmt.Println("Usage: kioku index [flags] <vault-directory>  (or set vault.path in the config)")
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	showProgress := !*noProgress && cli.DefaultProgressEnabled()
	stopSpinner := cli.StartSpinner(showProgress, "loading embedding model")
	c, stats, err := buildIndex(ctx, cfg, logger, componentOptions{
		keyword:       true,
		embedProgress: cli.NewIndexProgress(showProgress, "embedding"),
		fileProgress:  cli.NewIndexProgress(showProgress, "reading"),
	}, *force, stopSpinner)
	stopSpinner()
	if stats != nil {
		cli.WriteIndexStats(os.Stdout, stats)
	}
	if err != nil {
		fail("Indexing failed", err)
	}
	defer c.Close()

	hits, err := probe(ctx, c.Engine)
	if err != nil {
		logger.Warn("search probe failed", zap.Error(err))
		fmt.Printf("Search probe failed: %s\n", cli.ErrorMessage(err))
		os.Exit(1)
	}
	if hits == 0 {
		fmt.Println("Search probe returned no results")
		return
	}
	fmt.Println("Search probe ok")
}

// buildIndex indexes cfg.Vault.Path into the configured index. The vault is
// checked before any index file is created. With force, an index built with
// another embedding model is dropped and rebuilt; without it the mismatch is
// returned. An index created by a failed run is removed again. ready, if set,
// is called once opening the components has finished.
func buildIndex(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts componentOptions, force bool, ready func()) (*Components, *models.IndexStats, error) {
	if _, err := indexer.CheckVault(cfg.Vault.Path); err != nil {
		return nil, nil, err
	}

	existed := vector.Exists(cfg.Storage.IndexPath)
	opts.create = true
	c, err := openComponents(ctx, cfg, logger, opts)
	if force && errors.Is(err, vector.ErrEmbeddingModelMismatch) {
		logger.Info("embedding model changed, rebuilding index", zap.Error(err))
		if err := dropIndices(cfg); err != nil {
			return nil, nil, fmt.Errorf("failed to drop index: %w", err)
		}
		existed = false
		c, err = openComponents(ctx, cfg, logger, opts)
	}
	if ready != nil {
		ready()
	}
	if err != nil {
		return nil, nil, err
	}

	stats, err := c.Indexer.IndexVault(ctx, cfg.Vault.Path, force)
	if err != nil {
		c.Close()
		if !existed {
			if dropErr := dropIndices(cfg); dropErr != nil {
				logger.Warn("failed to remove index from failed run", zap.Error(dropErr))
			}
		}
		return nil, stats, err
	}
	return c, stats, nil
}

// dropIndices deletes the persisted passage store and keyword index.
func dropIndices(cfg *config.Config) error {
	if err := vector.Drop(cfg.Storage.IndexPath); err != nil {
		return err
	}
	if cfg.Storage.KeywordIndexPath != "" {
		return keyword.Drop(cfg.Storage.KeywordIndexPath)
	}
	return nil
}

// probe runs a one-result query against a freshly built index and returns the number of hits.
func probe(ctx context.Context, engine *search.Engine) (int, error) {
	resp, err := engine.Search(ctx, &models.SearchQuery{Query: probeQuery, TopK: 1})
	if err != nil {
		return 0, err
	}
	return resp.Total, nil
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: kioku search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  kioku search sourdough starter
  kioku search --top-k 10 --threshold 0.4 "docker networking"
  kioku search --mode keyword kubectl
  kioku search --output json "export me" > results.json
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
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

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (for direct index access)")
	serverURL := fs.String("server", "", "server URL, e.g. http://localhost:8080 (empty = open the index directly)")
	topK := fs.Int("top-k", 0, "number of results (default from config)")
	threshold := fs.Float64("threshold", -1, "minimum relevance in [0, 1] (default from config)")
	mode := fs.String("mode", models.ModeSemantic, "search mode: semantic, keyword, or hybrid")
	outputFormat := fs.String("output", "text", "output format: text (human-readable), compact (one result per line), or json (export)")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(args))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	searchQuery := &models.SearchQuery{Query: queryStr, TopK: *topK, Mode: *mode}

	var response *models.SearchResponse
	if *serverURL != "" {
		if *threshold >= 0 {
			searchQuery.Threshold = *threshold
		}
		response, err = searchViaHTTP(*serverURL, searchQuery)
		if err != nil {
			fail("Search failed", err)
		}
	} else {
		cfg, logger := setup(*configPath, "", *debug)
		defer logger.Sync()
		searchQuery.Threshold = cfg.Search.DefaultThreshold
		if *threshold >= 0 {
			searchQuery.Threshold = *threshold
		}
		ctx, cancel := signalContext()
		defer cancel()
		c, err := openComponents(ctx, cfg, logger, componentOptions{
			keyword: searchQuery.Mode == models.ModeKeyword || searchQuery.Mode == models.ModeHybrid,
		})
		if err != nil {
			fail("Search failed", err)
		}
		defer c.Close()
		response, err = c.Engine.Search(ctx, searchQuery)
		if err != nil {
			fail("Search failed", err)
		}
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// apiError carries a server error response so that callers can match the
// underlying sentinel with errors.Is.
type apiError struct {
	status int
	body   server.ErrorResponse
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.status, e.body.Error)
}

func (e *apiError) Unwrap() error {
	switch e.body.Code {
	case server.CodeIndexNotFound:
		return vector.ErrIndexNotFound
	case server.CodeInvalidQuery:
		return search.ErrInvalidQuery
	case server.CodeEmptyVault:
		return vector.ErrEmptyInsert
	case server.CodeVaultNotFound:
		return indexer.ErrDirectoryNotFound
	case server.CodeKeywordUnavailable:
		return search.ErrKeywordUnavailable
	default:
		return nil
	}
}

func decodeAPIResponse(resp *http.Response, out any) error {
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		e := &apiError{status: resp.StatusCode}
		if json.Unmarshal(b, &e.body) != nil || e.body.Error == "" {
			e.body.Error = strings.TrimSpace(string(b))
		}
		return e
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func searchViaHTTP(serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(strings.TrimSuffix(serverURL, "/")+"/api/v1/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var response models.SearchResponse
	if err := decodeAPIResponse(resp, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func statusViaHTTP(serverURL string) (*models.IndexStatus, error) {
	resp, err := http.Get(strings.TrimSuffix(serverURL, "/") + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var status models.IndexStatus
	if err := decodeAPIResponse(resp, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (for direct index access)")
	serverURL := fs.String("server", "", "server URL (empty = open the index directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	var status *models.IndexStatus
	if *serverURL != "" {
		var err error
		status, err = statusViaHTTP(*serverURL)
		if err != nil {
			fail("Status failed", err)
		}
	} else {
		cfg, logger := setup(*configPath, "", false)
		defer logger.Sync()
		ctx := context.Background()
		c, err := openComponents(ctx, cfg, logger, componentOptions{})
		if err != nil {
			fail("Status failed", err)
		}
		defer c.Close()
		status, err = c.Store.Stats(ctx)
		if err != nil {
			fail("Status failed", err)
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		cli.WriteIndexStatus(os.Stdout, status)
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	watch := fs.Bool("watch", false, "watch the vault and reindex changed transcripts")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, logger := setup(*configPath, fs.Arg(0), *debug)
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	c, err := openComponents(ctx, cfg, logger, componentOptions{create: true, keyword: true})
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer c.Close()

	if *watch {
		w, err := startWatcher(ctx, cfg, c, logger)
		if err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
	}

	srv := server.NewServer(c.Engine, c.Indexer, c.Store, cfg.Vault.Path, &cfg.Server, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, logger := setup(*configPath, fs.Arg(0), *debug)
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	c, err := openComponents(ctx, cfg, logger, componentOptions{create: true, keyword: true})
	if err != nil {
		fail("Failed to open index", err)
	}
	defer c.Close()

	w, err := startWatcher(ctx, cfg, c, logger)
	if err != nil {
		fail("Failed to start watcher", err)
	}
	defer w.Stop()
	fmt.Printf("Watching %s (Ctrl+C to stop)\n", w.Root())
	<-ctx.Done()
}

// startWatcher brings the index up to date and then watches the vault for changes.
func startWatcher(ctx context.Context, cfg *config.Config, c *Components, logger *zap.Logger) (*watcher.Watcher, error) {
	if cfg.Vault.Path == "" {
		return nil, errors.New("vault.path is not set")
	}
	if _, err := c.Indexer.IndexVault(ctx, cfg.Vault.Path, false); err != nil && !indexer.IsEmptyVault(err) {
		return nil, err
	}
	idx := c.Indexer
	w := watcher.NewWatcher(
		cfg.Vault.Path,
		c.Loader.Accepts,
		func(path string) {
			if err := idx.IndexFile(ctx, path); err != nil {
				logger.Warn("watch index file failed", zap.String("path", path), zap.Error(err))
			}
		},
		func(path string) {
			if err := idx.RemoveFile(ctx, path); err != nil {
				logger.Warn("watch remove file failed", zap.String("path", path), zap.Error(err))
			}
		},
		watcher.WithLogger(logger),
		watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMS)*time.Millisecond),
	)
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func runConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	write := fs.String("write", "", "write a starter config to this path")
	_ = fs.Parse(args)

	if *write != "" {
		if _, err := os.Stat(*write); err == nil {
			fmt.Fprintf(os.Stderr, "Refusing to overwrite existing %s\n", *write)
			os.Exit(1)
		}
		if err := config.Save(*write, starterConfig()); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", *write)
		return
	}

	cfg, resolved, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if resolved == "" {
		resolved = "(built-in defaults)"
	}
	fmt.Printf("# %s\n", resolved)
	cfg.Embedding.OpenAIAPIKey = redact(cfg.Embedding.OpenAIAPIKey)
	out, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode config: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(out)
}

// starterConfig is the config written by `kioku config --write`. Paths are
// relative to the config file.
func starterConfig() *config.Config {
	cfg := config.Default()
	cfg.Storage.IndexPath = "./.kioku/index"
	cfg.Storage.KeywordIndexPath = "./.kioku/keyword"
	cfg.Embedding.ModelPath = "./.kioku/models/all-MiniLM-L6-v2.onnx"
	cfg.Vault.Path = "./transcripts"
	return cfg
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

func printUsage() {
	fmt.Println(`kioku - Semantic search over conversation transcripts

Usage:
  kioku index [flags] [vault]     Index the transcripts in a vault directory
  kioku search [flags] <query>    Search indexed passages
  kioku status [flags]            Show index status
  kioku serve [flags] [vault]     Start the HTTP server
  kioku watch [flags] [vault]     Reindex transcripts as they change
  kioku config [--write path]     Show the effective config or write a starter one
  kioku version                   Show version
  kioku help                      Show this help

Index Flags:
  --config string    Config file path (default: ./kioku.yaml, else built-in defaults)
  --force            Drop the existing index and rebuild from scratch
  --no-progress      Disable the progress bar

Search Flags:
  --config string     Config file path
  --server string     Query a running server instead of opening the index
  --top-k int         Number of results (default from config)
  --threshold float   Minimum relevance in [0, 1] (default from config)
  --mode string       semantic, keyword, or hybrid (default: semantic)
  --output string     text, compact, or json (default: text)

Status Flags:
  --server string    Query a running server instead of opening the index
  --output string    text or json (default: text)

Serve Flags:
  --watch            Watch the vault and reindex changed transcripts

Examples:
  kioku config --write kioku.yaml
  kioku index ~/transcripts
  kioku search "how do I feed a sourdough starter"
  kioku search --output json --top-k 20 docker
  kioku serve --watch
  kioku status --output json`)
}
