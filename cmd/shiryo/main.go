// Package main is the Shiryo CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hyperjump/shiryo/internal/cli"
	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/embedding"
	"github.com/hyperjump/shiryo/internal/extract"
	"github.com/hyperjump/shiryo/internal/indexer"
	"github.com/hyperjump/shiryo/internal/ingest"
	"github.com/hyperjump/shiryo/internal/metrics"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/retrieval"
	"github.com/hyperjump/shiryo/internal/server"
	"github.com/hyperjump/shiryo/internal/session"
	"github.com/hyperjump/shiryo/internal/source"
	"github.com/hyperjump/shiryo/internal/storage"
	"github.com/hyperjump/shiryo/internal/watcher"
	"github.com/hyperjump/shiryo/pkg/utils"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/shiryo/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if present; with neither file the built-in defaults are used.
// Returns the config and the path that was actually loaded ("" for defaults).
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
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg, err := config.Default()
			if err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// API keys may live in a local .env file; its absence is fine.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "build":
		runBuild()
	case "retrieve":
		runRetrieve()
	case "sessions":
		runSessions()
	case "status":
		runStatus()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("shiryo version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config, creates the logger and initializes components. Failures exit.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger, *Components) {
	cfg, resolvedConfigPath, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("data_dir", cfg.Storage.DataDir),
	)
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return cfg, logger, components
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	watchSessions := fs.Bool("watch-sessions", false, "watch the papers directory of every existing session")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	svc := components.Ingest
	watchSvc := watcher.NewWatcher(
		cfg.Watch.Extensions,
		svc.Rebuild,
		watcher.WithLogger(logger),
		watcher.WithDebounce(cfg.Watch.Debounce),
	)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	defer watchSvc.Stop()
	if *watchSessions {
		watchExistingSessions(components.Sessions, watchSvc, logger)
	}

	srv := server.NewServer(
		components.Facade,
		svc,
		components.Manager,
		components.Sessions,
		cfg,
		logger,
		components.Metrics,
		watchSvc,
	)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func watchExistingSessions(sessions *session.Registry, w *watcher.Watcher, logger *zap.Logger) {
	list, err := sessions.List()
	if err != nil {
		logger.Warn("list sessions failed", zap.Error(err))
		return
	}
	for _, s := range list {
		dir, err := sessions.PapersDir(s.ID)
		if err != nil {
			continue
		}
		if err := w.AddScope(s.ID, dir, false); err != nil {
			logger.Warn("watch session failed", zap.String("scope", s.ID), zap.Error(err))
		}
	}
}

func runBuild() {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	scope := fs.String("scope", "", "session scope to build (defaults to its papers directory)")
	location := fs.String("location", "", "explicit store location (default: the default store)")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: shiryo build [flags] [file-or-directory...]\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := parseFormat(*outputFormat)

	if *scope != "" && *location != "" {
		fmt.Fprintln(os.Stderr, "--scope and --location are mutually exclusive")
		os.Exit(1)
	}
	if *scope == "" && fs.NArg() == 0 {
		fs.Usage()
		os.Exit(1)
	}

	cfg, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	var docs []models.SourceDocument
	if fs.NArg() > 0 {
		var err error
		docs, err = source.Paths(fs.Args(), cfg.Watch.Extensions)
		if err != nil {
			fail("Reading sources failed", err)
		}
	}

	var opts []indexer.BuilderOption
	if format == cli.OutputText {
		opts = append(opts, indexer.WithProgress(printProgress))
	}

	ctx := context.Background()
	var res *storage.BuildResult
	var err error
	if *scope != "" {
		res, err = components.Ingest.BuildScope(ctx, *scope, docs, opts...)
	} else {
		var loc string
		loc, err = components.Facade.Resolve(models.RetrieveQuery{Location: *location})
		if err == nil {
			res, err = components.Ingest.BuildLocation(ctx, loc, docs, opts...)
		}
	}
	if format == cli.OutputText {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		fail("Build failed", err)
	}
	if err := cli.WriteBuildResult(os.Stdout, res, format); err != nil {
		fail("Output failed", err)
	}
}

// printProgress rewrites one stderr status line per build stage.
func printProgress(stage string, done, total int) {
	fmt.Fprintf(os.Stderr, "\r%-8s %d/%d", stage, done, total)
}

// printRetrieveUsage prints retrieve subcommand usage.
func printRetrieveUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: shiryo retrieve [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
The store is chosen from --location, then --scope, then the default store.
A missing store is not an error: the result reports found=false.

Examples:
  shiryo retrieve attention mechanism
  shiryo retrieve --scope transformers_1a2b3c4d --k 10 positional encoding
  shiryo retrieve --server http://localhost:8080 --output json "sparse retrieval"
`)
}

// buildQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after the positional
// arguments to the front so that flag.Parse() sees them. Go's flag package stops at
// the first non-flag argument.
func argsReorder(args []string) []string {
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

func runRetrieve() {
	args := argsReorder(os.Args[2:])

	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read the store directly)")
	scope := fs.String("scope", "", "session scope to query")
	location := fs.String("location", "", "explicit store location")
	k := fs.Int("k", 0, "number of evidence chunks (0 = configured default)")
	sourceID := fs.String("source", "", "only return chunks from this source id")
	outputFormat := fs.String("output", "text", "output format: text (human-readable), compact (one result per line), or json (parseable)")
	fs.Usage = func() { printRetrieveUsage(fs) }
	_ = fs.Parse(args)

	queryStr := buildQuery(fs.Args())
	if queryStr == "" {
		printRetrieveUsage(fs)
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)

	q := models.RetrieveQuery{
		Query:    queryStr,
		K:        *k,
		Location: *location,
		ScopeID:  *scope,
	}
	if *sourceID != "" {
		q.Filters = map[string]string{models.FilterSourceID: *sourceID}
	}

	var res *models.RetrieveResult
	if *serverURL != "" {
		if q.Location != "" {
			if abs, err := filepath.Abs(q.Location); err == nil {
				q.Location = abs
			}
		}
		var err error
		res, err = retrieveViaHTTP(context.Background(), *serverURL, q)
		if err != nil {
			fail("Retrieve failed", err)
		}
	} else {
		_, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		var err error
		res, err = components.Facade.Retrieve(context.Background(), q)
		if err != nil {
			fail("Retrieve failed", err)
		}
	}
	if err := cli.WriteRetrieveResult(os.Stdout, res, format); err != nil {
		fail("Output failed", err)
	}
}

// apiError is the error body written by the server.
type apiError struct {
	Error string `json:"error"`
}

func retrieveViaHTTP(ctx context.Context, serverURL string, q models.RetrieveQuery) (*models.RetrieveResult, error) {
	var result models.RetrieveResult
	var apiErr apiError
	resp, err := resty.New().
		SetBaseURL(strings.TrimRight(serverURL, "/")).
		SetTimeout(90 * time.Second).
		R().
		SetContext(ctx).
		SetBody(q).
		SetResult(&result).
		SetError(&apiErr).
		Post("/api/v1/retrieve")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		if apiErr.Error != "" {
			return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode(), apiErr.Error)
		}
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

func runSessions() {
	if len(os.Args) < 3 {
		printSessionsUsage()
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	description := fs.String("description", "", "session description (create only)")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(argsReorder(os.Args[3:]))
	format := parseFormat(*outputFormat)

	_, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()
	sessions := components.Sessions

	switch sub {
	case "list":
		list, err := sessions.List()
		if err != nil {
			fail("List failed", err)
		}
		if err := cli.WriteSessions(os.Stdout, list, format); err != nil {
			fail("Output failed", err)
		}
	case "create":
		topic := buildQuery(fs.Args())
		if topic == "" {
			fmt.Println("Usage: shiryo sessions create [--description text] <topic>")
			os.Exit(1)
		}
		s, err := sessions.Create(topic, *description)
		if err != nil {
			fail("Create failed", err)
		}
		if err := cli.WriteSessions(os.Stdout, []*models.Session{s}, format); err != nil {
			fail("Output failed", err)
		}
	case "show":
		if fs.NArg() < 1 {
			fmt.Println("Usage: shiryo sessions show <id>")
			os.Exit(1)
		}
		s, err := sessions.Get(fs.Arg(0))
		if err != nil {
			fail("Show failed", err)
		}
		if err := cli.WriteSessions(os.Stdout, []*models.Session{s}, format); err != nil {
			fail("Output failed", err)
		}
	case "delete":
		if fs.NArg() < 1 {
			fmt.Println("Usage: shiryo sessions delete <id>")
			os.Exit(1)
		}
		id := fs.Arg(0)
		if err := components.Ingest.DeleteScope(id); err != nil {
			fail("Delete failed", err)
		}
		fmt.Printf("Session deleted: %s\n", id)
	default:
		fmt.Printf("Unknown sessions subcommand: %s\n", sub)
		printSessionsUsage()
		os.Exit(1)
	}
}

func printSessionsUsage() {
	fmt.Println("Usage: shiryo sessions <list|create|show|delete> [args]")
	fmt.Println("  shiryo sessions list                 List sessions, most recently updated first")
	fmt.Println("  shiryo sessions create <topic>       Create a session for a research topic")
	fmt.Println("  shiryo sessions show <id>            Show one session")
	fmt.Println("  shiryo sessions delete <id>          Delete a session and its store")
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	scope := fs.String("scope", "", "session scope")
	location := fs.String("location", "", "explicit store location")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	_, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	loc, err := components.Facade.Resolve(models.RetrieveQuery{Location: *location, ScopeID: *scope})
	if err != nil {
		fail("Status failed", err)
	}
	st, err := components.Manager.Stats(context.Background(), loc)
	if err != nil {
		fail("Status failed", err)
	}
	if err := cli.WriteStats(os.Stdout, st, format); err != nil {
		fail("Output failed", err)
	}
}

func runWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	rebuild := fs.Bool("rebuild", true, "rebuild each scope once before watching")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: shiryo watch [flags] <scope...>")
		fmt.Println("Rebuilds a session's store whenever files in its papers directory change.")
		os.Exit(1)
	}

	cfg, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	w := watcher.NewWatcher(
		cfg.Watch.Extensions,
		components.Ingest.Rebuild,
		watcher.WithLogger(logger),
		watcher.WithDebounce(cfg.Watch.Debounce),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		fail("Failed to start watcher", err)
	}
	defer w.Stop()

	for _, scope := range fs.Args() {
		if _, err := components.Sessions.Ensure(scope); err != nil {
			fail("Watch failed", err)
		}
		dir, err := components.Sessions.PapersDir(scope)
		if err != nil {
			fail("Watch failed", err)
		}
		if err := w.AddScope(scope, dir, *rebuild); err != nil {
			fail("Watch failed", err)
		}
		fmt.Printf("Watching %s (%s)\n", scope, dir)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Stopping watcher...")
}

// Components holds initialized services.
type Components struct {
	Embedder embedding.Embedder
	Manager  *storage.Manager
	Sessions *session.Registry
	Facade   *retrieval.Facade
	Ingest   *ingest.Service
	Metrics  *metrics.Metrics
}

func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	logger = utils.OrNop(logger)
	embedder, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c := &Components{Embedder: embedder, Metrics: metrics.New()}

	chunker, err := indexer.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.Overlap())
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Manager = storage.NewManager(embedder, chunker,
		storage.WithLogger(logger),
		storage.WithMetrics(c.Metrics),
		storage.WithKeepGenerations(cfg.Storage.KeepGenerations),
		storage.WithBatchSize(cfg.Embedding.BatchSize),
		storage.WithExtractor(extract.NewExtractor(extract.WithLogger(logger))),
	)

	c.Sessions, err = session.NewRegistry(cfg.Storage.DataDir, cfg.Storage.DefaultStore, session.WithLogger(logger))
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Facade, err = retrieval.New(c.Manager, c.Sessions,
		retrieval.WithLogger(logger),
		retrieval.WithMetrics(c.Metrics),
		retrieval.WithLimits(cfg.Retrieval.DefaultK, cfg.Retrieval.MaxK),
		retrieval.WithHandleCacheSize(cfg.Retrieval.HandleCacheSize),
	)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Ingest = ingest.NewService(c.Manager, c.Sessions, c.Facade, cfg.Watch.Extensions, logger)
	return c, nil
}

func printUsage() {
	fmt.Println(`Shiryo - retrieval-augmented evidence stores for research sessions

Usage:
  shiryo <command> [flags]

Commands:
  server     Start the HTTP API server
  build      Build a store from files or a session's papers
  retrieve   Retrieve evidence chunks for a query
  sessions   Manage research sessions (list, create, show, delete)
  status     Show store statistics
  watch      Rebuild session stores when their papers change
  version    Show version
  help       Show this help

Flags (common):
  --config   Config file path (default: /usr/local/etc/shiryo/config.yaml, or ./config.yaml)

Examples:
  shiryo server --watch-sessions
  shiryo sessions create "graph neural networks"
  shiryo build --scope graph_neural_networks_4f1c2a9b
  shiryo build --location ./store ./papers
  shiryo retrieve --scope graph_neural_networks_4f1c2a9b message passing
  shiryo status --scope graph_neural_networks_4f1c2a9b`)
}
