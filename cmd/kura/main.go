// Package main is the kura CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/chunker"
	"github.com/hyperjump/kura/internal/cli"
	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/ingest"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/retry"
	"github.com/hyperjump/kura/internal/vectorstore"
	"github.com/hyperjump/kura/internal/vision"
	"github.com/hyperjump/kura/internal/watcher"
	"github.com/hyperjump/kura/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kura/config.yaml"

// loadConfig loads config from path. When path is the default and a config.yaml exists in the
// current directory, that file is used instead. Returns the config and the path actually loaded.
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
	case "ingest":
		runIngest()
	case "delete":
		runDelete()
	case "watch":
		runWatch()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kura version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// argsReorder moves flags that appear after the positional arguments to the front so that
// flag.Parse sees them ("kura ingest docs/ --batch-size 8").
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

// setup loads the config and builds a logger; it exits the process on failure.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
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
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	contentType := fs.String("type", "", "content type of a single file (default: derived from the extension)")
	batchSize := fs.Int("batch-size", 0, "records enriched and upserted per batch (default from config)")
	delay := fs.Duration("delay", 0, "wait between batches, e.g. 2s (default from config)")
	force := fs.Bool("force", false, "re-ingest files even when unchanged")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: kura ingest [flags] <file-or-directory>")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	path := fs.Arg(0)

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	applyIngestFlags(cfg, *batchSize, *delay)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stat path: %v\n", err)
		os.Exit(1)
	}

	summary := &cli.IngestSummary{Path: path}
	switch {
	case info.IsDir():
		n, err := components.Pipeline.IngestDirectory(ctx, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ingest failed after %d files: %v\n", n, err)
			os.Exit(exitCode(err))
		}
		summary.Files = n
	default:
		var res *ingest.Result
		if *contentType != "" || *force {
			res, err = components.Pipeline.Ingest(ctx, buildRequest(path, *contentType))
		} else {
			res, err = components.Pipeline.IngestFile(ctx, path)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
			os.Exit(exitCode(err))
		}
		summary.DocumentID = res.DocumentID
		summary.Records = res.Records
		summary.Deleted = res.Deleted
		summary.Batches = res.Batches
		summary.Skipped = res.Skipped
	}
	if err := cli.WriteIngestSummary(os.Stdout, summary, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// applyIngestFlags overrides the config's batching defaults with non-zero flag values.
func applyIngestFlags(cfg *config.Config, batchSize int, delay time.Duration) {
	if batchSize > 0 {
		cfg.Ingest.BatchSize = batchSize
	}
	if delay > 0 {
		cfg.Ingest.InterBatchDelay = delay
	}
}

// buildRequest returns a request for a file on disk with an optional content type override.
func buildRequest(path, contentType string) *models.DocumentRequest {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &models.DocumentRequest{Path: path, ContentType: contentType}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	name := fs.String("name", "", "file name of a document ingested from memory (instead of a path)")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	path := fs.Arg(0)
	if path == "" && *name == "" {
		fmt.Println("Usage: kura delete [flags] <path>  |  kura delete --name <file-name>")
		os.Exit(1)
	}

	cfg, logger := setup(*configPath, false)
	defer logger.Sync()
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	n, err := components.Pipeline.DeleteDocument(ctx, path, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Deletion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %d records\n", n)
}

func runWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (file events, skipped files)")
	noSync := fs.Bool("no-sync", false, "do not ingest existing files on start")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()

	dirs := cfg.Watch.Directories
	if fs.NArg() > 0 {
		dirs = fs.Args()
	}
	if len(dirs) == 0 {
		fmt.Println("Usage: kura watch [flags] [directory...]  (or set watch.directories in config)")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	w := watcher.New(dirs, cfg.Ingest.Extensions, cfg.Watch.RecursiveOrDefault(), components.Pipeline,
		watcher.WithLogger(logger))
	if err := w.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	if !*noSync {
		w.SyncExistingFiles()
	}

	<-ctx.Done()
	logger.Info("Shutting down...")
	w.Stop()
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, logger := setup(*configPath, false)
	defer logger.Sync()

	ctx := context.Background()
	coll, err := vectorstore.New(ctx, cfg.Store, cfg.Embedding.Dimensions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer coll.Close()
	if err := coll.EnsureExists(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open collection: %v\n", err)
		os.Exit(1)
	}
	count, err := coll.Count(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Count records failed: %v\n", err)
		os.Exit(1)
	}

	status := buildStatus(cfg, count)
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func buildStatus(cfg *config.Config, count int64) *cli.Status {
	status := &cli.Status{
		Records: count,
		Config: &cli.StatusConfig{
			Backend:             cfg.Store.Backend,
			Collection:          cfg.Store.Collection,
			EmbeddingProvider:   cfg.Embedding.Provider,
			EmbeddingModel:      cfg.Embedding.Model,
			EmbeddingDimensions: cfg.Embedding.Dimensions,
			VisionProvider:      cfg.Vision.Provider,
			MaxTokens:           cfg.Chunking.MaxTokens,
			BatchSize:           cfg.Ingest.BatchSize,
		},
	}
	if cfg.Store.Backend == config.BackendSQLite {
		status.Config.DatabasePath = cfg.Store.DatabasePath
		if n, err := cli.DiskUsageBytes(cli.SQLiteFiles(cfg.Store.DatabasePath)...); err == nil {
			status.DiskUsageBytes = &n
		}
	}
	return status
}

// Components holds initialized services.
type Components struct {
	Collection vectorstore.Collection
	Embedder   embedding.Embedder
	Vision     vision.Capability
	Pipeline   *ingest.Pipeline
}

func (c *Components) Close() {
	if c.Collection != nil {
		_ = c.Collection.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if cl, ok := c.Vision.(interface{ Close() error }); ok {
		_ = cl.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	counter, err := chunker.NewCounter(cfg.Chunking.Tokenizer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
	}
	ch := chunker.NewChunker(counter, cfg.Chunking.MaxTokens)

	policy := retry.Policy{Attempts: cfg.Retry.Attempts, Delay: cfg.Retry.Delay}

	c.Embedder, err = embedding.New(ctx, cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	gen := embedding.NewGenerator(c.Embedder,
		embedding.WithPolicy(policy),
		embedding.WithCacheSize(cfg.Embedding.CacheSize),
		embedding.WithModelName(cfg.Embedding.Model),
		embedding.WithLogger(logger),
	)

	var vis *vision.Extractor
	c.Vision, err = vision.New(ctx, cfg.Vision)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize vision: %w", err)
	}
	if c.Vision != nil {
		vis = vision.NewExtractor(c.Vision, vision.WithPolicy(policy), vision.WithLogger(logger))
	}

	c.Collection, err = vectorstore.New(ctx, cfg.Store, c.Embedder.Dimensions())
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	c.Pipeline = ingest.New(ch, gen, vis, c.Collection,
		ingest.WithBatchDefaults(cfg.Ingest.BatchSize, cfg.Ingest.InterBatchDelay),
		ingest.WithExtensions(cfg.Ingest.Extensions),
		ingest.WithColumnLimits(cfg.Chunking.MaxColumnsPerChunk, cfg.Chunking.MinColumnsPerChunk),
		ingest.WithLogger(logger),
	)
	logger.Debug("components initialized",
		zap.String("backend", cfg.Store.Backend),
		zap.String("embedding", cfg.Embedding.Provider),
		zap.Bool("vision", vis != nil))
	return c, nil
}

// exitCode returns 2 for requests rejected at validation and 1 for any other failure.
func exitCode(err error) int {
	var se *ingest.StageError
	if errors.As(err, &se) && se.Stage == ingest.StageValidate {
		return 2
	}
	return 1
}

func printUsage() {
	fmt.Println(`kura - document ingestion into vector collections

Usage:
  kura ingest [flags] <file-or-directory>   Extract, chunk, embed and store documents
  kura delete [flags] <path>                Delete a document's records
  kura watch [flags] [directory...]         Keep directories in sync with the collection
  kura status [flags]                       Show collection status
  kura version                              Show version
  kura help                                 Show this help

Ingest Flags:
  --config string      Config file path (default: /usr/local/etc/kura/config.yaml)
  --type string        Content type of a single file, e.g. text/csv (default: from extension)
  --batch-size int     Records per batch (default from config)
  --delay duration     Wait between batches, e.g. 2s (default from config)
  --force              Re-ingest a file even when unchanged
  --output string      Output format: text or json (default: text)
  --debug              Enable debug logging

Delete Flags:
  --config string    Config file path
  --name string      File name of a document ingested without a path

Watch Flags:
  --config string    Config file path
  --no-sync          Do not ingest existing files on start
  --debug            Enable debug logging

Status Flags:
  --config string    Config file path
  --output string    Output format: text or json (default: text)

Examples:
  kura ingest report.pdf
  kura ingest --batch-size 8 --delay 2s ./docs
  kura ingest --type text/csv export.dat
  kura delete report.pdf
  kura watch ~/Documents/notes
  kura status --output json`)
}
