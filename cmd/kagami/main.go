// Package main is the kagami CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/blob"
	"github.com/hyperjump/kagami/internal/cli"
	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/internal/ingest"
	"github.com/hyperjump/kagami/internal/keyword"
	"github.com/hyperjump/kagami/internal/metrics"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/search"
	"github.com/hyperjump/kagami/internal/server"
	"github.com/hyperjump/kagami/internal/storage"
	"github.com/hyperjump/kagami/internal/vector"
	"github.com/hyperjump/kagami/internal/watcher"
	"github.com/hyperjump/kagami/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/kagami/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins if it exists, so running from a checkout uses the checkout's config.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
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
	args := os.Args[2:]
	var err error
	switch command {
	case "server":
		err = runServer(args)
	case "ingest":
		err = runIngest(args)
	case "bulk":
		err = runBulk(args)
	case "search":
		err = runSearch(args)
	case "stats":
		err = runStats(args)
	case "clear":
		err = runClear(args)
	case "entity":
		err = runEntity(args)
	case "version", "--version", "-v":
		fmt.Printf("kagami version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, err)
		os.Exit(1)
	}
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Debug = cfg.Debug || *debug
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", cfg.Debug),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if components.Inbox != nil {
		if err := components.Inbox.Start(ctx); err != nil {
			logger.Fatal("Failed to start inbox watcher", zap.Error(err))
		}
		defer components.Inbox.Stop()
	}

	srv := server.NewServer(
		components.Pipeline,
		components.Orchestrator,
		components.Engine,
		components.Store,
		cfg,
		logger,
		server.WithMetrics(components.Metrics),
		server.WithEntityIndex(components.Entities),
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
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Stop(shutdownCtx)
}

func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	entityID := fs.String("entity", "", "parent entity id")
	noUpdate := fs.Bool("no-update", false, "keep the entity's current image_url")
	var metadata metadataFlag
	fs.Var(&metadata, "metadata", "metadata key=value (repeatable)")
	_ = fs.Parse(argsReorder(args))

	if fs.NArg() != 1 {
		return errors.New("usage: kagami ingest [flags] --entity <id> <image-source>")
	}
	req := &cli.EmbedRequest{
		ImageSource: fs.Arg(0),
		EquipmentID: *entityID,
		Metadata:    metadata.values,
	}
	if *noUpdate {
		update := false
		req.UpdateImageURL = &update
	}
	resp, err := cli.NewClient(*serverURL, 0).Embed(context.Background(), req)
	if err != nil {
		return err
	}
	fmt.Printf("Embedding stored: %s (entity %s, %.2fs)\n", resp.EmbeddingID, resp.EquipmentID, resp.ProcessingTimeSeconds)
	if resp.ImageURLUpdated {
		fmt.Printf("Entity image_url updated to %s\n", resp.UpdatedURL)
	}
	return nil
}

func runBulk(args []string) error {
	fs := flag.NewFlagSet("bulk", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(args))

	if fs.NArg() != 1 {
		return errors.New("usage: kagami bulk [flags] <file.json|->")
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}
	var r io.Reader = os.Stdin
	if name := fs.Arg(0); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	reqs, err := readBulkRequests(r)
	if err != nil {
		return err
	}
	outcomes, err := cli.NewClient(*serverURL, 0).EmbedBulk(context.Background(), reqs)
	if err != nil {
		return err
	}
	return cli.WriteOutcomes(os.Stdout, outcomes, format)
}

// readBulkRequests accepts either a JSON array of items or an object with an "images" array.
func readBulkRequests(r io.Reader) ([]*cli.EmbedRequest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var items []*cli.EmbedRequest
	if err := json.Unmarshal(data, &items); err == nil {
		return items, nil
	}
	var wrapped struct {
		Images []*cli.EmbedRequest `json:"images"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse bulk file: %w", err)
	}
	if wrapped.Images == nil {
		return nil, errors.New("parse bulk file: no images")
	}
	return wrapped.Images, nil
}

func runSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, `server URL (empty = search the database directly)`)
	text := fs.Bool("text", false, "treat the query as text instead of an image source")
	topK := fs.Int("top-k", 0, "number of results (0 = server default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(args))

	if fs.NArg() < 1 {
		return errors.New("usage: kagami search [flags] <image-source | --text words...>")
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}
	req := buildSearchRequest(fs.Args(), *text, *topK)
	ctx := context.Background()

	var response *models.SearchResponse
	if *serverURL != "" {
		response, err = cli.NewClient(*serverURL, 0).Search(ctx, req)
	} else {
		response, err = searchDirect(ctx, *configPath, req)
	}
	if err != nil {
		return err
	}
	return cli.WriteSearchResults(os.Stdout, response, format)
}

// buildSearchRequest joins positional args for text queries so quoting is optional.
func buildSearchRequest(args []string, text bool, topK int) *cli.SearchRequest {
	req := &cli.SearchRequest{QueryType: models.QueryImage}
	if text {
		req.QueryType = models.QueryText
		req.TextQuery = strings.TrimSpace(strings.Join(args, " "))
	} else if len(args) > 0 {
		req.ImageSource = args[0]
	}
	if topK > 0 {
		req.TopK = &topK
	}
	return req
}

func searchDirect(ctx context.Context, configPath string, req *cli.SearchRequest) (*models.SearchResponse, error) {
	components, cfg, cleanup, err := openDirect(ctx, configPath)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	q := &models.SearchQuery{
		Type:   req.QueryType,
		Source: req.ImageSource,
		Text:   req.TextQuery,
		TopK:   cfg.Search.DefaultTopK,
	}
	if req.TopK != nil {
		q.TopK = *req.TopK
	}
	return components.Engine.Query(ctx, q)
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read the database directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if *serverURL != "" {
		stats, err := cli.NewClient(*serverURL, 0).Stats(ctx)
		if err != nil {
			return err
		}
		return cli.WriteStats(os.Stdout, &stats.Stats, stats.DatabaseSizeBytes, format)
	}

	components, cfg, cleanup, err := openDirect(ctx, *configPath)
	if err != nil {
		return err
	}
	defer cleanup()
	total, err := components.Store.CountEmbeddings(ctx)
	if err != nil {
		return err
	}
	entities, err := components.Store.CountEntitiesWithEmbeddings(ctx)
	if err != nil {
		return err
	}
	stats := &models.Stats{
		TotalEmbeddings:        total,
		EntitiesWithEmbeddings: entities,
		Model:                  cfg.Embedding.ModelName,
		Dimensions:             cfg.Embedding.Dimensions,
	}
	var size *int64
	if n, err := components.Store.SizeBytes(ctx); err == nil {
		size = &n
	}
	return cli.WriteStats(os.Stdout, stats, size, format)
}

func runClear(args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	yes := fs.Bool("yes", false, "confirm deleting every embedding record")
	_ = fs.Parse(args)

	if !*yes {
		return errors.New("refusing to clear without --yes")
	}
	n, err := cli.NewClient(*serverURL, 0).Clear(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d embedding record(s)\n", n)
	return nil
}

func runEntity(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: kagami entity add|search|embed [flags]")
	}
	switch args[0] {
	case "add":
		return runEntityAdd(args[1:])
	case "search":
		return runEntitySearch(args[1:])
	case "embed":
		return runEntityEmbed(args[1:])
	default:
		return fmt.Errorf("unknown entity command: %s", args[0])
	}
}

func runEntitySearch(args []string) error {
	fs := flag.NewFlagSet("entity search", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	typ := fs.String("type", "", "type contains")
	country := fs.String("country", "", "country contains")
	inService := fs.String("in-service", "", "true or false")
	limit := fs.Int("limit", 0, "page size")
	offset := fs.Int("offset", 0, "page offset")
	_ = fs.Parse(argsReorder(args))

	filter := &cli.EntityFilter{
		Query:   strings.Join(fs.Args(), " "),
		Type:    *typ,
		Country: *country,
		Offset:  *offset,
		Limit:   *limit,
	}
	if *inService != "" {
		b, err := strconv.ParseBool(*inService)
		if err != nil {
			return fmt.Errorf("--in-service must be true or false")
		}
		filter.InService = &b
	}
	entities, err := cli.NewClient(*serverURL, 0).ListEntities(context.Background(), filter)
	if err != nil {
		return err
	}
	for _, e := range entities {
		fmt.Printf("%s\t%s\t%s\t%s\n", e.ID, e.Name, e.Type, e.Country)
	}
	return nil
}

func runEntityEmbed(args []string) error {
	fs := flag.NewFlagSet("entity embed", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() != 1 {
		return errors.New("usage: kagami entity embed [flags] <entity-id>")
	}
	resp, err := cli.NewClient(*serverURL, 0).EmbedEntity(context.Background(), fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Printf("Embedding created: %s (entity %s)\n", resp.EmbeddingID, resp.EquipmentID)
	return nil
}

func runEntityAdd(args []string) error {
	fs := flag.NewFlagSet("entity add", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	id := fs.String("id", "", "entity id")
	name := fs.String("name", "", "entity name")
	typ := fs.String("type", "", "entity type")
	country := fs.String("country", "", "country of origin")
	year := fs.Int("year", 0, "year introduced")
	inService := fs.Bool("in-service", false, "entity is in service")
	imageURL := fs.String("image-url", "", "current reference image URL")
	_ = fs.Parse(args)

	e := &models.Entity{
		ID:        *id,
		Name:      *name,
		Type:      *typ,
		Country:   *country,
		Year:      *year,
		InService: *inService,
		ImageURL:  *imageURL,
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if err := cli.NewClient(*serverURL, 0).CreateEntity(context.Background(), e); err != nil {
		return err
	}
	fmt.Printf("Entity created: %s\n", e.ID)
	return nil
}

// openDirect builds components against the configured database for CLI commands run
// without a server.
func openDirect(ctx context.Context, configPath string) (*Components, *config.Config, func(), error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, nil, nil, err
	}
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}
	return components, cfg, func() {
		components.Close()
		_ = logger.Sync()
	}, nil
}

// argsReorder moves flags that follow positional arguments to the front; flag.Parse stops
// at the first non-flag argument.
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

// metadataFlag collects repeated key=value flags. Numeric and boolean values keep their type.
type metadataFlag struct {
	values map[string]interface{}
}

func (m *metadataFlag) String() string {
	if m == nil || len(m.values) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m.values))
	for k, v := range m.values {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ",")
}

func (m *metadataFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("metadata must be key=value, got %q", s)
	}
	if m.values == nil {
		m.values = make(map[string]interface{})
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		m.values[k] = n
	} else if b, err := strconv.ParseBool(v); err == nil {
		m.values[k] = b
	} else {
		m.values[k] = v
	}
	return nil
}

// Components holds initialized services.
type Components struct {
	Store        *storage.SQLStore
	Extractor    embedding.Extractor
	Resolver     *blob.Resolver
	Metrics      *metrics.Metrics
	Pipeline     *ingest.Pipeline
	Orchestrator *ingest.Orchestrator
	Engine       *search.Engine
	Entities     *keyword.BleveIndex
	Inbox        *watcher.Inbox
}

func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Extractor != nil {
		_ = c.Extractor.Close()
	}
	if c.Entities != nil {
		_ = c.Entities.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLStore(ctx, cfg.Database, storage.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &Components{Store: store}

	keys, err := blob.NewKeyStore(ctx, cfg.Blob)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}
	fetcher := blob.NewHTTPFetcher(cfg.Blob.FetchTimeout,
		blob.WithRetries(cfg.Blob.Retries()),
		blob.WithMaxBytes(cfg.Blob.MaxFetchBytes),
		blob.WithFetchLogger(logger),
	)
	var resolverOpts []blob.ResolverOption
	if cfg.Blob.PublicBaseURL != "" {
		resolverOpts = append(resolverOpts, blob.WithPublicBaseURL(cfg.Blob.PublicBaseURL))
	}
	c.Resolver = blob.NewResolver(keys, fetcher, resolverOpts...)

	c.Extractor, err = embedding.New(cfg.Embedding)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize extractor: %w", err)
	}
	logger.Info("extractor initialized",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", c.Extractor.Model()),
		zap.Int("dimensions", c.Extractor.Dimensions()),
	)

	ranker, err := vector.NewRanker(vector.RankerType(cfg.Search.Ranker))
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Metrics = metrics.New()
	c.Pipeline = ingest.NewPipeline(store, c.Resolver, c.Extractor,
		ingest.WithLogger(logger),
		ingest.WithMetrics(c.Metrics),
	)
	c.Orchestrator = ingest.NewOrchestrator(c.Pipeline, cfg.Ingest)
	c.Engine = search.NewEngine(store, c.Extractor, c.Resolver,
		search.WithRanker(ranker),
		search.WithMetrics(c.Metrics),
		search.WithLogger(logger),
	)

	c.Entities, err = keyword.NewBleveIndex(cfg.Search.EntityIndexPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize entity index: %w", err)
	}
	indexed, err := c.Entities.Rebuild(ctx, store)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to build entity index: %w", err)
	}
	logger.Info("entity index ready",
		zap.String("path", cfg.Search.EntityIndexPath),
		zap.Int("entities", indexed),
	)

	if cfg.Watch.Enabled {
		local, ok := keys.(*blob.LocalStore)
		if !ok {
			c.Close()
			return nil, errors.New("watch requires the local blob backend")
		}
		c.Inbox = watcher.NewInbox(local, c.Pipeline, cfg.Watch, logger)
	}
	return c, nil
}

func printUsage() {
	fmt.Println(`kagami - Image similarity search over CLIP embeddings

Usage:
  kagami server [flags]                    Start the HTTP server
  kagami ingest [flags] <image-source>     Embed one image under an entity
  kagami bulk [flags] <file.json|->        Embed a batch of images
  kagami search [flags] <image-source>     Find entities with similar images
  kagami search --text [flags] <words...>  Find entities matching a description
  kagami stats [flags]                     Show collection statistics
  kagami clear --yes                       Delete every embedding record
  kagami entity add [flags]                Register a parent entity
  kagami entity search [flags] [words...]  Find entities by keyword and filters
  kagami entity embed <entity-id>          Embed the image an entity already points at
  kagami version                           Show version
  kagami help                              Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kagami/config.yaml)
  --debug            Enable debug logging

Client Flags:
  --server string    Server URL (default: http://localhost:8080). search and stats accept
                     --server "" to read the database directly using --config.
  --output string    Output format for search, bulk and stats: text or json

Ingest Flags:
  --entity string    Parent entity id
  --no-update        Keep the entity's current image_url
  --metadata k=v     Attach metadata (repeatable)

Search Flags:
  --text             Treat arguments as a text query
  --top-k int        Number of results (default from server config)

Examples:
  kagami server
  kagami entity add --id leopard-2 --name "Leopard 2" --type tank --country Germany
  kagami ingest --entity leopard-2 tanks/leopard-2a6.jpg
  kagami ingest --entity leopard-2 --metadata angle=side https://example.com/l2.jpg
  kagami bulk images.json
  kagami search --top-k 3 tanks/unknown.jpg
  kagami search --text main battle tank with desert camouflage
  kagami stats --output json`)
}
