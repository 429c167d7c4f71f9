package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/myh0420/crawlerframework/internal/config"
	"github.com/myh0420/crawlerframework/internal/engine"
	"github.com/myh0420/crawlerframework/internal/fetch"
	"github.com/myh0420/crawlerframework/internal/htmlparse"
	"github.com/myh0420/crawlerframework/internal/metrics"
	"github.com/myh0420/crawlerframework/internal/store"
)

var (
	cfgFile        string
	verbose        bool
	outputPath     string
	depth          int
	concurrent     int
	delay          string
	userAgent      string
	maxPages       int
	allowedDomains string
	useBrowser     bool
	jobID          string
	checkpointDir  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "crawlerctl",
		Short: "crawlerctl — extensible web crawler framework",
		Long: `crawlerctl drives the crawl execution engine: a prioritized URL
frontier with per-domain pacing, an elastic worker pool, a pluggable
download/parse/store pipeline, per-domain retry with a circuit
breaker, and robots.txt compliance.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(crawlCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// crawlCmd creates the "crawl" subcommand.
func crawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [url...]",
		Short: "Start crawling from seed URLs",
		Long:  "Start crawling from the given seed URL(s), following links and extracting data.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCrawl,
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path")
	cmd.Flags().IntVarP(&depth, "depth", "d", -1, "maximum crawl depth (-1 = use config)")
	cmd.Flags().IntVarP(&concurrent, "concurrency", "n", 0, "initial worker count (0 = use config)")
	cmd.Flags().StringVar(&delay, "delay", "", "per-domain politeness delay, e.g. 500ms")
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "custom User-Agent string")
	cmd.Flags().IntVarP(&maxPages, "max-pages", "m", 0, "stop after N successful pages (0 = unlimited)")
	cmd.Flags().StringVar(&allowedDomains, "allowed-domains", "", "comma-separated domains to stay within")
	cmd.Flags().BoolVar(&useBrowser, "browser", false, "enable the headless-browser downloader ahead of plain HTTP")
	cmd.Flags().StringVar(&jobID, "job-id", "", "job identifier (generated if empty)")
	cmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "./checkpoints", "directory for crawl state checkpoints")

	return cmd
}

// runCrawl executes the crawl command.
func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg)

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, rawURL := range args {
		if err := config.ValidateURL(rawURL); err != nil {
			return fmt.Errorf("invalid URL %q: %w", rawURL, err)
		}
	}

	logger := setupLogger(cfg)
	logger.Info("starting crawl",
		"seeds", args,
		"depth", cfg.Basic.MaxDepth,
		"concurrency", cfg.Basic.MaxConcurrentTasks,
		"output", cfg.Storage.OutputPath,
	)

	eng := engine.New(cfg, logger)

	httpDL := fetch.NewHTTPDownloader(logger)
	if useBrowser {
		eng.SetDownloaders(fetch.NewBrowserDownloader(logger, cfg.Basic.MaxConcurrentTasks, true), httpDL)
	} else {
		eng.SetDownloaders(httpDL)
	}

	eng.SetParsers(htmlparse.NewXPathParser(logger), htmlparse.NewGoqueryParser(logger))

	jsonStore := store.NewJSONStorage(outputFile(cfg), logger)
	if cfg.Storage.MongoURI != "" {
		eng.SetStores(store.NewMongoStorage(cfg.Storage.MongoURI, cfg.Storage.MongoDB, "crawl_results", logger), jsonStore)
	} else {
		eng.SetStores(jsonStore)
	}

	metaStore, err := store.NewCheckpointMetadataStore(checkpointDir, logger)
	if err != nil {
		return fmt.Errorf("create checkpoint store: %w", err)
	}
	eng.SetMetadataStore(metaStore)

	if cfg.Monitoring.EnableMetrics {
		srv := metrics.StartServer(eng.Metrics(), cfg.Monitoring.Port, cfg.Monitoring.Path)
		defer srv.Close()
		logger.Info("metrics endpoint up", "port", cfg.Monitoring.Port, "path", cfg.Monitoring.Path)
	}

	admitted := eng.AddSeeds(args)
	if admitted == 0 {
		return fmt.Errorf("all %d seed(s) were filtered or invalid", len(args))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		eng.Stop(true)
	}()

	start := time.Now()
	if err := eng.Start(jobID); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	eng.Wait()

	elapsed := time.Since(start)
	stats := eng.Metrics().Snapshot()

	logger.Info("crawl complete",
		"elapsed", elapsed,
		"processed", stats["urls_processed"],
		"failed", stats["urls_failed"],
		"bytes", stats["bytes_downloaded"],
	)

	fmt.Printf("\nCrawl complete in %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Processed: %d pages, %d failed\n", stats["urls_processed"], stats["urls_failed"])
	fmt.Printf("  Data:      %d bytes downloaded\n", stats["bytes_downloaded"])
	fmt.Printf("  Output:    %s\n", outputFile(cfg))
	return nil
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Basic:\n")
			fmt.Printf("  Concurrency:        %d\n", cfg.Basic.MaxConcurrentTasks)
			fmt.Printf("  Max Depth:          %d\n", cfg.Basic.MaxDepth)
			fmt.Printf("  Max Pages:          %d\n", cfg.Basic.MaxPages)
			fmt.Printf("  Request Delay:      %s\n", cfg.Basic.RequestDelay)
			fmt.Printf("  Timeout:            %s\n", cfg.Basic.TimeoutSeconds)
			fmt.Printf("  Respect robots.txt: %v\n", cfg.Basic.RespectRobotsTxt)
			fmt.Printf("  Auto-stop:          %v after %s\n", cfg.Basic.EnableAutoStop, cfg.Basic.AutoStopTimeout)
			fmt.Printf("\nPerformance:\n")
			fmt.Printf("  Workers:            %d-%d (watermarks %d/%d)\n",
				cfg.Performance.MinWorkers, cfg.Performance.MaxWorkers,
				cfg.Performance.LowWatermark, cfg.Performance.HighWatermark)
			fmt.Printf("  Max Queue Size:     %d\n", cfg.Performance.MaxQueueSize)
			fmt.Printf("  Memory Limit:       %d MB\n", cfg.Performance.MemoryLimitMB)
			fmt.Printf("\nRetry:\n")
			fmt.Printf("  Max Retries:        %d\n", cfg.AntiBot.RetryPolicy.MaxRetries)
			fmt.Printf("  Initial Delay:      %s\n", cfg.AntiBot.RetryPolicy.InitialDelay)
			fmt.Printf("\nStorage:\n")
			fmt.Printf("  Type:               %s\n", cfg.Storage.Type)
			fmt.Printf("  Output Path:        %s\n", cfg.Storage.OutputPath)
			fmt.Printf("\nMonitoring:\n")
			fmt.Printf("  Metrics:            %v (port %d)\n", cfg.Monitoring.EnableMetrics, cfg.Monitoring.Port)
			return nil
		},
	}
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("crawlerctl %s\n", config.Version)
		},
	}
}

// setupLogger creates the process logger from the logging section.
func setupLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// outputFile resolves the results file path from config: an
// OutputPath that doesn't name a .json file is treated as a
// directory with results.json inside it.
func outputFile(cfg *config.Config) string {
	path := cfg.Storage.OutputPath
	if path == "" {
		path = "./output"
	}
	if strings.HasSuffix(path, ".json") {
		return path
	}
	return strings.TrimRight(path, "/") + "/results.json"
}

// applyCLIOverrides applies command-line flag values to the config.
func applyCLIOverrides(cfg *config.Config) {
	if depth >= 0 {
		cfg.Basic.MaxDepth = depth
	}
	if concurrent > 0 {
		cfg.Basic.MaxConcurrentTasks = concurrent
	}
	if delay != "" {
		if d, err := time.ParseDuration(delay); err == nil {
			cfg.Basic.RequestDelay = d
		}
	}
	if userAgent != "" {
		cfg.Basic.UserAgents = []string{userAgent}
	}
	if outputPath != "" {
		cfg.Storage.OutputPath = outputPath
	}
	if maxPages > 0 {
		cfg.Basic.MaxPages = maxPages
	}
	if allowedDomains != "" {
		var domains []string
		for _, d := range strings.Split(allowedDomains, ",") {
			if d = strings.TrimSpace(d); d != "" {
				domains = append(domains, d)
			}
		}
		cfg.Domains.AllowedDomains = domains
	}
}
