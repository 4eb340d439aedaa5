package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/always-cache/bookcache"
	"github.com/always-cache/bookcache/cache"
	"github.com/always-cache/bookcache/pkg/config"
	"github.com/always-cache/bookcache/pkg/origin"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFlag         string
	originFlag         string
	hostFlag           string
	portFlag           int
	dbFlag             string
	cacheVersionFlag   string
	refreshFlag        time.Duration
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", "", "YAML config file")
	flag.StringVar(&originFlag, "origin", "", "Catalogue origin URL to proxy to")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (default 8080)")
	flag.StringVar(&dbFlag, "db", "", "Cache DB: file name, 'memory' or a redis:// URL (default bookcache.db)")
	flag.StringVar(&cacheVersionFlag, "cache-version", "", "Version tag of the cache partitions")
	flag.DurationVar(&refreshFlag, "refresh", 0, "Interval of periodic catalogue refreshes (0 disables)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	conf, err := config.Load(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot load config")
	}
	applyFlags(&conf)

	setupLogging(conf.LogFile)

	if err := conf.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	store, closer, err := cache.Open(conf.DB)
	if err != nil {
		log.Fatal().Err(err).Str("db", conf.DB).Msg("Cannot open cache")
	}
	defer closer.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	originURL := conf.OriginURL()
	worker, err := bookcache.CreateWorker(bookcache.Config{
		Store:           store,
		Fetcher:         origin.NewHTTPFetcher(*originURL, conf.Host, conf.Timeout),
		OriginURL:       *originURL,
		Version:         conf.Version,
		Manifest:        conf.Manifest,
		FallbackURL:     conf.FallbackURL,
		Rules:           conf.Rules,
		PageSize:        conf.PageSize,
		Logger:          &log.Logger,
		Metrics:         bookcache.NewMetrics(registry),
		RefreshInterval: conf.RefreshInterval,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot create worker")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	report := worker.OnInstall(ctx)
	if failed := report.Failed(); len(failed) > 0 {
		log.Warn().Int("failed", len(failed)).Int("assets", len(report.Assets)).Msg("Installed with missing assets")
	}
	if deleted, err := worker.OnActivate(ctx); err != nil {
		log.Error().Err(err).Msg("Could not delete old cache partitions")
	} else if len(deleted) > 0 {
		log.Info().Strs("partitions", deleted).Msg("Deleted old cache partitions")
	}
	worker.Start(ctx)
	defer worker.Stop()

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/*", worker)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", conf.Port),
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", conf.Port, originURL.String(), conf.Host)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// applyFlags overrides the loaded config with flags set on the command line.
func applyFlags(conf *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "origin":
			conf.Origin = originFlag
		case "host":
			conf.Host = hostFlag
		case "port":
			conf.Port = portFlag
		case "db":
			conf.DB = dbFlag
		case "cache-version":
			conf.Version = cacheVersionFlag
		case "refresh":
			conf.RefreshInterval = refreshFlag
		case "log-file":
			conf.LogFile = logFilenameFlag
		}
	})
}

func setupLogging(logFilename string) {
	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilename != "" {
		if logFileOutput, err := os.OpenFile(logFilename, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()
}
