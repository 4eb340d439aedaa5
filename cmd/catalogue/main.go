package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/always-cache/bookcache/catalogue"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	portFlag           int
	dialectFlag        string
	dsnFlag            string
	coversFlag         string
	verbosityTraceFlag bool
)

func init() {
	flag.IntVar(&portFlag, "port", 5000, "Port to listen on")
	flag.StringVar(&dialectFlag, "dialect", string(catalogue.SQLite), "Database driver: sqlite or pgx")
	flag.StringVar(&dsnFlag, "dsn", "books.db", "Database file name or connection string")
	flag.StringVar(&coversFlag, "covers", "covers", "Directory of uploaded book covers")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
}

func main() {
	flag.Parse()

	logLevel := zerolog.InfoLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}
	log.Logger = log.Level(logLevel).Output(zerolog.ConsoleWriter{Out: os.Stdout})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := catalogue.Open(ctx, catalogue.Dialect(dialectFlag), dsnFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot open catalogue")
	}
	defer store.Close()

	covers, err := catalogue.NewDirCoverStorage(coversFlag, "/covers/")
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot open cover storage")
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", portFlag),
		Handler: catalogue.NewServer(store, covers, log.Logger),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("Serving the catalogue on port %v (%s)", portFlag, dialectFlag)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
