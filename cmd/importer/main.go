package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/ryabkov82/listing-ingest/internal/client"
	"github.com/ryabkov82/listing-ingest/internal/config"
	"github.com/ryabkov82/listing-ingest/internal/ingest"
	"github.com/ryabkov82/listing-ingest/internal/logging"
	"github.com/ryabkov82/listing-ingest/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logging.Setup()

	fs := flag.NewFlagSet("importer", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	source := fs.String("source", "", "CSV, TSV or XLSX file to import")
	table := fs.String("table", "", "destination table")
	batchSize := fs.Int("batch-size", 0, "records per request (1-1000)")
	clearTable := fs.Bool("clear", false, "delete every existing row before uploading")
	yes := fs.Bool("yes", false, "do not ask before clearing")
	dryRun := fs.Bool("dry-run", false, "read and transform only")
	limit := fs.Int("limit", 0, "upload at most this many records, 0 for all")
	upsert := fs.Bool("upsert", false, "merge rows on the natural key instead of appending")
	checkpoint := fs.String("checkpoint", "", "checkpoint file for resumable runs")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Println(version.String())
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load config")
		return 1
	}

	// Flags set on the command line win over file and environment
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			cfg.Source.Path = *source
		case "table":
			cfg.Delivery.Table = *table
		case "batch-size":
			cfg.Delivery.BatchSize = *batchSize
		case "clear":
			cfg.Run.Clear = *clearTable
		case "dry-run":
			cfg.Run.DryRun = *dryRun
		case "limit":
			cfg.Run.Limit = *limit
		case "upsert":
			cfg.Delivery.Upsert = *upsert
		case "checkpoint":
			cfg.Run.CheckpointPath = *checkpoint
		}
	})

	if err := cfg.Validate(!cfg.Run.DryRun); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return 1
	}

	schema, err := ingest.SchemaByName(cfg.Delivery.Table)
	if err != nil {
		log.Error().Err(err).Msg("Unknown destination table")
		return 1
	}

	var sink ingest.Sink
	if !cfg.Run.DryRun {
		s, err := client.NewSupabase(cfg.SupabaseURL, cfg.SupabaseKey, cfg.Delivery)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create sink")
			return 1
		}
		sink = s
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	j := cfg.NewJob()
	log.Info().
		Str("run_id", j.ID).
		Str("version", version.Version).
		Str("config", cfg.String()).
		Msg("Import starting")

	opts := ingest.Options{
		Clear:          cfg.Run.Clear,
		DryRun:         cfg.Run.DryRun,
		Limit:          cfg.Run.Limit,
		AllowedBaseDir: cfg.AllowedBaseDir,
		Confirm:        confirmClear(os.Stdin, os.Stdout, cfg.Delivery.Table),
	}
	if *yes {
		opts.Confirm = func(int64) bool { return true }
	}

	report, err := ingest.NewPipeline(j, schema, sink).Run(ctx, opts)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrClearDeclined):
			log.Warn().Msg("Clear declined, nothing was uploaded")
		case errors.Is(err, context.Canceled):
			log.Warn().Msg("Import interrupted")
		default:
			log.Error().Err(err).Str("run_id", j.ID).Msg("Import failed")
		}
		return 1
	}

	if err := report.Render(os.Stdout); err != nil {
		log.Error().Err(err).Msg("Failed to print report")
	}
	return 0
}
