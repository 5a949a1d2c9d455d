package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ryabkov82/listing-ingest/internal/job"
)

// Options are the per-invocation switches of a pipeline run
type Options struct {
	// Clear deletes every existing row before uploading. Confirm must also
	// approve it; it receives the number of rows that would be deleted.
	Clear   bool
	Confirm func(existing int64) bool
	// DryRun reads and transforms without touching the sink
	DryRun bool
	// Limit caps the number of records uploaded, 0 means no limit
	Limit          int
	AllowedBaseDir string
}

// Pipeline runs one import: read, transform, optionally clear, upload, verify
type Pipeline struct {
	job    *job.Job
	schema *Schema
	sink   Sink
}

// NewPipeline creates a pipeline for a job. sink may be nil for dry runs.
func NewPipeline(j *job.Job, schema *Schema, sink Sink) *Pipeline {
	return &Pipeline{job: j, schema: schema, sink: sink}
}

// Run executes the pipeline. It returns an error only for fatal conditions:
// an unreadable source, missing required columns, an unreachable sink or a
// declined clear. Row and batch problems are counted in the report.
func (p *Pipeline) Run(ctx context.Context, opts Options) (report *Report, err error) {
	p.job.MarkRunning()
	defer func() { p.job.MarkFinished(err) }()

	report = NewReport(p.job.ID, p.schema.Table, p.job.InputPath)
	report.DryRun = opts.DryRun

	parser, err := NewParser(p.job, opts.AllowedBaseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	defer parser.Close()

	records, err := p.readAll(ctx, parser, report, opts.Limit)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("run_id", report.RunID).
		Int64("read", report.Read).
		Int64("transformed", report.Transformed).
		Int64("dropped", report.Dropped).
		Int64("filtered", report.Filtered).
		Msg("Source transformed")

	if opts.DryRun {
		report.Finish()
		p.writeReport(report)
		return report, nil
	}
	if p.sink == nil {
		return nil, fmt.Errorf("%w: no sink configured", ErrSinkUnreachable)
	}

	existing, err := p.sink.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSinkUnreachable, err)
	}
	report.Existing = existing
	baseline := existing

	if opts.Clear {
		if opts.Confirm == nil || !opts.Confirm(existing) {
			return nil, ErrClearDeclined
		}
		if err := p.sink.DeleteAll(ctx); err != nil {
			return nil, fmt.Errorf("clear %s: %w", p.schema.Table, err)
		}
		report.Cleared = true
		baseline = 0
		log.Info().Str("run_id", report.RunID).Int64("deleted", existing).Msg("Destination cleared")
	}

	checkpoint := p.openCheckpoint(report.Cleared)

	uploader := NewUploader(p.sink, UploaderConfigFromJob(p.job.Delivery), checkpoint)
	uploader.SetErrorLogger(parser.LogError)
	if err := uploader.Upload(ctx, records, report); err != nil {
		return nil, err
	}

	if report.BatchesFailed == 0 {
		if err := checkpoint.Clear(); err != nil {
			log.Warn().Err(err).Msg("Failed to remove checkpoint")
		}
	}

	p.verify(ctx, report, baseline)
	report.Finish()
	p.writeReport(report)

	log.Info().
		Str("run_id", report.RunID).
		Int64("uploaded", report.Uploaded).
		Int64("failed", report.Failed).
		Float64("success_rate", report.SuccessRate()).
		Str("timings", report.Timings.String()).
		Msg("Import finished")

	return report, nil
}

// readAll reads and transforms every source row. It stops early once limit
// records were produced.
func (p *Pipeline) readAll(ctx context.Context, parser *Parser, report *Report, limit int) ([]Record, error) {
	transformer, err := NewTransformer(p.schema, parser.Header(), p.job.Run)
	if err != nil {
		return nil, err
	}
	if missing := transformer.MissingOptional(); len(missing) > 0 {
		log.Warn().Strs("columns", missing).Msg("Optional columns absent from source, fields will be null")
	}

	var records []Record
	for {
		if limit > 0 && len(records) >= limit {
			log.Info().Int("limit", limit).Msg("Record limit reached, stopping read")
			break
		}

		start := time.Now()
		row, err := parser.ReadRow(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			var rowErr *RowError
			if errors.As(err, &rowErr) {
				report.Read++
				report.RecordDrop("unreadable row", false)
				log.Warn().Err(rowErr.Err).Int64("row_no", rowErr.RowNo).Msg("Unreadable row")
				parser.LogError(ErrorItem{RowNo: rowErr.RowNo, Code: CodeUnreadable, Message: rowErr.Err.Error()})
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
		}
		report.Timings.ObserveRead(time.Since(start))
		report.Read++

		start = time.Now()
		record, warnings, err := transformer.TransformRow(row)
		report.Timings.ObserveTransform(time.Since(start))

		for _, w := range warnings {
			report.Warnings++
			log.Warn().Err(w.Err).Int64("row_no", row.RowNo).Str("field", w.Field).Msg("Field coerced to null")
			item := ErrorItem{RowNo: row.RowNo, Code: CodeParse, Field: w.Field, Message: w.Err.Error()}
			var pe *ParseError
			if errors.As(w.Err, &pe) {
				item.Value = pe.Preview
			}
			parser.LogError(item)
		}

		if err != nil {
			var drop *DropError
			if !errors.As(err, &drop) {
				return nil, err
			}
			report.RecordDrop(drop.Reason, drop.Filtered)
			if drop.Filtered {
				log.Debug().Int64("row_no", row.RowNo).Str("reason", drop.Reason).Msg("Row filtered")
			} else {
				log.Warn().Int64("row_no", row.RowNo).Str("reason", drop.Reason).Msg("Row dropped")
				parser.LogError(ErrorItem{RowNo: row.RowNo, Code: CodeDropped, Message: drop.Reason})
			}
			continue
		}

		records = append(records, record)
		report.Transformed++

		if every := p.job.Run.ProgressEvery; every > 0 && report.Read%int64(every) == 0 {
			log.Info().Int64("rows", report.Read).Int64("transformed", report.Transformed).Msg("Reading source")
		}
	}

	return records, nil
}

// openCheckpoint returns nil when checkpointing is disabled or unusable.
// After a clear the old checkpoint refers to deleted rows and is discarded.
func (p *Pipeline) openCheckpoint(cleared bool) *job.CheckpointStore {
	path := p.job.Run.CheckpointPath
	if path == "" {
		return nil
	}

	fp, err := job.Fingerprint(p.job.InputPath, p.schema.Table, p.job.Delivery.BatchSize)
	if err != nil {
		log.Warn().Err(err).Msg("Checkpoint disabled")
		return nil
	}
	store, err := job.OpenCheckpoint(path, fp, p.job.ID)
	if err != nil {
		log.Warn().Err(err).Msg("Checkpoint disabled")
		return nil
	}

	if cleared {
		if err := store.Clear(); err != nil {
			log.Warn().Err(err).Msg("Failed to reset checkpoint")
		}
		return store
	}
	if store.Resumed() {
		log.Info().Int("completed_batches", store.Completed()).Msg("Resuming from checkpoint")
	}
	return store
}

// verify compares the sink's row count to what the run should have left
// behind. Records of resumed batches were already part of the baseline.
func (p *Pipeline) verify(ctx context.Context, report *Report, baseline int64) {
	count, err := p.sink.Count(ctx)
	if err != nil {
		report.VerifyError = err.Error()
		log.Warn().Err(err).Msg("Verification count failed")
		return
	}
	report.VerifiedCount = count

	if p.job.Delivery.Upsert {
		report.ExpectedCount = report.Transformed
		report.Verified = count >= report.Transformed
	} else {
		report.ExpectedCount = baseline + report.Transformed - report.Resumed
		report.Verified = count == report.ExpectedCount
	}

	if !report.Verified {
		log.Warn().
			Int64("expected", report.ExpectedCount).
			Int64("found", count).
			Msg("Record count mismatch")
	}
}

func (p *Pipeline) writeReport(report *Report) {
	if p.job.Run.ReportJSON == "" {
		return
	}
	if err := report.WriteJSON(p.job.Run.ReportJSON); err != nil {
		log.Warn().Err(err).Msg("Failed to write report")
	}
}
