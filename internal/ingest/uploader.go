package ingest

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ryabkov82/listing-ingest/internal/job"
	"github.com/ryabkov82/listing-ingest/internal/retry"
)

// Sink is the remote datastore records are uploaded to
type Sink interface {
	// Insert submits one batch. The sink applies a batch entirely or not at all.
	Insert(ctx context.Context, batch *Batch) error
	// Count returns the number of rows in the destination table
	Count(ctx context.Context) (int64, error)
	// DeleteAll removes every row of the destination table
	DeleteAll(ctx context.Context) error
}

// UploaderConfig controls retries and pacing between batches
type UploaderConfig struct {
	BatchSize int
	Retry     retry.Config
	// Pace is the delay between consecutive batches
	Pace time.Duration
	// Every LongPauseEvery-th batch is followed by LongPause instead of Pace
	LongPauseEvery int
	LongPause      time.Duration
}

// UploaderConfigFromJob converts delivery settings to an UploaderConfig
func UploaderConfigFromJob(d job.DeliveryConfig) UploaderConfig {
	return UploaderConfig{
		BatchSize: d.BatchSize,
		Retry: retry.Config{
			MaxRetries: d.MaxRetries,
			BaseDelay:  time.Duration(d.BackoffMs) * time.Millisecond,
			MaxDelay:   time.Duration(d.BackoffMaxMs) * time.Millisecond,
			Timeout:    time.Duration(d.TimeoutSeconds) * time.Second,
		},
		Pace:           time.Duration(d.PaceMs) * time.Millisecond,
		LongPauseEvery: d.LongPauseEvery,
		LongPause:      time.Duration(d.LongPauseMs) * time.Millisecond,
	}
}

// Uploader submits batches to a Sink strictly in order, one at a time
type Uploader struct {
	sink       Sink
	cfg        UploaderConfig
	checkpoint *job.CheckpointStore
	logError   func(ErrorItem)
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewUploader creates an uploader. checkpoint may be nil.
func NewUploader(sink Sink, cfg UploaderConfig, checkpoint *job.CheckpointStore) *Uploader {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Uploader{
		sink:       sink,
		cfg:        cfg,
		checkpoint: checkpoint,
		logError:   func(ErrorItem) {},
		sleep:      sleepContext,
	}
}

// SetErrorLogger routes failed batch notices to fn, typically Parser.LogError
func (u *Uploader) SetErrorLogger(fn func(ErrorItem)) {
	if fn != nil {
		u.logError = fn
	}
}

// Partition splits records into contiguous batches of at most size records,
// numbered from 1. Order is preserved.
func Partition(runID, table string, records []Record, size int) []*Batch {
	if size < 1 {
		size = 1
	}
	batches := make([]*Batch, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		batches = append(batches, &Batch{
			RunID:   runID,
			BatchNo: int64(len(batches) + 1),
			Table:   table,
			Rows:    records[start:end],
		})
	}
	return batches
}

// Upload submits records in batches and accumulates the outcome in report.
// A batch that still fails after its retries is counted as failed and the
// run moves on. Only cancellation of ctx stops the upload early.
func (u *Uploader) Upload(ctx context.Context, records []Record, report *Report) error {
	batches := Partition(report.RunID, report.Table, records, u.cfg.BatchSize)

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}

		rows := int64(len(batch.Rows))
		digest := batchDigest(batch)
		if u.checkpoint.IsDone(batch.BatchNo, digest) {
			report.Resumed += rows
			log.Debug().Int64("batch_no", batch.BatchNo).Msg("Batch already uploaded, skipping")
			continue
		}

		report.Batches++
		attempts, err := u.submit(ctx, batch, report.Timings)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err != nil {
			report.BatchesFailed++
			report.Failed += rows
			log.Error().
				Err(err).
				Str("run_id", batch.RunID).
				Int64("batch_no", batch.BatchNo).
				Int64("rows", rows).
				Int("attempt", attempts).
				Msg("Batch failed")
			u.logError(ErrorItem{
				Code:    CodeBatch,
				Message: err.Error(),
				Field:   "batch_no",
				Value:   strconv.FormatInt(batch.BatchNo, 10),
			})
		} else {
			report.Uploaded += rows
			log.Info().
				Str("run_id", batch.RunID).
				Int64("batch_no", batch.BatchNo).
				Int64("rows", rows).
				Int("attempt", attempts).
				Int64("uploaded", report.Uploaded).
				Msg("Batch uploaded")
			if err := u.checkpoint.MarkDone(batch.BatchNo, digest); err != nil {
				log.Warn().Err(err).Int64("batch_no", batch.BatchNo).Msg("Failed to save checkpoint")
			}
		}

		if i < len(batches)-1 {
			if err := u.pause(ctx, batch.BatchNo, report.Timings); err != nil {
				return err
			}
		}
	}

	return nil
}

// batchDigest identifies the rows of a batch. Map keys marshal in sorted
// order, so equal records give equal digests across runs.
func batchDigest(batch *Batch) string {
	data, err := json.Marshal(batch.Rows)
	if err != nil {
		// Unmarshalable rows never match a recorded digest
		return ""
	}
	return job.Digest(data)
}

// submit sends one batch with bounded retry and returns the attempts used
func (u *Uploader) submit(ctx context.Context, batch *Batch, timings *Timings) (int, error) {
	attempts := 0
	_, err := retry.WithRetry(ctx, u.cfg.Retry, func(ctx context.Context) (struct{}, error) {
		attempts++
		if attempts > 1 {
			timings.IncRetries()
		}
		start := time.Now()
		err := u.sink.Insert(ctx, batch)
		timings.ObserveUpload(time.Since(start))
		if err != nil {
			log.Warn().
				Err(err).
				Str("run_id", batch.RunID).
				Int64("batch_no", batch.BatchNo).
				Int("attempt", attempts).
				Msg("Batch attempt failed")
		}
		return struct{}{}, err
	})
	return attempts, err
}

func (u *Uploader) pause(ctx context.Context, batchNo int64, timings *Timings) error {
	d := u.cfg.Pace
	if u.cfg.LongPauseEvery > 0 && batchNo%int64(u.cfg.LongPauseEvery) == 0 && u.cfg.LongPause > d {
		d = u.cfg.LongPause
	}
	if d <= 0 {
		return nil
	}
	start := time.Now()
	err := u.sleep(ctx, d)
	timings.ObservePause(time.Since(start))
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
