package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/supabase-community/postgrest-go"

	"github.com/ryabkov82/listing-ingest/internal/ingest"
	"github.com/ryabkov82/listing-ingest/internal/job"
)

// Supabase is the destination table reached through the project's REST API.
// Inserts go through Sender; count and delete use the PostgREST client.
type Supabase struct {
	sender       *Sender
	rest         *postgrest.Client
	table        string
	deleteColumn string
}

// NewSupabase creates a sink for d.Table. The key is sent both as apikey and
// as bearer token, which is what the service-role and anon keys expect.
func NewSupabase(baseURL, key string, d job.DeliveryConfig) (*Supabase, error) {
	if baseURL == "" || key == "" {
		return nil, errors.New("supabase url and key are required")
	}
	if d.Table == "" {
		return nil, errors.New("destination table is required")
	}

	deleteColumn := d.DeleteColumn
	if deleteColumn == "" {
		deleteColumn = "id"
	}

	return &Supabase{
		sender: NewSender(baseURL, key, d),
		rest: postgrest.NewClient(RestURL(baseURL), "", map[string]string{
			"apikey":        key,
			"Authorization": "Bearer " + key,
		}),
		table:        d.Table,
		deleteColumn: deleteColumn,
	}, nil
}

// Insert implements ingest.Sink
func (s *Supabase) Insert(ctx context.Context, batch *ingest.Batch) error {
	return s.sender.Insert(ctx, batch)
}

// Count returns the exact number of rows in the table
func (s *Supabase) Count(ctx context.Context) (int64, error) {
	var count int64
	err := execute(ctx, func() error {
		_, n, err := s.rest.From(s.table).Select("*", "exact", true).Execute()
		count = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", s.table, err)
	}
	log.Debug().Str("table", s.table).Int64("count", count).Msg("Counted destination rows")
	return count, nil
}

// DeleteAll removes every row. PostgREST refuses unfiltered deletes, so the
// filter matches every row whose delete column is not zero.
func (s *Supabase) DeleteAll(ctx context.Context) error {
	err := execute(ctx, func() error {
		_, _, err := s.rest.From(s.table).Delete("minimal", "").Neq(s.deleteColumn, "0").Execute()
		return err
	})
	if err != nil {
		return fmt.Errorf("delete from %s: %w", s.table, err)
	}
	return nil
}

// execute runs a blocking PostgREST call and gives up waiting once ctx is done
func execute(ctx context.Context, call func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- call() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

var _ ingest.Sink = (*Supabase)(nil)
