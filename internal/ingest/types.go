package ingest

import (
	"errors"
	"fmt"
)

// Fatal run-level errors. Everything else is recovered and counted.
var (
	ErrSourceUnreadable = errors.New("source unreadable")
	ErrSinkUnreachable  = errors.New("destination unreachable")
	ErrMissingColumns   = errors.New("source is missing required columns")
	ErrClearDeclined    = errors.New("clearing the destination was not confirmed")
)

// SourceRow is one data row of the source file. Values are index-aligned
// with the parser's header.
type SourceRow struct {
	RowNo  int64
	Values []any
}

// Record is one destination row keyed by column name
type Record map[string]any

// Batch represents a batch of records to send
type Batch struct {
	RunID   string   `json:"runId"`
	BatchNo int64    `json:"batchNo"`
	Table   string   `json:"table"`
	Rows    []Record `json:"rows"`
}

// DropError is returned by the transformer when a row does not become a record
type DropError struct {
	RowNo  int64
	Reason string
	// Filtered rows were excluded on purpose and are not errors
	Filtered bool
}

func (e *DropError) Error() string {
	return fmt.Sprintf("row %d dropped: %s", e.RowNo, e.Reason)
}

// FieldWarning is a ParseError tied to the column it came from
type FieldWarning struct {
	Field string
	Err   error
}

// ErrorItem represents a single line of the errors JSONL file
type ErrorItem struct {
	RowNo   int64  `json:"rowNo"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	TS      string `json:"ts"`
}

// Error codes written to the errors file
const (
	CodeParse      = "parse_error"
	CodeDropped    = "dropped"
	CodeUnreadable = "unreadable_row"
	CodeBatch      = "batch_failed"
)
