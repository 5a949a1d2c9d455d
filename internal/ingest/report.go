package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

// Report aggregates the counters of a single run. It is mutated only by the
// goroutine executing the pipeline.
type Report struct {
	RunID  string `json:"runId"`
	Table  string `json:"table"`
	Source string `json:"source"`
	DryRun bool   `json:"dryRun,omitempty"`

	Read        int64            `json:"read"`
	Transformed int64            `json:"transformed"`
	Dropped     int64            `json:"dropped"`
	Filtered    int64            `json:"filtered"`
	DropReasons map[string]int64 `json:"dropReasons,omitempty"`
	Warnings    int64            `json:"warnings"`

	Existing      int64 `json:"existing"`
	Cleared       bool  `json:"cleared"`
	Batches       int64 `json:"batches"`
	BatchesFailed int64 `json:"batchesFailed"`
	Uploaded      int64 `json:"uploaded"`
	Failed        int64 `json:"failed"`
	Resumed       int64 `json:"resumed"`

	VerifiedCount int64 `json:"verifiedCount"`
	ExpectedCount int64 `json:"expectedCount"`
	Verified      bool  `json:"verified"`
	// VerifyError is set when the final count query failed
	VerifyError string `json:"verifyError,omitempty"`

	StartedAt time.Time     `json:"startedAt"`
	Elapsed   time.Duration `json:"elapsedNs"`
	Timings   *Timings      `json:"-"`
}

// NewReport creates a report for a run starting now
func NewReport(runID, table, source string) *Report {
	return &Report{
		RunID:       runID,
		Table:       table,
		Source:      source,
		DropReasons: make(map[string]int64),
		StartedAt:   time.Now(),
		Timings:     NewTimings(),
	}
}

// RecordDrop counts a row that did not become a record. Filtered rows are
// counted separately from dropped ones.
func (r *Report) RecordDrop(reason string, filtered bool) {
	if filtered {
		r.Filtered++
	} else {
		r.Dropped++
	}
	r.DropReasons[reason]++
}

// Finish stamps the elapsed time
func (r *Report) Finish() {
	r.Elapsed = time.Since(r.StartedAt)
}

// SuccessRate returns the percentage of transformed records that reached
// the sink, counting records of resumed batches as uploaded
func (r *Report) SuccessRate() float64 {
	if r.Transformed == 0 {
		return 0
	}
	return float64(r.Uploaded+r.Resumed) / float64(r.Transformed) * 100
}

// Render prints the report as an aligned two-column table
func (r *Report) Render(w io.Writer) error {
	rows := [][2]string{
		{"Run", r.RunID},
		{"Table", r.Table},
		{"Source", r.Source},
		{"Read", fmt.Sprint(r.Read)},
		{"Transformed", fmt.Sprint(r.Transformed)},
		{"Dropped", fmt.Sprint(r.Dropped)},
		{"Filtered", fmt.Sprint(r.Filtered)},
		{"Field warnings", fmt.Sprint(r.Warnings)},
	}
	for _, reason := range r.sortedReasons() {
		rows = append(rows, [2]string{"  " + reason, fmt.Sprint(r.DropReasons[reason])})
	}

	if r.DryRun {
		rows = append(rows, [2]string{"Mode", "dry run, nothing uploaded"})
	} else {
		if r.Cleared {
			rows = append(rows, [2]string{"Cleared", fmt.Sprintf("%d existing records", r.Existing)})
		}
		rows = append(rows,
			[2]string{"Batches", fmt.Sprintf("%d (%d failed)", r.Batches, r.BatchesFailed)},
			[2]string{"Uploaded", fmt.Sprint(r.Uploaded)},
			[2]string{"Failed", fmt.Sprint(r.Failed)},
		)
		if r.Resumed > 0 {
			rows = append(rows, [2]string{"Resumed", fmt.Sprint(r.Resumed)})
		}
		rows = append(rows,
			[2]string{"Success rate", fmt.Sprintf("%.1f%%", r.SuccessRate())},
			[2]string{"Verification", r.verification()},
		)
	}
	rows = append(rows, [2]string{"Elapsed", r.Elapsed.Round(time.Millisecond).String()})

	width := 0
	for _, row := range rows {
		if n := runewidth.StringWidth(row[0]); n > width {
			width = n
		}
	}

	var sb strings.Builder
	for _, row := range rows {
		sb.WriteString(runewidth.FillRight(row[0], width))
		sb.WriteString("  ")
		sb.WriteString(row[1])
		sb.WriteString("\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func (r *Report) verification() string {
	switch {
	case r.Verified:
		return fmt.Sprintf("ok, %d records in %s", r.VerifiedCount, r.Table)
	case r.VerifyError != "":
		return "not performed: " + r.VerifyError
	default:
		return fmt.Sprintf("MISMATCH, expected %d, found %d", r.ExpectedCount, r.VerifiedCount)
	}
}

// sortedReasons orders drop reasons by count, then name
func (r *Report) sortedReasons() []string {
	reasons := make([]string, 0, len(r.DropReasons))
	for reason := range r.DropReasons {
		reasons = append(reasons, reason)
	}
	sort.Slice(reasons, func(i, j int) bool {
		a, b := r.DropReasons[reasons[i]], r.DropReasons[reasons[j]]
		if a != b {
			return a > b
		}
		return reasons[i] < reasons[j]
	})
	return reasons
}

// WriteJSON persists the report to path
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
