package ingest

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Timings tracks timing metrics for the stages of a run
type Timings struct {
	mu sync.Mutex

	ReadTotal time.Duration
	ReadCount int64

	TransformTotal time.Duration
	TransformCount int64

	// One observation per HTTP attempt, retries included
	UploadTotal time.Duration
	UploadCount int64

	PauseTotal time.Duration
	Retries    int64
}

// NewTimings creates a new Timings instance
func NewTimings() *Timings {
	return &Timings{}
}

// ObserveRead records a source row read duration
func (t *Timings) ObserveRead(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadTotal += d
	t.ReadCount++
}

// ObserveTransform records a TransformRow duration
func (t *Timings) ObserveTransform(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TransformTotal += d
	t.TransformCount++
}

// ObserveUpload records one batch submission attempt
func (t *Timings) ObserveUpload(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.UploadTotal += d
	t.UploadCount++
}

// ObservePause records time spent in pacing delays
func (t *Timings) ObservePause(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.PauseTotal += d
}

// IncRetries counts an attempt beyond the first
func (t *Timings) IncRetries() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Retries++
}

// String returns a formatted summary of all timings
func (t *Timings) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var parts []string
	add := func(name string, total time.Duration, count int64) {
		if count == 0 {
			return
		}
		avg := total / time.Duration(count)
		parts = append(parts, fmt.Sprintf("%s: total=%v count=%d avg=%v", name, total, count, avg))
	}

	add("Read", t.ReadTotal, t.ReadCount)
	add("Transform", t.TransformTotal, t.TransformCount)
	add("Upload HTTP", t.UploadTotal, t.UploadCount)
	if t.PauseTotal > 0 {
		parts = append(parts, fmt.Sprintf("Pacing: total=%v", t.PauseTotal))
	}
	if t.Retries > 0 {
		parts = append(parts, fmt.Sprintf("Retries: %d", t.Retries))
	}

	if len(parts) == 0 {
		return "No timings recorded"
	}
	return strings.Join(parts, "; ")
}
