package ingest

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportSuccessRate(t *testing.T) {
	r := NewReport("run", "t", "src")
	assert.Zero(t, r.SuccessRate())

	r.Transformed = 8
	r.Uploaded = 4
	r.Resumed = 2
	assert.InDelta(t, 75.0, r.SuccessRate(), 0.001)
}

func TestReportRecordDrop(t *testing.T) {
	r := NewReport("run", "t", "src")
	r.RecordDrop("missing natural key", false)
	r.RecordDrop("missing natural key", false)
	r.RecordDrop("filtered sale_type resale", true)

	assert.Equal(t, int64(2), r.Dropped)
	assert.Equal(t, int64(1), r.Filtered)
	assert.Equal(t, []string{"missing natural key", "filtered sale_type resale"}, r.sortedReasons())
}

func TestReportRender(t *testing.T) {
	r := NewReport("run-1", "nawy_properties", "units.csv")
	r.Read = 3
	r.Transformed = 2
	r.RecordDrop("missing natural key", false)
	r.Batches = 1
	r.Uploaded = 2
	r.VerifiedCount = 2
	r.ExpectedCount = 2
	r.Verified = true

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf))
	out := buf.String()

	assert.Regexp(t, `Success rate\s+100\.0%`, out)
	assert.Contains(t, out, "ok, 2 records in nawy_properties")
	assert.Contains(t, out, "  missing natural key")

	// Every value starts in the same column
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	col := strings.Index(lines[0], "run-1")
	for _, line := range lines {
		require.Greater(t, len(line), col, line)
		assert.NotEqual(t, byte(' '), line[col], line)
		assert.Equal(t, byte(' '), line[col-1], line)
	}
}

func TestReportRenderDryRunAndMismatch(t *testing.T) {
	r := NewReport("run", "t", "src")
	r.DryRun = true
	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf))
	assert.Contains(t, buf.String(), "dry run")
	assert.NotContains(t, buf.String(), "Uploaded")

	r = NewReport("run", "t", "src")
	r.ExpectedCount = 5
	r.VerifiedCount = 3
	buf.Reset()
	require.NoError(t, r.Render(&buf))
	assert.Contains(t, buf.String(), "MISMATCH, expected 5, found 3")

	r.VerifyError = "connection refused"
	buf.Reset()
	require.NoError(t, r.Render(&buf))
	assert.Contains(t, buf.String(), "not performed: connection refused")
}

func TestReportWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	r := NewReport("run-7", "t", "src")
	r.Read = 10
	r.RecordDrop("missing natural key", false)
	require.NoError(t, r.WriteJSON(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-7", decoded["runId"])
	assert.Equal(t, 10.0, decoded["read"])
	assert.Equal(t, map[string]any{"missing natural key": 1.0}, decoded["dropReasons"])
}
