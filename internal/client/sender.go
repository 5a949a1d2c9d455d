package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ryabkov82/listing-ingest/internal/ingest"
	"github.com/ryabkov82/listing-ingest/internal/job"
	"github.com/ryabkov82/listing-ingest/internal/retry"
	"github.com/ryabkov82/listing-ingest/internal/version"
)

// maxErrorBody bounds how much of a failed response is kept in HTTPError
const maxErrorBody = 2048

// Sender posts batches to a PostgREST table endpoint. It makes one attempt
// per call; retries belong to the caller.
type Sender struct {
	client   *http.Client
	endpoint string
	apiKey   string
	gzip     bool
	prefer   string
}

// NewSender creates a sender for the table named in d. baseURL is the project
// URL, with or without the /rest/v1 suffix.
func NewSender(baseURL, apiKey string, d job.DeliveryConfig) *Sender {
	endpoint := RestURL(baseURL) + "/" + url.PathEscape(d.Table)

	prefer := "return=minimal"
	if d.Upsert {
		prefer += ",resolution=merge-duplicates"
		if d.OnConflict != "" {
			endpoint += "?on_conflict=" + url.QueryEscape(d.OnConflict)
		}
	}

	return &Sender{
		client: &http.Client{
			Timeout: time.Duration(d.TimeoutSeconds) * time.Second,
		},
		endpoint: endpoint,
		apiKey:   apiKey,
		gzip:     d.Gzip,
		prefer:   prefer,
	}
}

// RestURL normalises a project URL to its REST root
func RestURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(u, "/rest/v1") {
		u += "/rest/v1"
	}
	return u
}

// Insert sends the rows of one batch as a JSON array. Client errors that a
// retry cannot fix are wrapped with retry.Permanent.
func (s *Sender) Insert(ctx context.Context, batch *ingest.Batch) error {
	jsonData, err := json.Marshal(batch.Rows)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal error: %w", err))
	}

	var body io.Reader = bytes.NewReader(jsonData)
	contentEncoding := ""
	if s.gzip {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(jsonData); err != nil {
			return fmt.Errorf("gzip error: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("gzip close error: %w", err)
		}
		body = &buf
		contentEncoding = "gzip"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, body)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request error: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Prefer", s.prefer)
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("X-Request-Id", fmt.Sprintf("%s/%d", batch.RunID, batch.BatchNo))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	httpErr := &HTTPError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(bodyBytes)),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
	if !httpErr.Retryable() {
		return retry.Permanent(httpErr)
	}
	return httpErr
}

// parseRetryAfter accepts delay-seconds or an HTTP date
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// HTTPError represents a non-success response from the sink
type HTTPError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether another attempt may succeed. Timeouts, rate
// limiting and server errors are retryable; other client errors are not.
func (e *HTTPError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// RetryAfterDelay implements retry.RetryAfterer
func (e *HTTPError) RetryAfterDelay() time.Duration {
	return e.RetryAfter
}

// GetHTTPError extracts HTTPError from err if possible
func GetHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	ok := errors.As(err, &httpErr)
	return httpErr, ok
}
