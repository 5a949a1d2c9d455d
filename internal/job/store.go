package job

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Checkpoint is the persisted progress of an upload run
type Checkpoint struct {
	RunID       string `json:"runId"`
	Fingerprint string `json:"fingerprint"`
	// Batches maps each accepted batch number to the digest of its rows
	Batches   map[int64]string `json:"batches"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// CheckpointStore persists the batches that were accepted by the sink so a
// rerun over the same input can skip them. A batch is only skipped when its
// rows still hash to the recorded digest. A nil store is valid and records
// nothing.
type CheckpointStore struct {
	mu      sync.Mutex
	path    string
	cp      Checkpoint
	done    map[int64]string
	resumed bool
}

// Fingerprint identifies an input file together with the settings that
// determine batch boundaries. Batch numbers are only comparable between runs
// with the same fingerprint.
func Fingerprint(inputPath, table string, batchSize int) (string, error) {
	abs, err := filepath.Abs(inputPath)
	if err != nil {
		return "", fmt.Errorf("resolve input path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat input: %w", err)
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|%s|%d", abs, info.Size(), info.ModTime().UnixNano(), table, batchSize)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Digest hashes a batch payload for IsDone and MarkDone
func Digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// OpenCheckpoint loads the checkpoint at path. A missing file, an unreadable
// file or a checkpoint with a different fingerprint yields a fresh store.
func OpenCheckpoint(path, fingerprint, runID string) (*CheckpointStore, error) {
	if path == "" {
		return nil, errors.New("checkpoint path is empty")
	}

	s := &CheckpointStore{
		path: path,
		cp: Checkpoint{
			RunID:       runID,
			Fingerprint: fingerprint,
		},
		done: make(map[int64]string),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var prev Checkpoint
	if err := json.Unmarshal(data, &prev); err != nil {
		// Corrupt checkpoint: start over rather than guessing
		return s, nil
	}
	if prev.Fingerprint != fingerprint {
		return s, nil
	}

	for n, digest := range prev.Batches {
		if digest != "" {
			s.done[n] = digest
		}
	}
	s.resumed = len(s.done) > 0
	return s, nil
}

// Resumed reports whether completed batches were loaded from a previous run
func (s *CheckpointStore) Resumed() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumed
}

// Completed returns the number of batches recorded as done
func (s *CheckpointStore) Completed() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.done)
}

// IsDone reports whether batchNo was accepted by the sink in an earlier
// attempt with the same rows
func (s *CheckpointStore) IsDone(batchNo int64, digest string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.done[batchNo]
	return ok && digest != "" && prev == digest
}

// MarkDone records batchNo with the digest of its rows and writes the
// checkpoint file atomically
func (s *CheckpointStore) MarkDone(batchNo int64, digest string) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.done[batchNo]; ok && prev == digest {
		return nil
	}
	s.done[batchNo] = digest
	s.cp.UpdatedAt = time.Now().UTC()

	return s.writeLocked()
}

// Clear forgets all progress and removes the checkpoint file
func (s *CheckpointStore) Clear() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.done = make(map[int64]string)
	s.resumed = false

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

func (s *CheckpointStore) writeLocked() error {
	s.cp.Batches = make(map[int64]string, len(s.done))
	for n, digest := range s.done {
		s.cp.Batches[n] = digest
	}
	data, err := json.MarshalIndent(s.cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}
