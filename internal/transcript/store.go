// Package transcript persists finished runs as JSON records under the data
// directory, so tool call outcomes survive the process that produced them.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentexec/agentexec/internal/scheduler"
)

var ErrNotFound = errors.New("transcript not found")

// CallRecord is the durable form of one finished tool call.
type CallRecord struct {
	CallID        string               `json:"callId"`
	ToolName      string               `json:"toolName"`
	Args          map[string]any       `json:"args,omitempty"`
	Status        scheduler.Status     `json:"status"`
	ResultDisplay string               `json:"resultDisplay,omitempty"`
	OutputLength  int                  `json:"outputLength,omitempty"`
	Error         *scheduler.CallError `json:"error,omitempty"`
}

// RunRecord is one scheduled batch and its outcomes.
type RunRecord struct {
	RunID      string       `json:"runId"`
	WorkDir    string       `json:"workDir"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Calls      []CallRecord `json:"calls"`
}

// NewRunRecord flattens finished calls into their durable form.
func NewRunRecord(runID, workDir string, startedAt, finishedAt time.Time, calls []*scheduler.ToolCall) RunRecord {
	rec := RunRecord{
		RunID:      runID,
		WorkDir:    workDir,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Calls:      make([]CallRecord, 0, len(calls)),
	}
	for _, call := range calls {
		cr := CallRecord{
			CallID:   call.Request.CallID,
			ToolName: call.Request.ToolName,
			Args:     call.Request.Args,
			Status:   call.Status,
		}
		if resp := call.Response; resp != nil {
			cr.ResultDisplay = resp.ResultDisplay
			cr.OutputLength = resp.ContentLength
			cr.Error = resp.Error
		}
		rec.Calls = append(rec.Calls, cr)
	}
	return rec
}

// Store reads and writes run records as one JSON file per run. Writes are
// atomic and guarded by a file lock so concurrent processes sharing the
// data directory do not corrupt records.
type Store struct {
	basePath string
	mu       sync.Mutex
	locks    map[string]*fileLock
}

// NewStore creates a store rooted at basePath.
func NewStore(basePath string) *Store {
	return &Store{
		basePath: basePath,
		locks:    make(map[string]*fileLock),
	}
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.basePath, runID+".json")
}

// Save writes a run record with file locking.
func (s *Store) Save(ctx context.Context, rec RunRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("run record has no run id")
	}
	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create transcript directory: %w", err)
	}

	filePath := s.runPath(rec.RunID)
	lock := s.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	// Write to temp file first, then rename (atomic operation)
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// Load retrieves a run record by id.
func (s *Store) Load(ctx context.Context, runID string) (RunRecord, error) {
	data, err := os.ReadFile(s.runPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return RunRecord{}, ErrNotFound
		}
		return RunRecord{}, fmt.Errorf("failed to read file: %w", err)
	}

	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return RunRecord{}, fmt.Errorf("failed to unmarshal: %w", err)
	}
	return rec, nil
}

// List returns all run ids, oldest first. ULID run ids make the
// lexicographic order chronological.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Prune removes the oldest records beyond keep, returning how many were
// deleted.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	ids, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) <= keep {
		return 0, nil
	}

	removed := 0
	for _, id := range ids[:len(ids)-keep] {
		filePath := s.runPath(id)
		lock := s.getLock(filePath)
		if err := lock.Lock(); err != nil {
			return removed, fmt.Errorf("failed to acquire lock: %w", err)
		}
		err := os.Remove(filePath)
		lock.Unlock()
		if err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to delete file: %w", err)
		}
		removed++
	}
	return removed, nil
}

func (s *Store) getLock(filePath string) *fileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[filePath]
	if !ok {
		lock = newFileLock(filePath)
		s.locks[filePath] = lock
	}
	return lock
}
