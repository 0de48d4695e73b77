// Package runset persists run records as an append-only JSONL file.
// One process owns the file at a time; the coordinator is the sole
// writer and appends each record before the producing worker returns,
// so an interrupted run can resume by skipping recorded pairs.
package runset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rvullo/fixlab/internal/models"
)

type key struct {
	trialID   string
	condition models.Condition
}

// Store is an append-only run record log with an in-memory index of
// the latest record per (trial, condition) pair.
type Store struct {
	path string

	mu     sync.Mutex
	file   *os.File
	latest map[key]models.RunRecord
	all    []models.RunRecord
}

// Open loads the run set at path, creating it if absent. Existing
// records are indexed for resume; a later record for the same pair
// shadows an earlier one.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating run set directory: %w", err)
	}

	s := &Store{
		path:   path,
		latest: make(map[key]models.RunRecord),
	}

	existing, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(existing)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			if len(scanner.Bytes()) == 0 {
				continue
			}
			var rec models.RunRecord
			if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
				existing.Close()
				return nil, fmt.Errorf("run set %s line %d: %w", path, line, err)
			}
			s.index(rec)
		}
		if err := scanner.Err(); err != nil {
			existing.Close()
			return nil, fmt.Errorf("reading run set %s: %w", path, err)
		}
		existing.Close()
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("opening run set %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening run set %s for append: %w", path, err)
	}
	s.file = f
	return s, nil
}

func (s *Store) index(rec models.RunRecord) {
	s.latest[key{rec.TrialID, rec.Condition}] = rec
	s.all = append(s.all, rec)
}

// Append writes rec as one JSONL line and fsyncs before returning.
func (s *Store) Append(rec models.RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling run record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending run record: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("syncing run set: %w", err)
	}
	s.index(rec)
	return nil
}

// Lookup returns the latest record for the pair, if any.
func (s *Store) Lookup(trialID string, cond models.Condition) (models.RunRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.latest[key{trialID, cond}]
	return rec, ok
}

// Records returns every record in append order, including superseded
// ones.
func (s *Store) Records() []models.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RunRecord, len(s.all))
	copy(out, s.all)
	return out
}

// Latest returns the effective record per pair, one per pair.
func (s *Store) Latest() []models.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RunRecord, 0, len(s.latest))
	for _, rec := range s.latest {
		out = append(out, rec)
	}
	return out
}

// Close closes the underlying file. Append after Close fails.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
