// Package storage persists jobs to a single JSON file.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/maltedev/tablegen/internal/models"
)

type JobStore struct {
	mu       sync.RWMutex
	jobs     map[string]*models.Job
	filename string
}

func NewJobStore(filename string) (*JobStore, error) {
	s := &JobStore{
		jobs:     make(map[string]*models.Job),
		filename: filename,
	}

	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create job directory: %w", err)
		}
	}

	if err := s.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return s, nil
}

func (s *JobStore) Create(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job already exists: %s", job.ID)
	}

	s.jobs[job.ID] = clone(job)
	return s.save()
}

func (s *JobStore) Get(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, id)
	}
	return clone(job), nil
}

// List returns job summaries, newest first. limit <= 0 returns all.
func (s *JobStore) List(_ context.Context, limit int) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Summary())
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *JobStore) Update(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; !exists {
		return fmt.Errorf("%w: %s", models.ErrJobNotFound, job.ID)
	}

	s.jobs[job.ID] = clone(job)
	return s.save()
}

// Stats counts jobs per status plus a "total" entry.
func (s *JobStore) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int)
	for _, job := range s.jobs {
		stats[string(job.Status)]++
	}
	stats["total"] = len(s.jobs)
	return stats
}

func (s *JobStore) save() error {
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode jobs: %w", err)
	}

	// Write to temp file first for atomicity
	tmpFile := s.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write jobs: %w", err)
	}

	return os.Rename(tmpFile, s.filename)
}

func (s *JobStore) Load() error {
	data, err := os.ReadFile(s.filename)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := json.Unmarshal(data, &s.jobs); err != nil {
		return fmt.Errorf("failed to decode %s: %w", s.filename, err)
	}
	if s.jobs == nil {
		s.jobs = make(map[string]*models.Job)
	}
	return nil
}

func clone(job *models.Job) *models.Job {
	c := *job
	if job.Rows != nil {
		c.Rows = append([]models.ProductRecord(nil), job.Rows...)
	}
	c.Request.URLs = append([]string(nil), job.Request.URLs...)
	c.Request.Fields = append([]string(nil), job.Request.Fields...)
	c.Request.Languages = append([]string(nil), job.Request.Languages...)
	return &c
}
