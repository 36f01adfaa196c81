package models

import (
	"errors"
	"time"
)

var ErrJobNotFound = errors.New("job not found")

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Done reports whether the job reached a final status.
func (s JobStatus) Done() bool {
	return s == JobCompleted || s == JobFailed
}

// TableRequest is the body accepted by the synchronous and async table
// endpoints. Languages are accepted and echoed back only.
type TableRequest struct {
	URLs      []string `json:"urls"`
	Fields    []string `json:"fields"`
	Languages []string `json:"languages"`
	Format    string   `json:"format"`
}

// Job is an asynchronous batch extraction.
type Job struct {
	ID          string          `json:"id"`
	Status      JobStatus       `json:"status"`
	Request     TableRequest    `json:"request"`
	RowCount    int             `json:"row_count"`
	ErrorCount  int             `json:"error_count"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	Rows        []ProductRecord `json:"rows,omitempty"`
}

// Summary returns a copy of the job without its rows.
func (j *Job) Summary() *Job {
	c := *j
	c.Rows = nil
	return &c
}
