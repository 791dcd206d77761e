package entity

import (
	"fmt"
	"time"
)

// JobStatus represents the state of an indexing job.
type JobStatus string

const (
	JobQueued       JobStatus = "queued"
	JobRunning      JobStatus = "running"
	JobSucceeded    JobStatus = "succeeded"
	JobFailed       JobStatus = "failed"
	JobDeadLettered JobStatus = "dead_lettered"
)

// Job priority bounds. Higher priority jobs are claimed first.
const (
	MinPriority = 0
	MaxPriority = 10
)

// IndexJob is one queued indexing request for a repository.
type IndexJob struct {
	ID       string
	RepoID   string
	Source   string
	Branch   string
	Priority int
	Status   JobStatus
	Attempts int
	LastErr  string

	EnqueuedAt time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Terminal reports whether the job is in a state it can never leave.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobDeadLettered
}

// jobTransitions encodes the legal status transitions. failed may loop back
// to queued (retry) until the attempt budget is spent; terminal states have
// no outgoing edges.
var jobTransitions = map[JobStatus][]JobStatus{
	JobQueued:  {JobRunning},
	JobRunning: {JobSucceeded, JobFailed},
	JobFailed:  {JobQueued, JobDeadLettered},
}

// CanTransition reports whether moving from s to next is legal.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, t := range jobTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// ClampPriority bounds a requested priority to the supported range.
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// ValidateTransition returns a descriptive error for an illegal transition.
func (j *IndexJob) ValidateTransition(next JobStatus) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("illegal job transition %s -> %s", j.Status, next)
	}
	return nil
}
