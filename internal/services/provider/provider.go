package provider

import (
	"context"
)

// JobState is the provider-side state of a generation job, normalized
// across vendor status vocabularies.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// JobStatus is one poll answer from a provider.
type JobStatus struct {
	State     JobState
	Progress  int
	ResultURL string
	// Reason carries the provider's failure detail when State is failed
	Reason string
}

// Client polls a single generation provider for job status. A returned
// error is always an AppError: transient for outages the caller should
// ride out, fatal for job-level rejections.
type Client interface {
	Name() string
	GetJob(ctx context.Context, jobID string) (*JobStatus, error)
}
