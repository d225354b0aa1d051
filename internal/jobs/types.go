package jobs

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned by a JobStore for an unknown job ID.
var ErrJobNotFound = errors.New("job not found")

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeRecurrenceRun represents one pass of the recurrence runner.
	JobTypeRecurrenceRun JobType = "recurrence_run"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// Trigger records what started a run.
type Trigger string

const (
	TriggerCron Trigger = "cron"
	TriggerAPI  Trigger = "api"
	TriggerCLI  Trigger = "cli"
)

// RunCounts is the summary of a finished run kept on the job record.
type RunCounts struct {
	ProcessedTemplates  int  `json:"processed_templates"`
	CreatedTransactions int  `json:"created_transactions"`
	EndedTemplates      int  `json:"ended_templates"`
	Failures            int  `json:"failures"`
	Conflicts           int  `json:"conflicts"`
	Skipped             bool `json:"skipped"`
}

// RecurrenceRunJob represents a request to run the recurrence runner once.
type RecurrenceRunJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	Trigger Trigger `json:"trigger"`

	// OrganizationID scopes the run. Empty means all organizations.
	OrganizationID string `json:"organization_id,omitempty"`

	// Now overrides the run's reference time. Zero means the time the job starts.
	Now time.Time `json:"now,omitempty"`

	// Limit caps the number of templates selected. Zero uses the runner default.
	Limit int `json:"limit,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Result is set once the runner returns.
	Result *RunCounts `json:"result,omitempty"`

	// ReportURI points at the archived run report, if archiving is enabled.
	ReportURI string `json:"report_uri,omitempty"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *RecurrenceRunJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *RecurrenceRunJob) GetType() JobType {
	return JobTypeRecurrenceRun
}

// GetStatus implements the Job interface.
func (j *RecurrenceRunJob) GetStatus() JobStatus {
	return j.Status
}

// Clone returns a copy that shares no pointers with j.
func (j *RecurrenceRunJob) Clone() *RecurrenceRunJob {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	return &cp
}

// Publisher enqueues jobs.
type Publisher interface {
	// PublishRecurrenceRun publishes a recurrence run job.
	PublishRecurrenceRun(ctx context.Context, job *RecurrenceRunJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore tracks job state.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *RecurrenceRunJob) error

	// GetJob retrieves a job by ID (ErrJobNotFound if unknown).
	GetJob(ctx context.Context, jobID string) (*RecurrenceRunJob, error)

	// ListJobs retrieves jobs newest first with optional filtering.
	ListJobs(ctx context.Context, filter JobFilter) ([]*RecurrenceRunJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	OrganizationID string
	Trigger        Trigger
	Status         JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
