package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Financial-Management-System/FMS-sub000/internal/gcsuploader"
	"github.com/Financial-Management-System/FMS-sub000/internal/jobs"
	"github.com/Financial-Management-System/FMS-sub000/internal/recurrence"
	"github.com/rs/zerolog"
)

// Runner is the part of recurrence.Runner used by the job pipeline.
type Runner interface {
	Run(ctx context.Context, opts recurrence.RunOptions) (recurrence.RunResult, error)
}

// ReportArchiver stores run reports. A nil archiver disables archiving.
type ReportArchiver interface {
	ArchiveRunReport(ctx context.Context, r gcsuploader.RunReport) (string, error)
}

// Counts condenses a run result for the job record.
func Counts(res recurrence.RunResult) *jobs.RunCounts {
	return &jobs.RunCounts{
		ProcessedTemplates:  res.ProcessedTemplates,
		CreatedTransactions: res.CreatedTransactions,
		EndedTemplates:      res.EndedTemplates,
		Failures:            len(res.Failures),
		Conflicts:           res.Conflicts,
		Skipped:             res.Skipped,
	}
}

// ExecuteRun runs the job once, records the counts on it and archives the
// report. Archive failures are logged and do not fail the run.
func ExecuteRun(ctx context.Context, runner Runner, archiver ReportArchiver, job *jobs.RecurrenceRunJob, log zerolog.Logger) (recurrence.RunResult, error) {
	log = log.With().Str("job_id", job.JobID).Str("trigger", string(job.Trigger)).Logger()
	started := time.Now().UTC()

	res, runErr := runner.Run(ctx, recurrence.RunOptions{
		Now:            job.Now,
		OrganizationID: job.OrganizationID,
		Limit:          job.Limit,
	})
	job.Result = Counts(res)

	if archiver != nil && !res.Skipped {
		report := gcsuploader.RunReport{
			JobID:          job.JobID,
			Trigger:        string(job.Trigger),
			OrganizationID: job.OrganizationID,
			StartedAt:      started,
			FinishedAt:     time.Now().UTC(),
			Result:         res,
		}
		if runErr != nil {
			report.Error = runErr.Error()
		}
		uri, err := archiver.ArchiveRunReport(ctx, report)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to archive run report")
		} else {
			job.ReportURI = uri
		}
	}

	if runErr != nil {
		return res, fmt.Errorf("ExecuteRun: %w", runErr)
	}
	return res, nil
}

// RunJobHandler adapts ExecuteRun to the queue's handler signature.
func RunJobHandler(runner Runner, archiver ReportArchiver, log zerolog.Logger) jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		run, ok := job.(*jobs.RecurrenceRunJob)
		if !ok {
			return errors.New("RunJobHandler: unsupported job type " + string(job.GetType()))
		}
		_, err := ExecuteRun(ctx, runner, archiver, run, log)
		return err
	}
}
