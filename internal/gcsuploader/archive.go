package gcsuploader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/Financial-Management-System/FMS-sub000/internal/gcs"
	"github.com/Financial-Management-System/FMS-sub000/internal/recurrence"
	"github.com/rs/zerolog"
)

// DefaultReportPrefix is the object prefix used when none is configured.
const DefaultReportPrefix = "recurring-runs"

// RunReport is the archived record of one recurrence run.
type RunReport struct {
	JobID          string               `json:"job_id"`
	Trigger        string               `json:"trigger"`
	OrganizationID string               `json:"organization_id,omitempty"`
	StartedAt      time.Time            `json:"started_at"`
	FinishedAt     time.Time            `json:"finished_at"`
	Error          string               `json:"error,omitempty"`
	Result         recurrence.RunResult `json:"result"`
}

// Archiver writes run reports to gs://<bucket>/<prefix>/YYYY/MM/DD/<job_id>.json.
type Archiver struct {
	store  gcs.ObjectStore
	bucket string
	prefix string
	log    zerolog.Logger
}

// NewArchiver returns an archiver for bucket. An empty prefix uses DefaultReportPrefix.
func NewArchiver(store gcs.ObjectStore, bucket, prefix string, log zerolog.Logger) *Archiver {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultReportPrefix
	}
	return &Archiver{store: store, bucket: bucket, prefix: prefix, log: log}
}

// ObjectName returns the object path a report is stored under. The date
// directory comes from the run's reference time in UTC.
func (a *Archiver) ObjectName(r RunReport) string {
	day := r.Result.Now
	if day.IsZero() {
		day = r.StartedAt
	}
	return path.Join(a.prefix, day.UTC().Format("2006/01/02"), r.JobID+".json")
}

// ArchiveRunReport uploads r and returns its gs:// URI.
func (a *Archiver) ArchiveRunReport(ctx context.Context, r RunReport) (string, error) {
	if r.JobID == "" {
		return "", errors.New("ArchiveRunReport: job ID is required")
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("ArchiveRunReport: marshal: %w", err)
	}

	object := a.ObjectName(r)
	if err := a.store.PutObject(ctx, a.bucket, object, data, "application/json"); err != nil {
		return "", fmt.Errorf("ArchiveRunReport: %w", err)
	}

	uri := gcs.FormatURI(a.bucket, object)
	a.log.Info().
		Str("job_id", r.JobID).
		Str("uri", uri).
		Int("created_transactions", r.Result.CreatedTransactions).
		Msg("Run report archived")
	return uri, nil
}

// FetchReport downloads and decodes a report by URI.
func (a *Archiver) FetchReport(ctx context.Context, uri string) (*RunReport, error) {
	bucket, object, err := gcs.ParseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("FetchReport: %w", err)
	}
	data, err := a.store.GetObject(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("FetchReport: %w", err)
	}
	var r RunReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("FetchReport: decode %s: %w", gcs.BaseName(uri), err)
	}
	return &r, nil
}
