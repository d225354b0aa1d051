package main

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

type bigqueryMigrator struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	appliedBy string
}

func newBigQueryMigrator(ctx context.Context, projectID, datasetID, appliedBy string) (*bigqueryMigrator, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating BigQuery client: %w", err)
	}
	return &bigqueryMigrator{client: client, projectID: projectID, datasetID: datasetID, appliedBy: appliedBy}, nil
}

func (b *bigqueryMigrator) Close() error { return b.client.Close() }

func (b *bigqueryMigrator) table() string {
	return fmt.Sprintf("`%s.%s.schema_migrations`", b.projectID, b.datasetID)
}

func (b *bigqueryMigrator) run(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

// EnsureTable creates the schema_migrations table if it doesn't exist
func (b *bigqueryMigrator) EnsureTable(ctx context.Context) error {
	return b.run(ctx, b.client.Query(`
		CREATE TABLE IF NOT EXISTS `+b.table()+` (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)`))
}

// Applied retrieves the list of already applied migrations
func (b *bigqueryMigrator) Applied(ctx context.Context) ([]AppliedMigration, error) {
	q := b.client.Query(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM ` + b.table() + `
		ORDER BY version ASC`)
	it, err := q.Read(ctx)
	if err != nil {
		// If table doesn't exist yet, return empty list
		if strings.Contains(err.Error(), "Not found") {
			return []AppliedMigration{}, nil
		}
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt bigquery.NullTimestamp
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}

		am := AppliedMigration{Version: int(row.Version), Name: row.Name}
		if row.AppliedAt.Valid {
			am.AppliedAt = row.AppliedAt.Timestamp
		}
		if row.Checksum.Valid {
			am.Checksum = row.Checksum.StringVal
		}
		if row.AppliedBy.Valid {
			am.AppliedBy = row.AppliedBy.StringVal
		}
		applied = append(applied, am)
	}
	return applied, nil
}

// Apply executes the migration and records it. BigQuery DDL is not
// transactional; a failure between the two steps leaves the migration
// unrecorded, which is safe because every migration uses IF NOT EXISTS.
func (b *bigqueryMigrator) Apply(ctx context.Context, m Migration) error {
	if err := b.run(ctx, b.client.Query(m.SQL)); err != nil {
		return fmt.Errorf("executing: %w", err)
	}

	q := b.client.Query(`
		INSERT INTO ` + b.table() + `
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: b.appliedBy},
	}
	if err := b.run(ctx, q); err != nil {
		return fmt.Errorf("recording: %w", err)
	}
	return nil
}
