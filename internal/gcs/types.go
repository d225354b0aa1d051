package gcs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrObjectNotFound is returned by an ObjectStore when the object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore provides the cloud storage operations used by the report archive.
type ObjectStore interface {
	// PutObject writes data to bucket/object, replacing any existing object.
	PutObject(ctx context.Context, bucket, object string, data []byte, contentType string) error

	// GetObject reads the whole object.
	GetObject(ctx context.Context, bucket, object string) ([]byte, error)
}

// FormatURI builds a gs:// URI.
func FormatURI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}

// ParseURI splits "gs://bucket/path/to/object" into bucket and object path.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// BaseName extracts the final path element of a URI.
// e.g., "gs://bucket/recurring-runs/2026/01/10/abc.json" → "abc.json"
func BaseName(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}
