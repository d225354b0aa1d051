package gcsuploader

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/Financial-Management-System/FMS-sub000/internal/gcs"
)

// GetObject implements gcs.ObjectStore.
func (c *Client) GetObject(ctx context.Context, bucket, object string) ([]byte, error) {
	r, err := c.client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("GetObject %s/%s: %w", bucket, object, gcs.ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetObject: open reader %s/%s: %w", bucket, object, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("GetObject: read bytes: %w", err)
	}
	return data, nil
}
