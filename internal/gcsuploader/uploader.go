package gcsuploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"
)

const uploadTimeout = 2 * time.Minute

// PutObject implements gcs.ObjectStore.
func (c *Client) PutObject(ctx context.Context, bucket, object string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("PutObject: copy to GCS writer: %w", err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("PutObject: finalize upload %s/%s: %w", bucket, object, err)
	}
	return nil
}
