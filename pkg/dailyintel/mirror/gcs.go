package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCSBucket implements Bucket on Google Cloud Storage.
type GCSBucket struct {
	handle *storage.BucketHandle
}

// NewGCSBucket wraps a bucket handle.
func NewGCSBucket(client *storage.Client, bucket string) *GCSBucket {
	return &GCSBucket{handle: client.Bucket(bucket)}
}

// Put writes an object; with ifAbsent it uses a DoesNotExist precondition and
// treats 412 Precondition Failed as "already there".
func (b *GCSBucket) Put(ctx context.Context, name string, data []byte, contentType string, ifAbsent bool) (bool, error) {
	obj := b.handle.Object(name)
	if ifAbsent {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}
	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		if ifAbsent && preconditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		if ifAbsent && preconditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return true, nil
}

// List returns object names under prefix.
func (b *GCSBucket) List(ctx context.Context, prefix string) ([]string, error) {
	it := b.handle.Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

func preconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
