package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSFetcher reads OCR output written to a bucket prefix (gs://bucket/prefix).
type GCSFetcher struct {
	client *storage.Client
	logger *slog.Logger
}

func NewGCSFetcher(client *storage.Client, logger *slog.Logger) *GCSFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSFetcher{client: client, logger: logger}
}

// ParseGCSLocation splits gs://bucket/prefix into bucket and prefix.
func ParseGCSLocation(location string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(location, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// location: %q", location)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", location)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return bucket, prefix, nil
}

func (f *GCSFetcher) Fetch(ctx context.Context, location string) (string, error) {
	bucketName, prefix, err := ParseGCSLocation(location)
	if err != nil {
		return "", err
	}
	bucket := f.client.Bucket(bucketName)

	it := bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			f.logger.Error("ocr.gcs.list_error", "bucket", bucketName, "prefix", prefix, "error", err)
			return "", fmt.Errorf("list gs://%s/%s: %w", bucketName, prefix, err)
		}
		names = append(names, attrs.Name)
	}

	name, ok := SelectArtifact(names)
	if !ok {
		return "", fmt.Errorf("%s: %w", location, ErrNoArtifact)
	}

	r, err := bucket.Object(name).NewReader(ctx)
	if err != nil {
		return "", fmt.Errorf("open gs://%s/%s: %w", bucketName, name, err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read gs://%s/%s: %w", bucketName, name, err)
	}
	f.logger.Info("ocr.gcs.fetched", "bucket", bucketName, "object", name, "content_len", len(b))
	return string(b), nil
}
