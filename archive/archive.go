// Package archive keeps the original file of every published batch.
package archive

import (
	"context"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"scholars-backend/results"
)

// GCSArchive writes uploads to a Cloud Storage bucket.
type GCSArchive struct {
	client *storage.Client
	bucket string
}

func NewGCSArchive(client *storage.Client, bucket string) *GCSArchive {
	return &GCSArchive{client: client, bucket: bucket}
}

func (a *GCSArchive) Archive(ctx context.Context, competition, batchID, name string, data []byte) error {
	objectName := ObjectName(competition, batchID, name)
	wc := a.client.Bucket(a.bucket).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType(name)
	wc.Metadata = map[string]string{
		"competition": competition,
		"batch":       batchID,
	}

	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write gs://%s/%s: %w", a.bucket, objectName, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", a.bucket, objectName, err)
	}
	return nil
}

// ObjectName is <competition>/<batch id>/<file name>. Directory parts of the
// uploaded name are dropped.
func ObjectName(competition, batchID, name string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == "/" || base == "" {
		base = "upload"
	}
	return path.Join(competition, batchID, base)
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".tsv":
		return "text/tab-separated-values"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xlsm":
		return "application/vnd.ms-excel.sheet.macroEnabled.12"
	default:
		return "application/octet-stream"
	}
}

// Noop discards uploads. It is used when no bucket is configured.
type Noop struct{}

func (Noop) Archive(context.Context, string, string, string, []byte) error { return nil }

var (
	_ results.Archiver = (*GCSArchive)(nil)
	_ results.Archiver = Noop{}
)
