package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// maxArchiveBatch bounds how many events one ArchiveEvents call moves.
const maxArchiveBatch = 5000

// EventSource is the slice of domain.EventStore the archiver needs.
type EventSource interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Event, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// blobChecker confirms an upload landed.
type blobChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves old engine events to object storage as JSONL and deletes
// them from the primary store once the upload is confirmed.
type Archiver struct {
	writer domain.BlobWriter
	check  blobChecker
	events EventSource
	batch  int
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, events EventSource, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		writer: writer,
		check:  reader,
		events: events,
		batch:  maxArchiveBatch,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveEvents uploads events older than before and removes them from the
// store. When more than one batch is pending, the cutoff moves back to the
// newest complete timestamp in the batch and the rest is left for the next
// run.
func (a *Archiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.events.ListBefore(ctx, before, a.batch)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}
	events, cutoff, err := trimToCutoff(events, before, len(events) >= a.batch)
	if err != nil {
		return 0, err
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}
	path := archivePath("events", cutoff)
	if int64(len(buf)) >= minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}
	ok, err := a.check.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events verify: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("s3blob: archive events verify %s: %w", path, domain.ErrNotFound)
	}

	deleted, err := a.events.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events prune: %w", err)
	}
	a.logger.InfoContext(ctx, "events archived",
		slog.String("path", path),
		slog.Int("uploaded", len(events)),
		slog.Int64("deleted", deleted),
	)
	return int64(len(events)), nil
}

// trimToCutoff returns the events to archive and the matching delete cutoff.
// For a full batch, events sharing the last timestamp are dropped so that
// "everything before cutoff" is exactly the returned slice. events must be
// in ascending timestamp order.
func trimToCutoff(events []domain.Event, before time.Time, full bool) ([]domain.Event, time.Time, error) {
	if !full {
		return events, before, nil
	}
	last := events[len(events)-1].Timestamp
	n := len(events)
	for n > 0 && !events[n-1].Timestamp.Before(last) {
		n--
	}
	if n == 0 {
		return nil, time.Time{}, fmt.Errorf("s3blob: more than %d events share timestamp %s", len(events), last.Format(time.RFC3339Nano))
	}
	return events[:n], last, nil
}

// archivePath builds the object key, partitioned by month with the cutoff
// in the file name so repeated runs never overwrite each other.
//
//	archive/events/2026-06/1780315200000000000.jsonl
func archivePath(kind string, cutoff time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%d.jsonl", kind, cutoff.UTC().Format("2006-01"), cutoff.UnixNano())
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
