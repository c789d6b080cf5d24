package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/colemanlowe/fibhedge/internal/domain"
)

// The archiver only requires the time-ranged queries it actually calls, not
// the full domain store interfaces.

// PositionArchiveStore provides read access to closed positions for export.
type PositionArchiveStore interface {
	// ListClosedBefore returns closed positions whose exit time is strictly
	// before the cutoff.
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error)
}

// TriggerArchiveStore provides read access to trigger history for export.
type TriggerArchiveStore interface {
	// ListBefore returns trigger events fired strictly before the cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.TriggerEvent, error)
}

// BlobWriter is the upload surface the archiver needs.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports closed positions and trigger history to JSONL files in
// object storage. Deletion of archived rows from the primary store is a
// separate, explicit step taken after the archive is verified.
type Archiver struct {
	writer    BlobWriter
	positions PositionArchiveStore
	triggers  TriggerArchiveStore
	logger    *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer BlobWriter, positions PositionArchiveStore, triggers TriggerArchiveStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		positions: positions,
		triggers:  triggers,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ArchivePositions exports closed positions before the cutoff to
// archive/positions/YYYY-MM.jsonl and returns the record count.
func (a *Archiver) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.positions.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(positions)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	path := archivePath("positions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	count := int64(len(positions))
	a.logger.InfoContext(ctx, "archived closed positions",
		slog.String("path", path),
		slog.Int64("count", count),
	)
	return count, nil
}

// ArchiveTriggers exports trigger events before the cutoff to
// archive/triggers/YYYY-MM.jsonl and returns the record count.
func (a *Archiver) ArchiveTriggers(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.triggers.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive triggers query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive triggers marshal: %w", err)
	}

	path := archivePath("triggers", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive triggers upload: %w", err)
	}

	count := int64(len(events))
	a.logger.InfoContext(ctx, "archived trigger events",
		slog.String("path", path),
		slog.Int64("count", count),
	)
	return count, nil
}

// Run exports both datasets once.
func (a *Archiver) Run(ctx context.Context, before time.Time) error {
	if _, err := a.ArchivePositions(ctx, before); err != nil {
		return err
	}
	if _, err := a.ArchiveTriggers(ctx, before); err != nil {
		return err
	}
	return nil
}

// archivePath builds the object key, partitioned by the cutoff's year-month.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
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
