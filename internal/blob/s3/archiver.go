package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/domain"
)

// segment is the JSON shape of one archived history segment.
type segment struct {
	Instrument string    `json:"instrument"`
	Prices     []float64 `json:"prices"`
	ArchivedAt time.Time `json:"archived_at"`
}

// Archiver implements domain.HistoryArchiver: price observations evicted from
// the rolling window are written out as JSON objects so the full series
// survives beyond the retention cap. Keys are partitioned per instrument:
//
//	history/{instrument}/{unix_nanos}.json
//	snapshots/{unix_nanos}.json
type Archiver struct {
	writer *Writer
}

// NewArchiver creates an Archiver over the given writer.
func NewArchiver(writer *Writer) *Archiver {
	return &Archiver{writer: writer}
}

// ArchiveSegment uploads one evicted prefix of an instrument's history. An
// empty segment is a no-op.
func (a *Archiver) ArchiveSegment(ctx context.Context, instrumentID string, prices []float64, at time.Time) error {
	if len(prices) == 0 {
		return nil
	}

	seg := segment{Instrument: instrumentID, Prices: prices, ArchivedAt: at.UTC()}
	buf, err := json.Marshal(seg)
	if err != nil {
		return fmt.Errorf("s3blob: marshal segment %s: %w", instrumentID, err)
	}

	path := fmt.Sprintf("history/%s/%d.json", instrumentID, at.UnixNano())
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive segment %s: %w", instrumentID, err)
	}
	return nil
}

// ArchiveSnapshot uploads a full history snapshot across all instruments as a
// single object, using a multipart upload since scan mode can track hundreds
// of series.
func (a *Archiver) ArchiveSnapshot(ctx context.Context, snapshot map[string][]float64, at time.Time) error {
	if len(snapshot) == 0 {
		return nil
	}

	buf, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("s3blob: marshal snapshot: %w", err)
	}

	path := fmt.Sprintf("snapshots/%d.json", at.UnixNano())
	if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize); err != nil {
		return fmt.Errorf("s3blob: archive snapshot: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.HistoryArchiver = (*Archiver)(nil)
