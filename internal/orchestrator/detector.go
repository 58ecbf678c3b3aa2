package orchestrator

import (
	"context"

	"nightshift/internal/ledger"
	"nightshift/internal/scanner"
)

// RecordReader is the ledger view needed for change detection.
type RecordReader interface {
	Get(ctx context.Context, path string) (*ledger.Record, error)
}

// ChangeDetector decides whether a scanned file needs to be uploaded.
type ChangeDetector struct {
	records RecordReader
}

// NewChangeDetector returns a detector backed by records.
func NewChangeDetector(records RecordReader) *ChangeDetector {
	return &ChangeDetector{records: records}
}

// NeedsBackup reports true when the ledger has no record for the file, the
// recorded fingerprint differs from the file's content, or the record is not
// uploaded. Modification times and other metadata are ignored.
func (c *ChangeDetector) NeedsBackup(ctx context.Context, d *scanner.Descriptor) (bool, error) {
	fp, err := d.Fingerprint()
	if err != nil {
		return false, err
	}
	rec, err := c.records.Get(ctx, d.Path)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return true, nil
	}
	return rec.Fingerprint != fp || rec.Status != ledger.StatusUploaded, nil
}
