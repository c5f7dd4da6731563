package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type ReportRepo struct{ DB *sql.DB }

func NewReportRepo(db *sql.DB) *ReportRepo { return &ReportRepo{DB: db} }

// ReportRecord is one processed image: the OCR text and, when structuring
// succeeded, the report text with its range check outcome.
type ReportRecord struct {
	ID         int64
	CreatedAt  time.Time
	Owner      string
	ImageHash  string
	Engine     string
	RawText    string
	ReportText string
	Normalized bool
	Mismatches int
}

// FindByHash returns the record for (image_hash, engine). With maxAge > 0 an
// older record counts as missing.
func (r *ReportRepo) FindByHash(ctx context.Context, imageHash, engine string, maxAge time.Duration) (*ReportRecord, error) {
	const q = `
select id, created_at, owner, image_hash, engine,
       raw_text, report_text, normalized, mismatches
from lab_reports
where image_hash = $1 and engine = $2`
	var rec ReportRecord
	if err := r.DB.QueryRowContext(ctx, q, imageHash, engine).Scan(
		&rec.ID, &rec.CreatedAt, &rec.Owner, &rec.ImageHash, &rec.Engine,
		&rec.RawText, &rec.ReportText, &rec.Normalized, &rec.Mismatches,
	); err != nil {
		return nil, err
	}
	if maxAge > 0 && time.Since(rec.CreatedAt) > maxAge {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Upsert stores rec keyed by (image_hash, engine); created_at is refreshed.
func (r *ReportRepo) Upsert(ctx context.Context, rec ReportRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	const q = `
insert into lab_reports (
  created_at, owner, image_hash, engine,
  raw_text, report_text, normalized, mismatches
) values ($1,$2,$3,$4,$5,$6,$7,$8)
on conflict (image_hash, engine) do update
set created_at = excluded.created_at,
    owner = excluded.owner,
    raw_text = excluded.raw_text,
    report_text = excluded.report_text,
    normalized = excluded.normalized,
    mismatches = excluded.mismatches`
	_, err := r.DB.ExecContext(ctx, q,
		rec.CreatedAt.UTC(), rec.Owner, rec.ImageHash, rec.Engine,
		rec.RawText, rec.ReportText, rec.Normalized, rec.Mismatches,
	)
	return err
}

// PurgeOlderThan deletes records older than olderThan.
func (r *ReportRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().Add(-olderThan).UTC()
	const q = `delete from lab_reports where created_at < $1`
	res, err := r.DB.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}
