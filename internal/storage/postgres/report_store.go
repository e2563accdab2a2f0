package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/site-evaluator/internal/evaluation"
)

// Report kinds stored in the kind column.
const (
	ReportKindPage = "page"
	ReportKindSite = "site"
)

// ReportRecord is one hand-off row.
type ReportRecord struct {
	RunID     uuid.UUID
	Kind      string
	URL       string
	Rating    float64
	Class     evaluation.Class
	Payload   []byte
	BlobURI   string
	CreatedAt time.Time
}

// ReportStore inserts finished reports as JSONB rows for downstream consumers.
type ReportStore struct {
	db    DB
	table string
}

// NewReportStore wraps db. An empty table uses "evaluation_reports".
func NewReportStore(db DB, table string) (*ReportStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "evaluation_reports")
	if err != nil {
		return nil, err
	}
	return &ReportStore{db: db, table: table}, nil
}

// Close releases the underlying pool.
func (s *ReportStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// SavePage stores a page report.
func (s *ReportStore) SavePage(ctx context.Context, runID uuid.UUID, rep evaluation.PageReport, blobURI string, at time.Time) error {
	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal page report: %w", err)
	}
	return s.Insert(ctx, ReportRecord{
		RunID:     runID,
		Kind:      ReportKindPage,
		URL:       rep.URL,
		Rating:    rep.PageRating,
		Class:     rep.PageClass,
		Payload:   payload,
		BlobURI:   blobURI,
		CreatedAt: at,
	})
}

// SaveSite stores a site report.
func (s *ReportStore) SaveSite(ctx context.Context, runID uuid.UUID, rep evaluation.SiteReport, blobURI string, at time.Time) error {
	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal site report: %w", err)
	}
	return s.Insert(ctx, ReportRecord{
		RunID:     runID,
		Kind:      ReportKindSite,
		URL:       rep.WebsiteURL,
		Rating:    rep.WebsiteRating,
		Class:     rep.WebsiteClass,
		Payload:   payload,
		BlobURI:   blobURI,
		CreatedAt: at,
	})
}

// Insert writes rec. A run id is stored once per kind; repeats are ignored.
func (s *ReportStore) Insert(ctx context.Context, rec ReportRecord) error {
	if rec.RunID == uuid.Nil {
		return fmt.Errorf("run id is required")
	}
	var blob *string
	if rec.BlobURI != "" {
		blob = &rec.BlobURI
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	kind,
	url,
	rating,
	class,
	report,
	blob_uri,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (run_id, kind) DO NOTHING`, s.table)

	if _, err := s.db.Exec(ctx, query,
		rec.RunID,
		rec.Kind,
		rec.URL,
		rec.Rating,
		string(rec.Class),
		rec.Payload,
		blob,
		rec.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}
