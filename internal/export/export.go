// Package export hands finished reports to downstream consumers: a JSON blob
// in the configured store, a Postgres row and a Pub/Sub notice. Every step is
// optional and none of them can change the report.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-evaluator/internal/evaluation"
)

const contentType = "application/json"

// ReportStore persists reports for query by other services.
type ReportStore interface {
	SavePage(ctx context.Context, runID uuid.UUID, rep evaluation.PageReport, blobURI string, at time.Time) error
	SaveSite(ctx context.Context, runID uuid.UUID, rep evaluation.SiteReport, blobURI string, at time.Time) error
}

// Config controls object naming and the notice topic.
type Config struct {
	Prefix string
	Topic  string
}

// Notice is the message published after a report is handed off.
type Notice struct {
	RunID       string           `json:"run_id"`
	Kind        string           `json:"kind"`
	URL         string           `json:"url"`
	Rating      float64          `json:"rating"`
	Class       evaluation.Class `json:"class"`
	BlobURI     string           `json:"blob_uri,omitempty"`
	ContentHash string           `json:"content_hash"`
	Pages       int              `json:"pages,omitempty"`
	Timestamp   string           `json:"timestamp"`
}

// Exporter runs the hand-off steps. Nil collaborators skip their step.
type Exporter struct {
	cfg       Config
	blobs     evaluation.BlobStore
	reports   ReportStore
	publisher evaluation.Publisher
	hasher    evaluation.Hasher
	clock     evaluation.Clock
	logger    *zap.Logger
}

// New wires an Exporter. hasher and clock are required.
func New(
	cfg Config,
	blobs evaluation.BlobStore,
	reports ReportStore,
	publisher evaluation.Publisher,
	hasher evaluation.Hasher,
	clock evaluation.Clock,
	logger *zap.Logger,
) (*Exporter, error) {
	if hasher == nil || clock == nil {
		return nil, fmt.Errorf("exporter requires hasher and clock: %w", evaluation.ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		cfg:       cfg,
		blobs:     blobs,
		reports:   reports,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		logger:    logger.Named("export"),
	}, nil
}

// ObjectPath names the blob for one report.
func (e *Exporter) ObjectPath(runID uuid.UUID, kind string) string {
	prefix := strings.Trim(e.cfg.Prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.json", runID, kind)
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, runID, kind)
}

// Page hands off a page report and returns the published notice.
func (e *Exporter) Page(ctx context.Context, runID uuid.UUID, rep evaluation.PageReport) Notice {
	notice := Notice{
		RunID:  runID.String(),
		Kind:   "page",
		URL:    rep.URL,
		Rating: rep.PageRating,
		Class:  rep.PageClass,
	}
	return e.handoff(ctx, runID, rep, &notice, func(uri string, at time.Time) error {
		return e.reports.SavePage(ctx, runID, rep, uri, at)
	})
}

// Site hands off a site report and returns the published notice.
func (e *Exporter) Site(ctx context.Context, runID uuid.UUID, rep evaluation.SiteReport) Notice {
	notice := Notice{
		RunID:  runID.String(),
		Kind:   "site",
		URL:    rep.WebsiteURL,
		Rating: rep.WebsiteRating,
		Class:  rep.WebsiteClass,
		Pages:  len(rep.PageReports),
	}
	return e.handoff(ctx, runID, rep, &notice, func(uri string, at time.Time) error {
		return e.reports.SaveSite(ctx, runID, rep, uri, at)
	})
}

func (e *Exporter) handoff(
	ctx context.Context,
	runID uuid.UUID,
	rep any,
	notice *Notice,
	save func(uri string, at time.Time) error,
) Notice {
	now := e.clock.Now()
	notice.Timestamp = now.UTC().Format(time.RFC3339)
	log := e.logger.With(zap.String("run_id", notice.RunID), zap.String("kind", notice.Kind))

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		log.Error("marshal report failed", zap.Error(err))
		return *notice
	}
	if hash, err := e.hasher.Hash(data); err == nil {
		notice.ContentHash = hash
	} else {
		log.Warn("hash report failed", zap.Error(err))
	}

	if e.blobs != nil {
		uri, err := e.blobs.PutObject(ctx, e.ObjectPath(runID, notice.Kind), contentType, bytes.NewReader(data))
		if err != nil {
			log.Warn("export report failed", zap.Error(err))
		} else {
			notice.BlobURI = uri
		}
	}
	if e.reports != nil {
		if err := save(notice.BlobURI, now); err != nil {
			log.Warn("save report failed", zap.Error(err))
		}
	}
	if e.publisher != nil && e.cfg.Topic != "" {
		id, err := e.publisher.Publish(ctx, e.cfg.Topic, notice)
		if err != nil {
			log.Warn("publish notice failed", zap.Error(err))
		} else {
			log.Info("report handed off",
				zap.String("message_id", id),
				zap.String("blob_uri", notice.BlobURI),
				zap.Float64("rating", notice.Rating),
			)
		}
	}
	return *notice
}
