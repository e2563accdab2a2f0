package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-evaluator/internal/progress"
	"github.com/JakeFAU/site-evaluator/internal/store"
)

// StoreSink persists run lifecycle and per-page outcomes through a
// store.RunRepository.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger.Named("progress_store")}
}

// Consume applies the batch in order and stops at the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.apply(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) apply(ctx context.Context, evt progress.Event) error {
	runID := evt.RunUUID()
	switch evt.Type {
	case progress.TypePageStart:
		if err := s.repo.StartRun(ctx, runID, store.KindPage, evt.URL, evt.TS); err != nil {
			return fmt.Errorf("start page run: %w", err)
		}
	case progress.TypeCrawlStart:
		if err := s.repo.StartRun(ctx, runID, store.KindSite, evt.URL, evt.TS); err != nil {
			return fmt.Errorf("start site run: %w", err)
		}
	case progress.TypePageDone:
		rating, class := ratingOf(evt)
		if err := s.repo.CompleteRun(ctx, runID, store.KindPage, evt.TS, store.RunSuccess, rating, class, nil); err != nil {
			return fmt.Errorf("complete page run: %w", err)
		}
	case progress.TypePageError:
		if err := s.repo.CompleteRun(ctx, runID, store.KindPage, evt.TS, store.RunError, nil, nil, noteOf(evt)); err != nil {
			return fmt.Errorf("complete page run: %w", err)
		}
	case progress.TypeCrawlPage:
		rating, _ := evt.Float("rating")
		page := store.PageOutcome{
			RunID:   runID,
			URL:     evt.URL,
			Rating:  rating,
			Class:   evt.String("class"),
			Errored: evt.Note != "",
			At:      evt.TS,
		}
		if err := s.repo.RecordPage(ctx, page); err != nil {
			return fmt.Errorf("record page: %w", err)
		}
	case progress.TypeCrawlDone:
		status := store.RunSuccess
		rating, class := ratingOf(evt)
		if evt.Note != "" {
			status = store.RunError
		}
		if err := s.repo.CompleteRun(ctx, runID, store.KindSite, evt.TS, status, rating, class, noteOf(evt)); err != nil {
			return fmt.Errorf("complete site run: %w", err)
		}
	}
	return nil
}

func ratingOf(evt progress.Event) (*float64, *string) {
	var (
		rating *float64
		class  *string
	)
	if v, ok := evt.Float("rating"); ok {
		rating = &v
	}
	if c := evt.String("class"); c != "" {
		class = &c
	}
	return rating, class
}

func noteOf(evt progress.Event) *string {
	if evt.Note == "" {
		return nil
	}
	note := evt.Note
	return &note
}

// Close implements progress.Sink; it does nothing.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
