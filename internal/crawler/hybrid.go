package crawler

import (
	"context"

	"go.uber.org/zap"
)

// HybridFetcher probes with a plain HTTP fetcher and promotes to a browser
// render when the detector judges the probe to be a client-rendered shell.
type HybridFetcher struct {
	probe    Fetcher
	renderer Fetcher
	detector Detector
	logger   *zap.Logger
}

// NewHybridFetcher combines probe and renderer. A nil renderer or detector
// disables promotion.
func NewHybridFetcher(probe, renderer Fetcher, detector Detector, logger *zap.Logger) *HybridFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridFetcher{probe: probe, renderer: renderer, detector: detector, logger: logger.Named("hybrid_fetcher")}
}

// Fetch returns the probe response unless promotion applies and the render
// succeeds. A failed render falls back to the probe.
func (h *HybridFetcher) Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error) {
	resp, err := h.probe.Fetch(ctx, request)
	if err != nil {
		return FetchResponse{}, err
	}
	if h.renderer == nil || h.detector == nil || !h.detector.ShouldPromote(resp) {
		return resp, nil
	}
	rendered, err := h.renderer.Fetch(ctx, request)
	if err != nil {
		h.logger.Warn("render failed; using plain fetch", zap.String("url", request.URL), zap.Error(err))
		return resp, nil
	}
	if rendered.RobotsStatus == RobotsStatusUnknown {
		rendered.RobotsStatus = resp.RobotsStatus
		rendered.RobotsReason = resp.RobotsReason
	}
	return rendered, nil
}
