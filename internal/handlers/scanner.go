package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/qrshield/qrshield-go/internal/classify"
	"github.com/qrshield/qrshield-go/internal/db"
	"github.com/qrshield/qrshield-go/internal/metrics"
)

const recordTimeout = 2 * time.Second

// Scanner classifies a URL and records the outcome. Both the JSON API and the
// interactive page go through it.
type Scanner struct {
	gateway  *classify.Gateway
	recorder Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewScanner creates a Scanner. recorder may be nil.
func NewScanner(gw *classify.Gateway, recorder Recorder, m *metrics.Metrics, logger *slog.Logger) *Scanner {
	return &Scanner{gateway: gw, recorder: recorder, metrics: m, logger: logger}
}

// ModelLoaded reports whether non-whitelisted URLs can be classified.
func (s *Scanner) ModelLoaded() bool {
	return s.gateway.ModelLoaded()
}

// ModelName returns the loaded model's name.
func (s *Scanner) ModelName() string {
	return s.gateway.ModelName()
}

// Scan classifies rawURL and records the result. Recording failures are
// logged and never returned.
func (s *Scanner) Scan(ctx context.Context, rawURL, source, sourceIP string) (*classify.Result, *db.Scan, error) {
	res, err := s.gateway.Classify(ctx, rawURL)
	if err != nil {
		reason := "prediction"
		if errors.Is(err, classify.ErrModelNotLoaded) {
			reason = "model_not_loaded"
		}
		s.metrics.ObserveError(reason)
		s.logger.Warn("scan failed", "url", rawURL, "source", source, "err", err)
		return nil, nil, err
	}

	s.metrics.ObserveScan(res, source)
	s.logger.Info("scan",
		"url", res.URL,
		"status", res.Status,
		"confidence", res.Confidence,
		"classifier", res.Classifier,
		"cached", res.Cached,
		"source", source,
	)

	scan := db.NewScan(res, source, sourceIP)
	if s.recorder != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		if err := s.recorder.RecordScan(rctx, scan); err != nil {
			s.logger.Warn("record scan failed", "scan_id", scan.ID, "err", err)
		}
	}
	return res, scan, nil
}
