package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrModelNotLoaded is returned for non-whitelisted URLs when the service
	// runs without a model.
	ErrModelNotLoaded = errors.New("model not loaded")
	// ErrPrediction wraps failures of the underlying predictor.
	ErrPrediction = errors.New("prediction failed")
)

// Predictor maps a feature vector to the probability of the malicious class.
// Implementations must be safe for concurrent use.
type Predictor interface {
	Name() string
	PredictProba(ctx context.Context, f Features) (float64, error)
}

// ProbabilityCache stores predictor output keyed by feature vector.
type ProbabilityCache interface {
	Get(ctx context.Context, key string) (float64, bool, error)
	Set(ctx context.Context, key string, p float64) error
}

// Gateway combines the whitelist short-circuit with the model. It holds no
// per-request state and is shared by every entry point.
type Gateway struct {
	whitelist *Whitelist
	predictor Predictor
	cache     ProbabilityCache
	flight    singleflight.Group
	logger    *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCache enables probability caching.
func WithCache(c ProbabilityCache) Option {
	return func(g *Gateway) { g.cache = c }
}

// WithLogger sets the gateway logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway creates a gateway. A nil predictor puts the gateway in
// whitelist-only mode.
func NewGateway(wl *Whitelist, p Predictor, opts ...Option) *Gateway {
	g := &Gateway{
		whitelist: wl,
		predictor: p,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ModelLoaded reports whether a predictor is available.
func (g *Gateway) ModelLoaded() bool {
	return g.predictor != nil
}

// ModelName returns the predictor name, or "" in whitelist-only mode.
func (g *Gateway) ModelName() string {
	if g.predictor == nil {
		return ""
	}
	return g.predictor.Name()
}

// Whitelist returns the gateway whitelist.
func (g *Gateway) Whitelist() *Whitelist {
	return g.whitelist
}

// Classify runs the whitelist check, then the model. The whitelist always
// wins, even when no model is loaded.
func (g *Gateway) Classify(ctx context.Context, rawURL string) (*Result, error) {
	start := time.Now()

	if g.whitelist.Match(rawURL) {
		r := Trusted(rawURL)
		r.ResponseTimeMs = elapsedMs(start)
		return r, nil
	}

	if g.predictor == nil {
		return nil, ErrModelNotLoaded
	}

	features := ExtractFeatures(rawURL)
	p, cached, err := g.predict(ctx, features)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrediction, err)
	}

	r := Decide(rawURL, p)
	r.Classifier = g.predictor.Name()
	r.Features = features
	r.Cached = cached
	r.ResponseTimeMs = elapsedMs(start)
	return r, nil
}

func (g *Gateway) predict(ctx context.Context, f Features) (float64, bool, error) {
	key := cacheKey(g.predictor.Name(), f)

	if g.cache != nil {
		p, ok, err := g.cache.Get(ctx, key)
		if err != nil {
			g.logger.Warn("probability cache read failed", "err", err)
		} else if ok {
			return p, true, nil
		}
	}

	// The shared call outlives any single caller; one client disconnecting
	// must not fail the others waiting on the same key.
	v, err, _ := g.flight.Do(key, func() (any, error) {
		p, err := g.predictor.PredictProba(context.WithoutCancel(ctx), f)
		if err != nil {
			return 0.0, err
		}
		if math.IsNaN(p) || p < 0 || p > 1 {
			return 0.0, fmt.Errorf("probability out of range: %v", p)
		}
		return p, nil
	})
	if err != nil {
		return 0, false, err
	}
	p := v.(float64)

	if g.cache != nil {
		if err := g.cache.Set(ctx, key, p); err != nil {
			g.logger.Warn("probability cache write failed", "err", err)
		}
	}
	return p, false, nil
}

func cacheKey(model string, f Features) string {
	return "v" + strconv.Itoa(FeatureVersion) + ":" + model + ":" + f.Key()
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
