package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/qrshield/qrshield-go/internal/classify"
)

const maxRemoteResponse = 1 << 16

// Remote calls an HTTP inference sidecar that hosts the trained model. The
// sidecar receives the feature vector and answers with the malicious-class
// probability.
type Remote struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

type remoteRequest struct {
	FeatureVersion int       `json:"feature_version"`
	Features       []float64 `json:"features"`
}

type remoteResponse struct {
	Probability *float64 `json:"probability"`
}

// NewRemote creates a remote predictor. After five consecutive failures the
// breaker opens for 30 seconds and calls fail fast.
func NewRemote(url string, timeout time.Duration) *Remote {
	return &Remote{
		url:    url,
		client: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "remote-model",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Name implements classify.Predictor.
func (r *Remote) Name() string { return "remote" }

// PredictProba implements classify.Predictor.
func (r *Remote) PredictProba(ctx context.Context, f classify.Features) (float64, error) {
	v, err := r.breaker.Execute(func() (interface{}, error) {
		return r.call(ctx, f)
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (r *Remote) call(ctx context.Context, f classify.Features) (float64, error) {
	body, err := json.Marshal(remoteRequest{
		FeatureVersion: classify.FeatureVersion,
		Features:       f.Slice(),
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("remote model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("remote model: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponse))
	if err != nil {
		return 0, fmt.Errorf("remote model: read body: %w", err)
	}

	var out remoteResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("remote model: parse body: %w", err)
	}
	if out.Probability == nil {
		return 0, fmt.Errorf("remote model: response has no probability")
	}
	p := *out.Probability
	if p < 0 || p > 1 {
		return 0, fmt.Errorf("remote model: probability out of range: %v", p)
	}
	return p, nil
}
