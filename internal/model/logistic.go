package model

import (
	"context"
	"fmt"
	"math"

	"github.com/qrshield/qrshield-go/internal/classify"
)

// LogisticParams are the coefficients of a binary logistic regression.
type LogisticParams struct {
	Intercept float64   `yaml:"intercept"`
	Weights   []float64 `yaml:"weights"`
}

// Logistic computes sigmoid(intercept + w·x).
type Logistic struct {
	name      string
	intercept float64
	weights   classify.Features
}

func newLogistic(name string, p LogisticParams) (*Logistic, error) {
	if len(p.Weights) != classify.FeatureCount {
		return nil, fmt.Errorf("%w: logistic needs %d weights, got %d",
			ErrInvalidArtifact, classify.FeatureCount, len(p.Weights))
	}
	l := &Logistic{name: name, intercept: p.Intercept}
	copy(l.weights[:], p.Weights)
	return l, nil
}

// Name implements classify.Predictor.
func (l *Logistic) Name() string { return l.name }

// PredictProba implements classify.Predictor.
func (l *Logistic) PredictProba(_ context.Context, f classify.Features) (float64, error) {
	z := l.intercept
	for i, w := range l.weights {
		z += w * f[i]
	}
	return 1 / (1 + math.Exp(-z)), nil
}
