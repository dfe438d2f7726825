// Package model loads pretrained URL classifiers from serialized artifacts.
// The artifacts are produced offline; this package never trains.
package model

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/qrshield/qrshield-go/internal/classify"
)

// Supported artifact formats.
const (
	FormatLogistic = "logistic"
	FormatForest   = "forest"
)

var (
	// ErrFeatureVersion is returned when an artifact was trained against a
	// different feature order than classify.FeatureVersion.
	ErrFeatureVersion = errors.New("feature version mismatch")
	// ErrInvalidArtifact wraps structural validation failures.
	ErrInvalidArtifact = errors.New("invalid model artifact")
)

// Artifact is the on-disk description of a trained model. JSON artifacts are
// accepted as well since YAML is a superset.
type Artifact struct {
	Name           string          `yaml:"name"`
	Format         string          `yaml:"format"`
	FeatureVersion int             `yaml:"feature_version"`
	Logistic       *LogisticParams `yaml:"logistic,omitempty"`
	Forest         *ForestParams   `yaml:"forest,omitempty"`
}

// Load reads and validates the artifact at path and returns its predictor.
func Load(path string) (classify.Predictor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates an artifact.
func Parse(data []byte) (classify.Predictor, error) {
	var a Artifact
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
	}
	return a.Predictor()
}

// Predictor validates the artifact and builds the matching predictor.
func (a *Artifact) Predictor() (classify.Predictor, error) {
	if a.FeatureVersion != classify.FeatureVersion {
		return nil, fmt.Errorf("%w: artifact has %d, service expects %d",
			ErrFeatureVersion, a.FeatureVersion, classify.FeatureVersion)
	}
	name := a.Name
	if name == "" {
		name = a.Format
	}

	switch a.Format {
	case FormatLogistic:
		if a.Logistic == nil {
			return nil, fmt.Errorf("%w: missing logistic section", ErrInvalidArtifact)
		}
		return newLogistic(name, *a.Logistic)
	case FormatForest:
		if a.Forest == nil {
			return nil, fmt.Errorf("%w: missing forest section", ErrInvalidArtifact)
		}
		return newForest(name, *a.Forest)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidArtifact, a.Format)
	}
}
