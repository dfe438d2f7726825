package db

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/qrshield/qrshield-go/internal/classify"
)

func TestNewScan(t *testing.T) {
	r := classify.Decide("http://secure-login.update.xyz", 0.82)
	r.Classifier = "qr_fraud_model"
	r.ResponseTimeMs = 1.5

	s := NewScan(r, SourceAPI, "203.0.113.7")

	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.False(t, s.CreatedAt.IsZero())
	assert.Equal(t, "http://secure-login.update.xyz", s.URL)
	assert.Equal(t, "MALICIOUS", s.Status)
	assert.InDelta(t, 82.0, s.Confidence, 1e-4)
	assert.InDelta(t, 0.82, s.Probability, 1e-6)
	assert.Equal(t, "red", s.Color)
	assert.Equal(t, "qr_fraud_model", s.Classifier)
	assert.Equal(t, SourceAPI, s.Source)
	assert.Equal(t, "203.0.113.7", s.SourceIP)
	assert.InDelta(t, 1.5, s.ResponseTimeMs, 1e-6)
}

func TestNewScan_UniqueIDs(t *testing.T) {
	r := classify.Trusted("https://google.com")
	assert.NotEqual(t, NewScan(r, SourcePage, "").ID, NewScan(r, SourcePage, "").ID)
}
