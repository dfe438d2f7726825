package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrshield/qrshield-go/internal/classify"
	"github.com/qrshield/qrshield-go/internal/config"
	"github.com/qrshield/qrshield-go/internal/handlers"
	"github.com/qrshield/qrshield-go/internal/metrics"
	"github.com/qrshield/qrshield-go/internal/ratelimit"
	"github.com/qrshield/qrshield-go/internal/sse"
	"github.com/qrshield/qrshield-go/internal/ws"
)

func writeArtifact(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const futureArtifact = "name: m\nformat: logistic\nfeature_version: 2\nlogistic:\n  intercept: 0\n  weights: [0, 0, 0, 0, 0, 0, 0, 2]\n"

func modelConfig(path string) *config.Config {
	cfg := &config.Config{}
	cfg.Model.Path = path
	return cfg
}

func TestLoadPredictor_FallsBackToWhitelistOnly(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := map[string]string{
		"missing":         filepath.Join(t.TempDir(), "absent.yaml"),
		"feature version": writeArtifact(t, futureArtifact),
		"invalid yaml":    writeArtifact(t, "name: [unterminated\n"),
		"unknown format":  writeArtifact(t, "name: m\nformat: svm\nfeature_version: 1\n"),
		"empty file":      writeArtifact(t, ""),
	}
	for name, path := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Nil(t, loadPredictor(modelConfig(path), logger))
		})
	}
}

func TestLoadPredictor_Valid(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := loadPredictor(modelConfig("../../internal/model/testdata/forest.yaml"), logger)
	require.NotNil(t, p)
	assert.Equal(t, "qr_fraud_model", p.Name())
}

func TestLoadPredictor_BadArtifactServesWhitelistOnly(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := writeArtifact(t, futureArtifact)

	predictor := loadPredictor(modelConfig(path), logger)
	require.Nil(t, predictor)

	hub := sse.NewHub(logger)
	wsManager := ws.NewManager(nil, logger)
	router := handlers.NewRouter(handlers.Deps{
		Gateway:        classify.NewGateway(classify.DefaultWhitelist(), predictor, classify.WithLogger(logger)),
		Recorder:       handlers.NewLocalRecorder(sse.Fanout{hub, wsManager}),
		Hub:            hub,
		WS:             wsManager,
		Limiter:        ratelimit.New(),
		Metrics:        metrics.New(),
		MaxUploadBytes: 1 << 20,
		Logger:         logger,
	})

	scan := func(url string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/scan", strings.NewReader(`{"url":"`+url+`"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := scan("http://secure-login.update.xyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Model not loaded")

	rec = scan("https://www.google.com")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"SAFE"`)
}
