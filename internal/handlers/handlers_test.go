package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/makiuchi-d/gozxing"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrshield/qrshield-go/internal/classify"
	"github.com/qrshield/qrshield-go/internal/db"
	"github.com/qrshield/qrshield-go/internal/metrics"
	"github.com/qrshield/qrshield-go/internal/ratelimit"
	"github.com/qrshield/qrshield-go/internal/sse"
	"github.com/qrshield/qrshield-go/internal/ws"
)

const suspiciousURL = "http://secure-login.update.xyz"

// tldPredictor flags URLs on suspicious TLDs with p=0.82.
type tldPredictor struct{ err error }

func (tldPredictor) Name() string { return "fake" }

func (p tldPredictor) PredictProba(_ context.Context, f classify.Features) (float64, error) {
	if p.err != nil {
		return 0, p.err
	}
	if f[7] == 1 {
		return 0.82, nil
	}
	return 0.1, nil
}

type fakeStore struct {
	mu        sync.Mutex
	scans     []db.Scan
	lastLimit int
	err       error
}

func (f *fakeStore) RecordScan(_ context.Context, s *db.Scan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.scans = append(f.scans, *s)
	return nil
}

func (f *fakeStore) RecentScans(_ context.Context, limit int) ([]db.Scan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	out := make([]db.Scan, 0, len(f.scans))
	for i := len(f.scans) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.scans[i])
	}
	return out, nil
}

func (f *fakeStore) GetScan(_ context.Context, id string) (*db.Scan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.scans {
		if s.ID.String() == id {
			return &s, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeStore) GetStats(_ context.Context) (*db.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := &db.Stats{TotalScans: int64(len(f.scans))}
	for _, s := range f.scans {
		if s.Status == string(classify.StatusMalicious) {
			st.MaliciousScans++
		} else {
			st.SafeScans++
		}
	}
	return st, nil
}

func (f *fakeStore) recorded() []db.Scan {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]db.Scan(nil), f.scans...)
}

type testEnv struct {
	router http.Handler
	store  *fakeStore
	hub    *sse.Hub
}

func newTestEnv(t *testing.T, pred classify.Predictor, mutate ...func(*Deps)) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &fakeStore{}
	hub := sse.NewHub(logger)
	d := Deps{
		Gateway:        classify.NewGateway(classify.DefaultWhitelist(), pred, classify.WithLogger(logger)),
		Recorder:       store,
		History:        store,
		Hub:            hub,
		WS:             ws.NewManager(store, logger),
		Limiter:        ratelimit.New(),
		Metrics:        metrics.New(),
		MaxUploadBytes: 1 << 20,
		Logger:         logger,
	}
	for _, m := range mutate {
		m(&d)
	}
	return &testEnv{router: NewRouter(d), store: store, hub: hub}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postJSON(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req)
}

func (e *testEnv) postForm(path, url string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("url="+url))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(req)
}

func (e *testEnv) postFile(path string, data []byte) *httptest.ResponseRecorder {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "qr.png")
	fw.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.do(req)
}

func qrPNG(t *testing.T, text string) []byte {
	t.Helper()
	matrix, err := zxqr.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 256, 256, nil)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, matrix))
	return buf.Bytes()
}

func blankPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestBanner(t *testing.T) {
	env := newTestEnv(t, tldPredictor{})
	rec := env.do(httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"QR Shield backend is running. Use /scan endpoint."}`, rec.Body.String())
}

func TestScan_Whitelisted(t *testing.T) {
	env := newTestEnv(t, tldPredictor{})
	rec := env.postJSON("/scan", `{"url":"https://www.google.com/search?q=x"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"https://www.google.com/search?q=x","status":"SAFE","confidence":100,"color":"green"}`, rec.Body.String())

	id, err := uuid.Parse(rec.Header().Get("X-Scan-ID"))
	require.NoError(t, err)
	scans := env.store.recorded()
	require.Len(t, scans, 1)
	assert.Equal(t, id, scans[0].ID)
	assert.Equal(t, classify.ClassifierWhitelist, scans[0].Classifier)
	assert.Equal(t, db.SourceAPI, scans[0].Source)
}

func TestScan_Malicious(t *testing.T) {
	env := newTestEnv(t, tldPredictor{})
	rec := env.postJSON("/scan", `{"url":"`+suspiciousURL+`"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"`+suspiciousURL+`","status":"MALICIOUS","confidence":82,"color":"red"}`, rec.Body.String())
}

func TestScan_SafeConfidenceIsWinningClass(t *testing.T) {
	env := newTestEnv(t, tldPredictor{})
	rec := env.postJSON("/scan", `{"url":"http://example.com"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"http://example.com","status":"SAFE","confidence":90,"color":"green"}`, rec.Body.String())
}

func TestScan_EmptyURLIsClassified(t *testing.T) {
	env := newTestEnv(t, tldPredictor{})
	rec := env.postJSON("/scan", `{"url":""}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"SAFE"`)
}

func TestScan_BadRequest(t *testing.T) {
	env := newTestEnv(t, tldPredictor{})
	for _, body := range []string{`{}`, `not json`, `{"url":12}`, ``} {
		rec := env.postJSON("/scan", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.JSONEq(t, `{"error":"url field is required"}`, rec.Body.String())
	}
	assert.Empty(t, env.store.recorded())
}

func TestScan_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, tldPredictor{})

	rec := env.postJSON("/scan", `{"url":"http://x.top/`+strings.Repeat("a", maxJSONBody)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.JSONEq(t, `{"error":"Request body too large"}`, rec.Body.String())
	assert.Empty(t, env.store.recorded())

	rec = env.postJSON("/scan", `{"url":"http://x.top/`+strings.Repeat("a", maxJSONBody/2)+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestScan_ModelNotLoaded(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.postJSON("/scan", `{"url":"`+suspiciousURL+`"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"url":"`+suspiciousURL+`","status":"ERROR","error":"Model not loaded"}`, rec.Body.String())

	rec = env.postJSON("/scan", `{"url":"upi://pay?pa=merchant@bank"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"confidence":100`)
}

func TestScan_PredictionFailed(t *testing.T) {
	env := newTestEnv(t, tldPredictor{err: errors.New("boom")})
	rec := env.postJSON("/scan", `{"url":"`+suspiciousURL+`"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"url":"`+suspiciousURL+`","status":"ERROR","error":"Prediction failed"}`, rec.Body.String())
}

func TestScan_RecordFailureNotSurfaced(t *testing.T) {
	env := newTestEnv(t, tldPredictor{})
	env.store.err = errors.New("db down")

	rec := env.postJSON("/scan", `{"url":"http://example.com"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestScan_RateLimited(t *testing.T) {
	env := newTestEnv(t, tldPredictor{}, func(d *Deps) {
		d.Limiter = ratelimit.NewWithBuckets(map[string]ratelimit.Bucket{
			ratelimit.BucketScan: {PerMinute: 1, Burst: 1},
		})
	})

	assert.Equal(t, http.StatusOK, env.postJSON("/scan", `{"url":"a"}`).Code)
	rec := env.postJSON("/scan", `{"url":"a"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"error":"Rate limited"`)
}

func TestScanImage(t *testing.T) {
	env := newTestEnv(t, tldPredictor{})

	rec := env.postFile("/v1/scan-image", qrPNG(t, suspiciousURL))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"`+suspiciousURL+`","status":"MALICIOUS","confidence":82,"color":"red","decoded":"`+suspiciousURL+`"}`, rec.Body.String())
	assert.Equal(t, db.SourceUpload, env.store.recorded()[0].Source)

	rec = env.postFile("/v1/scan-image", blankPNG(t))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"error":"No QR code detected"}`, rec.Body.String())

	rec = env.postFile("/v1/scan-image", []byte("plain text"))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = env.postJSON("/v1/scan-image", `{"url":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanImage_TooLarge(t *testing.T) {
	env := newTestEnv(t, tldPredictor{}, func(d *Deps) { d.MaxUploadBytes = 64 })
	rec := env.postFile("/v1/scan-image", qrPNG(t, suspiciousURL))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestExplain_Disabled(t *testing.T) {
	env := newTestEnv(t, tldPredictor{})
	rec := env.postJSON("/v1/explain", `{"url":"`+suspiciousURL+`"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, env.store.recorded())
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, tldPredictor{})
	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.JSONEq(t, `{"status":"ok","model_loaded":true,"model":"fake"}`, rec.Body.String())

	env = newTestEnv(t, nil)
	rec = env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.JSONEq(t, `{"status":"ok","model_loaded":false,"model":""}`, rec.Body.String())

	rec = env.do(httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, "pong", rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, tldPredictor{})
	rec := env.do(httptest.NewRequest(http.MethodOptions, "/scan", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, tldPredictor{})
	env.postJSON("/scan", `{"url":"https://google.com"}`)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `qrshield_scans_total{source="api",status="SAFE"} 1`)
	assert.Contains(t, rec.Body.String(), `qrshield_whitelist_hits_total 1`)
}

func decodeScans(t *testing.T, body io.Reader) []db.Scan {
	t.Helper()
	var scans []db.Scan
	require.NoError(t, json.NewDecoder(body).Decode(&scans))
	return scans
}
