package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrshield/qrshield-go/internal/db"
	"github.com/qrshield/qrshield-go/internal/ratelimit"
)

func TestPage_Show(t *testing.T) {
	env := newTestEnv(t, tldPredictor{})
	rec := env.do(httptest.NewRequest(http.MethodGet, "/app", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, `action="/app/upload"`)
	assert.Contains(t, body, `action="/app/check"`)
	assert.NotContains(t, body, `id="verdict"`)
	assert.NotContains(t, body, "Model not loaded")
}

func TestPage_CheckMalicious(t *testing.T) {
	env := newTestEnv(t, tldPredictor{})
	rec := env.postForm("/app/check", suspiciousURL)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `class="banner verdict red"`)
	assert.Contains(t, body, "DANGER DETECTED</strong> (Confidence: 82.0%)")
	assert.Contains(t, body, "Risk Score: 82.0%")
	assert.Equal(t, db.SourcePage, env.store.recorded()[0].Source)
}

func TestPage_CheckSafe(t *testing.T) {
	env := newTestEnv(t, tldPredictor{})
	body := env.postForm("/app/check", "http://example.com").Body.String()

	assert.Contains(t, body, `class="banner verdict green"`)
	assert.Contains(t, body, "SAFE</strong> (Confidence: 90.0%)")
	assert.Contains(t, body, "Risk Score: 10.0%")
	assert.Contains(t, body, "This link looks legitimate.")
}

func TestPage_CheckEmptyRendersWithoutVerdict(t *testing.T) {
	env := newTestEnv(t, tldPredictor{})
	rec := env.postForm("/app/check", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `id="verdict"`)
	assert.Empty(t, env.store.recorded())
}

func TestPage_ModelNotLoaded(t *testing.T) {
	env := newTestEnv(t, nil)

	body := env.postForm("/app/check", "https://wikipedia.org/wiki/QR_code").Body.String()
	assert.Contains(t, body, "Model not loaded. Only trusted links")
	assert.Contains(t, body, "SAFE</strong> (Confidence: 100.0%)")
	assert.Contains(t, body, "Risk Score: 0.0% (trusted domain)")

	body = env.postForm("/app/check", suspiciousURL).Body.String()
	assert.Contains(t, body, "cannot be checked")
	assert.NotContains(t, body, `id="verdict"`)
}

func TestPage_Upload(t *testing.T) {
	env := newTestEnv(t, tldPredictor{})

	body := env.postFile("/app/upload", qrPNG(t, suspiciousURL)).Body.String()
	assert.Contains(t, body, "<strong>Decoded Link:</strong> <code>"+suspiciousURL+"</code>")
	assert.Contains(t, body, "DANGER DETECTED")

	body = env.postFile("/app/upload", blankPNG(t)).Body.String()
	assert.Contains(t, body, NoCodeWarning)
	assert.NotContains(t, body, `id="verdict"`)

	body = env.postFile("/app/upload", []byte("GIF89a?")).Body.String()
	assert.Contains(t, body, "Error processing image: Unsupported image format")
}

func TestPage_InternalHostNote(t *testing.T) {
	env := newTestEnv(t, tldPredictor{})

	body := env.postForm("/app/check", "http://192.168.1.1/login").Body.String()
	assert.Contains(t, body, "private or local network address")

	body = env.postForm("/app/check", "http://example.com").Body.String()
	assert.NotContains(t, body, "private or local network address")
}

func TestPage_RateLimitedRendersBanner(t *testing.T) {
	env := newTestEnv(t, tldPredictor{}, func(d *Deps) {
		d.Limiter = ratelimit.NewWithBuckets(map[string]ratelimit.Bucket{
			ratelimit.BucketScan:   {PerMinute: 1, Burst: 1},
			ratelimit.BucketUpload: {PerMinute: 1, Burst: 1},
		})
	})

	require.Equal(t, http.StatusOK, env.postForm("/app/check", "http://example.com").Code)
	rec := env.postForm("/app/check", "http://example.com")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	body := rec.Body.String()
	assert.Contains(t, body, `<div class="banner error">Too many requests. Please wait `)
	assert.Contains(t, body, `action="/app/check"`)
	assert.NotContains(t, body, `"error":"Rate limited"`)
	assert.Len(t, env.store.recorded(), 1)

	require.Equal(t, http.StatusOK, env.postFile("/app/upload", qrPNG(t, "https://google.com")).Code)
	rec = env.postFile("/app/upload", qrPNG(t, "https://google.com"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "Too many requests.")
}
