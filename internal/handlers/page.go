package handlers

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/qrshield/qrshield-go/internal/classify"
	"github.com/qrshield/qrshield-go/internal/db"
	"github.com/qrshield/qrshield-go/internal/netguard"
	"github.com/qrshield/qrshield-go/internal/ratelimit"
)

// NoCodeWarning is shown when an uploaded image holds no readable QR code.
const NoCodeWarning = "No QR code detected. Try a clearer picture or crop closer to the QR."

//go:embed templates/*.html
var templates embed.FS

var appTemplate = template.Must(template.ParseFS(templates, "templates/app.html"))

type pageView struct {
	ModelLoaded bool
	URL         string
	Decoded     string
	Warning     string
	Error       string
	Result      *classify.Result
	Internal    bool
}

// PageHandler serves the interactive HTML page.
type PageHandler struct {
	scanner   *Scanner
	limiter   *ratelimit.Limiter
	maxUpload int64
	logger    *slog.Logger
}

// NewPageHandler creates a new PageHandler.
func NewPageHandler(scanner *Scanner, limiter *ratelimit.Limiter, maxUpload int64, logger *slog.Logger) *PageHandler {
	return &PageHandler{scanner: scanner, limiter: limiter, maxUpload: maxUpload, logger: logger}
}

// Show handles GET /app.
func (ph *PageHandler) Show(w http.ResponseWriter, r *http.Request) {
	ph.render(w, http.StatusOK, pageView{ModelLoaded: ph.scanner.ModelLoaded()})
}

// Check handles POST /app/check with form field "url". An empty URL renders
// the page without a verdict.
func (ph *PageHandler) Check(w http.ResponseWriter, r *http.Request) {
	if ph.throttled(w, r, ratelimit.BucketScan) {
		return
	}

	view := pageView{ModelLoaded: ph.scanner.ModelLoaded()}
	if err := r.ParseForm(); err != nil {
		view.Error = "Could not read the form."
		ph.render(w, http.StatusOK, view)
		return
	}

	view.URL = r.PostFormValue("url")
	if view.URL != "" {
		ph.classify(r, &view, view.URL, db.SourcePage)
	}
	ph.render(w, http.StatusOK, view)
}

// Upload handles POST /app/upload with multipart field "file".
func (ph *PageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if ph.throttled(w, r, ratelimit.BucketUpload) {
		return
	}

	view := pageView{ModelLoaded: ph.scanner.ModelLoaded()}
	decoded, status, msg := readUpload(w, r, ph.maxUpload)
	switch {
	case status == http.StatusUnprocessableEntity:
		view.Warning = NoCodeWarning
	case status != 0:
		view.Error = "Error processing image: " + msg
	default:
		view.Decoded = decoded
		ph.classify(r, &view, decoded, db.SourceUpload)
	}
	ph.render(w, http.StatusOK, view)
}

func (ph *PageHandler) classify(r *http.Request, view *pageView, rawURL, source string) {
	res, _, err := ph.scanner.Scan(r.Context(), rawURL, source, ratelimit.ClientIP(r))
	switch {
	case errors.Is(err, classify.ErrModelNotLoaded):
		view.Error = "Model not loaded. This link is not on the trusted list and cannot be checked."
	case err != nil:
		view.Error = "Prediction failed. Please try again."
	default:
		view.Result = res
		view.Internal = netguard.InternalHost(rawURL)
	}
}

// throttled renders the page with a rate limit banner when the client has
// exhausted bucket.
func (ph *PageHandler) throttled(w http.ResponseWriter, r *http.Request, bucket string) bool {
	ok, wait := ph.limiter.Allow(bucket, ratelimit.ClientIP(r))
	if ok {
		return false
	}
	secs := ratelimit.RetryAfter(wait)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	ph.render(w, http.StatusTooManyRequests, pageView{
		ModelLoaded: ph.scanner.ModelLoaded(),
		Error:       fmt.Sprintf("Too many requests. Please wait %d seconds and try again.", secs),
	})
	return true
}

func (ph *PageHandler) render(w http.ResponseWriter, status int, view pageView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := appTemplate.Execute(w, view); err != nil {
		ph.logger.Error("render page failed", "err", err)
	}
}
