package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/qrshield/qrshield-go/internal/classify"
	"github.com/qrshield/qrshield-go/internal/db"
	"github.com/qrshield/qrshield-go/internal/qrcode"
	"github.com/qrshield/qrshield-go/internal/ratelimit"
)

// BannerMessage is returned by GET /.
const BannerMessage = "QR Shield backend is running. Use /scan endpoint."

// maxJSONBody caps the JSON request bodies of /scan and /v1/explain.
const maxJSONBody = 64 << 10

// APIHandler serves the JSON endpoints used by the mobile client.
type APIHandler struct {
	scanner   *Scanner
	limiter   *ratelimit.Limiter
	explainer *classify.Explainer
	maxUpload int64
	logger    *slog.Logger
}

// NewAPIHandler creates a new APIHandler. explainer may be nil.
func NewAPIHandler(scanner *Scanner, limiter *ratelimit.Limiter, explainer *classify.Explainer, maxUpload int64, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		scanner:   scanner,
		limiter:   limiter,
		explainer: explainer,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

type scanRequest struct {
	URL *string `json:"url"`
}

type scanError struct {
	URL    string `json:"url"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

type imageScanResponse struct {
	*classify.Result
	Decoded string `json:"decoded"`
}

type explainResponse struct {
	*classify.Result
	Explanation string `json:"explanation"`
}

// Banner handles GET /.
func (h *APIHandler) Banner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": BannerMessage})
}

// Scan handles POST /scan.
func (h *APIHandler) Scan(w http.ResponseWriter, r *http.Request) {
	if h.limiter.Check(w, r, ratelimit.BucketScan) {
		return
	}

	rawURL, status, msg := decodeURL(w, r)
	if status != 0 {
		jsonError(w, msg, status)
		return
	}

	res, scan, err := h.scanner.Scan(r.Context(), rawURL, db.SourceAPI, ratelimit.ClientIP(r))
	if err != nil {
		writeScanError(w, rawURL, err)
		return
	}

	w.Header().Set("X-Scan-ID", scan.ID.String())
	writeJSON(w, http.StatusOK, res)
}

// ScanImage handles POST /v1/scan-image: decode the uploaded QR code, then
// classify its content.
func (h *APIHandler) ScanImage(w http.ResponseWriter, r *http.Request) {
	if h.limiter.Check(w, r, ratelimit.BucketUpload) {
		return
	}

	decoded, status, msg := readUpload(w, r, h.maxUpload)
	if status != 0 {
		jsonError(w, msg, status)
		return
	}

	res, scan, err := h.scanner.Scan(r.Context(), decoded, db.SourceUpload, ratelimit.ClientIP(r))
	if err != nil {
		writeScanError(w, decoded, err)
		return
	}

	w.Header().Set("X-Scan-ID", scan.ID.String())
	writeJSON(w, http.StatusOK, imageScanResponse{Result: res, Decoded: decoded})
}

// Explain handles POST /v1/explain.
func (h *APIHandler) Explain(w http.ResponseWriter, r *http.Request) {
	if h.limiter.Check(w, r, ratelimit.BucketExplain) {
		return
	}
	if h.explainer == nil {
		jsonError(w, "Explanations are not configured", http.StatusServiceUnavailable)
		return
	}

	rawURL, status, msg := decodeURL(w, r)
	if status != 0 {
		jsonError(w, msg, status)
		return
	}

	res, scan, err := h.scanner.Scan(r.Context(), rawURL, db.SourceExplain, ratelimit.ClientIP(r))
	if err != nil {
		writeScanError(w, rawURL, err)
		return
	}

	text, err := h.explainer.Explain(r.Context(), res)
	if err != nil {
		h.logger.Error("explain failed", "url", rawURL, "err", err)
		jsonError(w, "Explanation failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("X-Scan-ID", scan.ID.String())
	writeJSON(w, http.StatusOK, explainResponse{Result: res, Explanation: text})
}

// decodeURL reads the {"url": ...} body of /scan and /v1/explain. A non-zero
// status means the request failed with msg.
func decodeURL(w http.ResponseWriter, r *http.Request) (string, int, string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", http.StatusRequestEntityTooLarge, "Request body too large"
		}
		return "", http.StatusBadRequest, "url field is required"
	}
	if req.URL == nil {
		return "", http.StatusBadRequest, "url field is required"
	}
	return *req.URL, 0, ""
}

func writeScanError(w http.ResponseWriter, rawURL string, err error) {
	if errors.Is(err, classify.ErrModelNotLoaded) {
		writeJSON(w, http.StatusServiceUnavailable, scanError{URL: rawURL, Status: "ERROR", Error: "Model not loaded"})
		return
	}
	writeJSON(w, http.StatusBadGateway, scanError{URL: rawURL, Status: "ERROR", Error: "Prediction failed"})
}

// readUpload extracts the multipart "file" field and decodes its QR code.
// A non-zero status means the request failed with msg.
func readUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (string, int, string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", http.StatusRequestEntityTooLarge, "Upload too large"
		}
		return "", http.StatusBadRequest, "file field is required"
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return "", http.StatusBadRequest, "file field is required"
	}
	defer file.Close()

	text, err := qrcode.Decode(file)
	switch {
	case errors.Is(err, qrcode.ErrNoCode):
		return "", http.StatusUnprocessableEntity, "No QR code detected"
	case errors.Is(err, qrcode.ErrUnsupportedImage):
		return "", http.StatusUnsupportedMediaType, "Unsupported image format"
	case err != nil:
		return "", http.StatusBadRequest, "Could not read image"
	}
	return text, 0, ""
}
