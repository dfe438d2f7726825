package db

import (
	"time"

	"github.com/google/uuid"

	"github.com/qrshield/qrshield-go/internal/classify"
)

// Entry points a scan can originate from.
const (
	SourceAPI     = "api"
	SourcePage    = "page"
	SourceUpload  = "upload"
	SourceExplain = "explain"
)

// Scan is one recorded classification.
type Scan struct {
	ID             uuid.UUID `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	URL            string    `json:"url"`
	Status         string    `json:"status"`
	Confidence     float32   `json:"confidence"`
	Probability    float32   `json:"probability"`
	Color          string    `json:"color"`
	Classifier     string    `json:"classifier"`
	Source         string    `json:"source"`
	SourceIP       string    `json:"source_ip,omitempty"`
	ResponseTimeMs float32   `json:"response_time_ms"`
}

// NewScan builds a scan record from a classification result.
func NewScan(r *classify.Result, source, sourceIP string) *Scan {
	return &Scan{
		ID:             uuid.New(),
		CreatedAt:      time.Now().UTC(),
		URL:            r.URL,
		Status:         string(r.Status),
		Confidence:     float32(r.Confidence),
		Probability:    float32(r.Probability),
		Color:          r.Color,
		Classifier:     r.Classifier,
		Source:         source,
		SourceIP:       sourceIP,
		ResponseTimeMs: float32(r.ResponseTimeMs),
	}
}

// Stats aggregates the scan history.
type Stats struct {
	TotalScans       int64   `json:"total_scans"`
	MaliciousScans   int64   `json:"malicious_scans"`
	SafeScans        int64   `json:"safe_scans"`
	WhitelistedScans int64   `json:"whitelisted_scans"`
	AvgResponseMs    float64 `json:"avg_response_ms"`
}
