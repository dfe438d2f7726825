package classify

import "math"

// Status is the verdict reported to callers.
type Status string

const (
	StatusSafe      Status = "SAFE"
	StatusMalicious Status = "MALICIOUS"
)

// Display colors paired with each verdict.
const (
	ColorGreen = "green"
	ColorRed   = "red"
)

// Threshold is the malicious-class probability a URL must exceed to be
// reported as MALICIOUS. Exactly 0.5 is SAFE.
const Threshold = 0.5

// ClassifierWhitelist names results produced by the whitelist short-circuit.
const ClassifierWhitelist = "whitelist"

// Result is the classification output shared by every entry point. Only the
// four contract fields are serialized; the rest is for logging, history and
// the interactive page.
type Result struct {
	URL        string  `json:"url"`
	Status     Status  `json:"status"`
	Confidence float64 `json:"confidence"`
	Color      string  `json:"color"`

	Probability    float64  `json:"-"`
	Classifier     string   `json:"-"`
	Features       Features `json:"-"`
	Cached         bool     `json:"-"`
	ResponseTimeMs float64  `json:"-"`
}

// Dangerous reports whether the verdict is MALICIOUS.
func (r *Result) Dangerous() bool {
	return r.Status == StatusMalicious
}

// Whitelisted reports whether the result came from the whitelist short-circuit.
func (r *Result) Whitelisted() bool {
	return r.Classifier == ClassifierWhitelist
}

// RiskScore is the raw malicious probability as a percentage, rounded to one
// decimal place. Whitelisted URLs score 0.
func (r *Result) RiskScore() float64 {
	return roundTenth(r.Probability * 100)
}

// Decide turns a malicious-class probability into a verdict. Confidence is
// always reported for the winning class.
func Decide(rawURL string, p float64) *Result {
	if p > Threshold {
		return &Result{
			URL:         rawURL,
			Status:      StatusMalicious,
			Confidence:  roundTenth(p * 100),
			Color:       ColorRed,
			Probability: p,
		}
	}
	return &Result{
		URL:         rawURL,
		Status:      StatusSafe,
		Confidence:  roundTenth((1 - p) * 100),
		Color:       ColorGreen,
		Probability: p,
	}
}

// Trusted returns the fixed verdict for whitelisted URLs.
func Trusted(rawURL string) *Result {
	return &Result{
		URL:         rawURL,
		Status:      StatusSafe,
		Confidence:  100.0,
		Color:       ColorGreen,
		Probability: 0.0,
		Classifier:  ClassifierWhitelist,
	}
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
