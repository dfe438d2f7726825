package classify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewExplainer_DisabledWithoutKey(t *testing.T) {
	e := NewExplainer("", "")
	assert.Nil(t, e)

	_, err := e.Explain(context.Background(), Trusted("https://google.com"))
	assert.ErrorIs(t, err, ErrExplainerDisabled)
}

func TestExplainPrompt_ModelVerdict(t *testing.T) {
	r := Decide("http://secure-login.update.xyz", 0.82)
	r.Classifier = "qr_fraud_model"
	r.Features = ExtractFeatures(r.URL)

	prompt := explainPrompt(r)

	assert.Contains(t, prompt, "Verdict: MALICIOUS (confidence 82.0%)")
	assert.Contains(t, prompt, "Decided by: qr_fraud_model")
	assert.Contains(t, prompt, "- length: 30")
	assert.Contains(t, prompt, "- suspicious_tld: 1")
}

func TestExplainPrompt_Whitelisted(t *testing.T) {
	prompt := explainPrompt(Trusted("https://google.com"))

	assert.Contains(t, prompt, "trusted domain whitelist")
	assert.NotContains(t, prompt, "Features:")
}

func TestExplainPrompt_InternalHost(t *testing.T) {
	r := Decide("http://192.168.0.1/login", 0.3)
	r.Classifier = "forest"

	assert.Contains(t, explainPrompt(r), "private or local network address")
	assert.NotContains(t, explainPrompt(Decide("http://8.8.8.8/", 0.3)), "private or local")
}
