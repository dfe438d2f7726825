package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/qrshield/qrshield-go/internal/netguard"
)

// ErrExplainerDisabled is returned when no API key is configured.
var ErrExplainerDisabled = errors.New("explanations not configured")

const explainSystemPrompt = `You explain the verdict of a URL phishing classifier to a non-technical user who scanned a QR code.
You are given the URL, the verdict, the confidence and the eight numeric features the classifier used.
Do not change or second-guess the verdict. In at most three sentences, point out which characteristics of the URL
(length, dots, hyphens, @ signs, query markers, https, digits, suspicious top-level domains) support it.`

// DefaultExplainModel is used when no explanation model is configured.
const DefaultExplainModel = "claude-sonnet-4-5"

// Explainer produces natural-language explanations of verdicts with Claude.
type Explainer struct {
	client anthropic.Client
	model  string
}

// NewExplainer returns nil when apiKey is empty.
func NewExplainer(apiKey, model string) *Explainer {
	if apiKey == "" {
		return nil
	}
	if model == "" {
		model = DefaultExplainModel
	}
	return &Explainer{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Explain describes why r received its verdict. The verdict itself is never
// altered.
func (e *Explainer) Explain(ctx context.Context, r *Result) (string, error) {
	if e == nil {
		return "", ErrExplainerDisabled
	}

	message, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: 300,
		System: []anthropic.TextBlockParam{
			{Text: explainSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(explainPrompt(r))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude: %w", err)
	}
	if len(message.Content) == 0 {
		return "", errors.New("claude: empty response")
	}
	return strings.TrimSpace(message.Content[0].Text), nil
}

func explainPrompt(r *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", r.URL)
	fmt.Fprintf(&b, "Verdict: %s (confidence %.1f%%)\n", r.Status, r.Confidence)
	if r.Whitelisted() {
		b.WriteString("Decided by: trusted domain whitelist, the model was not consulted\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Decided by: %s\n", r.Classifier)
	if netguard.InternalHost(r.URL) {
		b.WriteString("Note: the host is a private or local network address\n")
	}
	b.WriteString("Features:\n")
	for i, name := range FeatureNames {
		fmt.Fprintf(&b, "- %s: %g\n", name, r.Features[i])
	}
	return b.String()
}
