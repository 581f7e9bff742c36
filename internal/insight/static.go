package insight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chainpulse/chainpulse/internal/metrics"
)

// StaticProvider produces deterministic text without calling any external
// API. Used in tests and in deployments where generated prose is not
// wanted.
type StaticProvider struct{}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{}
}

func (p *StaticProvider) Name() string {
	return "static"
}

// Generate derives a headline from the first observation line of the
// prompt. Deterministic given identical prompts.
func (p *StaticProvider) Generate(_ context.Context, prompt string) (*GeneratedText, error) {
	start := time.Now()

	headline := firstObservationLine(prompt)
	if headline == "" {
		headline = "On-chain activity observed"
	}
	headline = truncateHeadline(headline)

	text := &GeneratedText{
		Headline:              strings.TrimSuffix(headline, "."),
		Summary:               fmt.Sprintf("%s Details are attached as structured evidence.", headline),
		ConfidenceExplanation: "Confidence derives from signal strength, historical accuracy and data quality.",
	}
	metrics.RecordProviderRequest(p.Name(), time.Since(start), nil)
	return text, nil
}

func firstObservationLine(prompt string) string {
	_, body, found := strings.Cut(prompt, "Observation:\n")
	if !found {
		body = prompt
	}
	for _, line := range strings.Split(body, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
