package insight

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/chainpulse/chainpulse/internal/confidence"
	"github.com/chainpulse/chainpulse/internal/signal"
)

// ErrDuplicateInsight is returned by persistence when an insight already
// references one of the signals being saved. Callers treat it as "already
// generated", not a failure.
var ErrDuplicateInsight = errors.New("insight already exists for signal")

// ErrProviderUnavailable wraps transport and quota failures from the text
// generation provider. The affected group stays unprocessed and is retried
// next cycle.
var ErrProviderUnavailable = errors.New("text generation provider unavailable")

// Citation is one piece of supporting evidence attached to an insight
type Citation struct {
	Kind string `json:"kind"` // block, transaction, entity
	Ref  string `json:"ref"`
}

// Insight is a published, human-readable artifact generated from an
// approved signal group. Immutable once created except for accuracy
// feedback attached externally.
type Insight struct {
	ID             int64
	SignalType     signal.Type
	Headline       string // capped at MaxHeadlineLen
	Summary        string
	Confidence     float64 // [0,1]
	Timestamp      time.Time
	BlockHeight    int64
	Evidence       []Citation
	ChartURL       string
	Tags           []string
	IsPredictive   bool
	PredictionKind string // fee_forecast, liquidity_pressure; empty when not predictive
	Explainability confidence.Explainability
}

// MaxHeadlineLen bounds generated headlines
const MaxHeadlineLen = 100

// truncateHeadline caps a headline at MaxHeadlineLen bytes without
// splitting a multi-byte rune
func truncateHeadline(s string) string {
	if len(s) <= MaxHeadlineLen {
		return s
	}
	cut := MaxHeadlineLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// GeneratedText is the structured response expected from a text
// generation provider
type GeneratedText struct {
	Headline              string `json:"headline"`
	Summary               string `json:"summary"`
	ConfidenceExplanation string `json:"confidence_explanation"`
}

// TextGenerationProvider turns a prompt into structured insight text.
// Implementations must honor context cancellation; a timeout is a
// generation failure for that group, not fatal to the service.
type TextGenerationProvider interface {
	Generate(ctx context.Context, prompt string) (*GeneratedText, error)
	Name() string
}

// MissingFieldError reports a signal whose metadata does not satisfy its
// prompt template's required fields
type MissingFieldError struct {
	SignalType signal.Type
	Field      string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("signal type %s missing required metadata field %q", e.SignalType, e.Field)
}
