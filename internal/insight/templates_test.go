package insight

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/chainpulse/chainpulse/internal/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTemplateKnownTypes(t *testing.T) {
	for _, typ := range []signal.Type{
		signal.TypeMempool,
		signal.TypeExchange,
		signal.TypeMiner,
		signal.TypeWhale,
		signal.TypePredictive,
	} {
		tmpl, err := ResolveTemplate(typ)
		require.NoError(t, err, "template missing for %s", typ)
		assert.NotEmpty(t, tmpl.RequiredFields)
		assert.NotEmpty(t, tmpl.Body)
	}
}

func TestResolveTemplateUnknownType(t *testing.T) {
	_, err := ResolveTemplate(signal.Type("sentiment"))
	assert.Error(t, err)
}

func TestValidateFields(t *testing.T) {
	tmpl := PromptTemplate{RequiredFields: []string{"entity_id", "inflow"}}

	err := tmpl.ValidateFields(signal.TypeExchange, map[string]string{
		"entity_id": "exchange-alpha",
		"inflow":    "1500",
	})
	assert.NoError(t, err)

	err = tmpl.ValidateFields(signal.TypeExchange, map[string]string{
		"entity_id": "exchange-alpha",
		"inflow":    "",
	})
	var missing *MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "inflow", missing.Field)
	assert.Equal(t, signal.TypeExchange, missing.SignalType)
}

func TestFormatSubstitutesFields(t *testing.T) {
	tmpl := PromptTemplate{Body: "Inflow {inflow} BTC at {entity_id}."}

	prompt := tmpl.Format(map[string]string{
		"inflow":    "1500",
		"entity_id": "exchange-alpha",
	})

	assert.Contains(t, prompt, "Inflow 1500 BTC at exchange-alpha.")
	assert.True(t, strings.HasPrefix(prompt, promptInstructions))
}

func TestFormatFillsUnknownPlaceholders(t *testing.T) {
	tmpl := PromptTemplate{Body: "Pattern: {anomaly_type}."}

	prompt := tmpl.Format(map[string]string{})
	assert.Contains(t, prompt, "Pattern: n/a.")
	assert.NotContains(t, prompt, "{anomaly_type}")
}

func TestParseGeneratedText(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantErr     bool
		description string
	}{
		{
			name:        "plain json",
			content:     `{"headline": "Fees rising", "summary": "Mempool congestion.", "confidence_explanation": "Strong signal."}`,
			description: "Well-formed response parses directly",
		},
		{
			name:        "fenced json",
			content:     "```json\n{\"headline\": \"Fees rising\", \"summary\": \"Mempool congestion.\"}\n```",
			description: "Markdown fences are stripped before parsing",
		},
		{
			name:        "missing headline",
			content:     `{"summary": "Mempool congestion."}`,
			wantErr:     true,
			description: "A response without a headline is malformed",
		},
		{
			name:        "not json",
			content:     "Fees are rising sharply today.",
			wantErr:     true,
			description: "Prose instead of JSON is malformed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := parseGeneratedText(tt.content)
			if tt.wantErr {
				assert.Error(t, err, tt.description)
				return
			}
			require.NoError(t, err, tt.description)
			assert.Equal(t, "Fees rising", text.Headline)
		})
	}
}

func TestParseGeneratedTextCapsHeadline(t *testing.T) {
	long := strings.Repeat("a", 150)
	text, err := parseGeneratedText(`{"headline": "` + long + `", "summary": "s"}`)
	require.NoError(t, err)
	assert.Len(t, text.Headline, MaxHeadlineLen)
}

func TestParseGeneratedTextCapsHeadlineOnRuneBoundary(t *testing.T) {
	// 40 three-byte runes: 120 bytes, and byte 100 falls mid-rune
	long := strings.Repeat("日", 40)
	text, err := parseGeneratedText(`{"headline": "` + long + `", "summary": "s"}`)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(text.Headline), "truncation must not split a rune")
	assert.LessOrEqual(t, len(text.Headline), MaxHeadlineLen)
	assert.Equal(t, strings.Repeat("日", 33), text.Headline)
}

func TestStaticProviderDeterministic(t *testing.T) {
	provider := NewStaticProvider()
	tmpl, err := ResolveTemplate(signal.TypeExchange)
	require.NoError(t, err)

	meta := signal.ExchangeMetadata{EntityID: "exchange-alpha", Inflow: 1500, Outflow: 200, NetFlow: 1300, ZScore: 3.1}
	prompt := tmpl.Format(meta.PromptFields())

	first, err := provider.Generate(context.Background(), prompt)
	require.NoError(t, err)
	second, err := provider.Generate(context.Background(), prompt)
	require.NoError(t, err)

	assert.Equal(t, first, second, "identical prompts must yield identical text")
	assert.NotEmpty(t, first.Headline)
	assert.LessOrEqual(t, len(first.Headline), MaxHeadlineLen)
}
