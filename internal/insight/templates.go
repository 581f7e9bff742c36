package insight

import (
	"fmt"
	"strings"

	"github.com/chainpulse/chainpulse/internal/signal"
)

// PromptTemplate declares how a signal type is presented to the text
// generation provider. RequiredFields must all be present in the signal
// metadata's prompt fields before formatting.
type PromptTemplate struct {
	RequiredFields []string
	Body           string
}

// The registry is fixed at build time; an unknown signal type is a hard
// generation error, not a fallback.
var templates = map[signal.Type]PromptTemplate{
	signal.TypeMempool: {
		RequiredFields: []string{"avg_fee_rate", "change_24h", "fee_p50", "fee_p90"},
		Body: `Bitcoin mempool fee conditions have shifted.
Average fee rate: {avg_fee_rate} sat/vB ({change_24h}% over 24h).
Current quantiles: median {fee_p50} sat/vB, 90th percentile {fee_p90} sat/vB.
Pending transactions: {tx_count}. Spike flag: {is_spike}.
Estimated inclusion at the average fee: {inclusion_blocks} blocks ({inclusion_tier} priority).`,
	},
	signal.TypeExchange: {
		RequiredFields: []string{"entity_id", "inflow", "outflow", "net_flow", "z_score"},
		Body: `Unusual exchange flow detected for {entity_id}.
Inflow: {inflow} BTC, outflow: {outflow} BTC, net: {net_flow} BTC.
Deviation from recent history: {z_score} standard scores.
Anomaly type: {anomaly_type}.`,
	},
	signal.TypeMiner: {
		RequiredFields: []string{"entity_id", "balance", "balance_delta", "z_score"},
		Body: `Miner treasury movement for {entity_id}.
Current balance: {balance} BTC, daily change: {balance_delta} BTC.
Deviation from recent history: {z_score} standard scores.`,
	},
	signal.TypeWhale: {
		RequiredFields: []string{"address", "balance", "daily_change", "streak_days"},
		Body: `Whale wallet activity at {address}.
Balance: {balance} BTC, daily change: {daily_change} BTC.
Consecutive same-direction days: {streak_days}.
Pattern: {anomaly_type}.`,
	},
	signal.TypePredictive: {
		RequiredFields: []string{"kind", "prediction", "current_value"},
		Body: `Predictive market signal ({kind}).
Current value: {current_value}, predicted: {prediction}.
Interval: {lower} to {upper}. Method: {method}.`,
	},
}

// promptInstructions is prepended to every formatted template so the
// provider returns the structured shape the generator parses.
const promptInstructions = `You are a blockchain market analyst. Given the observation below, respond with a JSON object containing exactly these keys: "headline" (under 100 characters, factual, no hype), "summary" (2-3 sentences of neutral analysis), "confidence_explanation" (one sentence on why this observation is or is not reliable).

Observation:
`

// ResolveTemplate returns the prompt template for a signal type
func ResolveTemplate(t signal.Type) (PromptTemplate, error) {
	tmpl, ok := templates[t]
	if !ok {
		return PromptTemplate{}, fmt.Errorf("no prompt template registered for signal type %s", t)
	}
	return tmpl, nil
}

// ValidateFields checks that every required field of the template is
// present and non-empty in the prompt fields
func (t PromptTemplate) ValidateFields(sigType signal.Type, fields map[string]string) error {
	for _, field := range t.RequiredFields {
		if v, ok := fields[field]; !ok || v == "" {
			return &MissingFieldError{SignalType: sigType, Field: field}
		}
	}
	return nil
}

// Format substitutes prompt fields into the template body. Optional
// placeholders with no value render as "n/a" rather than leaking the
// placeholder into the prompt.
func (t PromptTemplate) Format(fields map[string]string) string {
	body := t.Body
	for key, value := range fields {
		body = strings.ReplaceAll(body, "{"+key+"}", value)
	}
	for {
		open := strings.Index(body, "{")
		if open < 0 {
			break
		}
		end := strings.Index(body[open:], "}")
		if end < 0 {
			break
		}
		body = body[:open] + "n/a" + body[open+end+1:]
	}
	return promptInstructions + body
}
