package confidence

import (
	"fmt"

	"github.com/chainpulse/chainpulse/internal/signal"
)

// Explainability summarizes why an insight carries the confidence it does.
// Persisted embedded in the insight.
type Explainability struct {
	ConfidenceFactors  map[string]float64 `json:"confidence_factors"`
	Explanation        string             `json:"explanation"`
	SupportingEvidence []string           `json:"supporting_evidence"`
}

// GenerateExplainability builds a deterministic natural-language summary
// for a scored signal. Medium and high confidence summaries carry at least
// three supporting-evidence strings.
func GenerateExplainability(score Score, sig *signal.Signal) Explainability {
	register := "lower confidence"
	switch score.Level {
	case LevelHigh:
		register = "high confidence"
	case LevelMedium:
		register = "moderate confidence"
	}

	explanation := fmt.Sprintf(
		"This is a %s observation (score %.2f) based on signal strength %.2f, historical accuracy %.2f and data quality %.2f.",
		register, score.Score,
		score.Factors.SignalStrength, score.Factors.HistoricalAccuracy, score.Factors.DataQuality,
	)
	if score.SuppressReason != "" {
		explanation += fmt.Sprintf(" Publication suppressed: %s.", score.SuppressReason)
	}

	return Explainability{
		ConfidenceFactors: map[string]float64{
			"signal_strength":     score.Factors.SignalStrength,
			"historical_accuracy": score.Factors.HistoricalAccuracy,
			"data_quality":        score.Factors.DataQuality,
			"score":               score.Score,
		},
		Explanation:        explanation,
		SupportingEvidence: supportingEvidence(sig),
	}
}

// supportingEvidence synthesizes evidence strings from type-specific
// metadata, padded with generic observations so the list never drops below
// three entries
func supportingEvidence(sig *signal.Signal) []string {
	var evidence []string

	switch md := sig.Metadata.(type) {
	case signal.MempoolMetadata:
		evidence = append(evidence,
			fmt.Sprintf("average fee rate changed %.1f%% over 24h", md.Change24h),
			fmt.Sprintf("median fee rate at %.1f sat/vB (p90 %.1f)", md.FeeQuantiles.P50, md.FeeQuantiles.P90),
		)
		if md.StdDevMultiple > 0 {
			evidence = append(evidence,
				fmt.Sprintf("current fee level sits %.1f standard deviations from the rolling mean", md.StdDevMultiple))
		}
	case signal.ExchangeMetadata:
		evidence = append(evidence,
			fmt.Sprintf("entity %s moved %.0f in and %.0f out this period", md.EntityID, md.Inflow, md.Outflow),
			fmt.Sprintf("flow sits %.1f standard deviations from the rolling mean", md.ZScore),
		)
		if md.VolumeSpike {
			evidence = append(evidence, "total flow exceeds the historical volume-spike threshold")
		}
		if md.LargeSingleTx {
			evidence = append(evidence, "a single transaction dominates the period's flow")
		}
	case signal.MinerMetadata:
		evidence = append(evidence,
			fmt.Sprintf("custody balance changed %.0f (%.1f%% over 24h)", md.BalanceDelta, md.Change24h),
			fmt.Sprintf("balance delta sits %.1f standard deviations from the rolling mean", md.ZScore),
		)
	case signal.WhaleMetadata:
		evidence = append(evidence,
			fmt.Sprintf("address activity streak of %d consecutive days", md.StreakDays),
			fmt.Sprintf("daily change of %.0f sits %.1f standard deviations from the rolling mean", md.DailyChange, md.ZScore),
		)
	case signal.PredictiveMetadata:
		evidence = append(evidence,
			fmt.Sprintf("model predicts %.2f against a current value of %.2f", md.Prediction, md.CurrentValue))
		if md.Kind == signal.PredictiveFeeForecast {
			evidence = append(evidence,
				fmt.Sprintf("forecast interval spans %.2f to %.2f", md.Lower, md.Upper))
		}
		if md.PressureLevel != "" {
			evidence = append(evidence,
				fmt.Sprintf("liquidity pressure index %.2f (%s)", md.PressureIndex, md.PressureLevel))
		}
	}

	evidence = append(evidence, fmt.Sprintf("observed at block height %d", sig.BlockHeight))
	if len(evidence) < 3 {
		evidence = append(evidence, fmt.Sprintf("signal strength measured at %.2f", sig.Strength))
	}

	return evidence
}
