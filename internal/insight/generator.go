package insight

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/chainpulse/chainpulse/internal/confidence"
	"github.com/chainpulse/chainpulse/internal/config"
	"github.com/chainpulse/chainpulse/internal/metrics"
	"github.com/chainpulse/chainpulse/internal/poller"
	"github.com/chainpulse/chainpulse/internal/signal"
	"github.com/sirupsen/logrus"
)

// Store is the slice of persistence the generator needs
type Store interface {
	HasInsightForSignal(ctx context.Context, signalID string) (bool, error)
	SaveInsight(ctx context.Context, ins *Insight, signalIDs []string) error
	HasReorgAtHeight(ctx context.Context, blockHeight int64) (bool, error)
	GetAverageAccuracy(ctx context.Context, kind string, limit int) (float64, bool, error)
}

// accuracyWindow caps how many resolved predictions feed the historical
// accuracy factor
const accuracyWindow = 50

// Generator turns approved signal groups into published insights
type Generator struct {
	store    Store
	provider TextGenerationProvider
	scorer   *confidence.Scorer
	cfg      *config.Config
	log      *logrus.Logger
}

func NewGenerator(store Store, provider TextGenerationProvider, scorer *confidence.Scorer, cfg *config.Config, log *logrus.Logger) *Generator {
	return &Generator{
		store:    store,
		provider: provider,
		scorer:   scorer,
		cfg:      cfg,
		log:      log,
	}
}

// Generate produces an insight for one signal group, or nil when the group
// is suppressed or already covered. A nil insight with a nil error is a
// normal outcome; the caller still marks the group processed.
func (g *Generator) Generate(ctx context.Context, group poller.SignalGroup) (*Insight, error) {
	// At-least-once delivery means a group can reappear after a consumer
	// crash. Skip without error if any of its signals is already covered.
	for _, sig := range group.Signals {
		exists, err := g.store.HasInsightForSignal(ctx, sig.ID)
		if err != nil {
			metrics.InsightGenerationErrors.WithLabelValues("dedupe_check").Inc()
			return nil, fmt.Errorf("check existing insight: %w", err)
		}
		if exists {
			g.log.WithField("signal_id", sig.ID).Debug("Insight already exists, skipping group")
			metrics.InsightsSuppressed.WithLabelValues("duplicate").Inc()
			return nil, nil
		}
	}

	rep := strongestSignal(group.Signals)

	tmpl, err := ResolveTemplate(rep.Type)
	if err != nil {
		metrics.InsightGenerationErrors.WithLabelValues("template").Inc()
		return nil, err
	}

	fields := rep.Metadata.PromptFields()
	if err := tmpl.ValidateFields(rep.Type, fields); err != nil {
		metrics.InsightGenerationErrors.WithLabelValues("validation").Inc()
		return nil, err
	}

	score, err := g.scoreSignal(ctx, rep)
	if err != nil {
		return nil, err
	}
	metrics.ConfidenceScores.Observe(score.Score)

	if !score.ShouldPublish {
		metrics.InsightsSuppressed.WithLabelValues(score.SuppressReason).Inc()
		g.log.WithFields(logrus.Fields{
			"signal_id":   rep.ID,
			"signal_type": string(rep.Type),
			"score":       score.Score,
			"reason":      score.SuppressReason,
		}).Info("Insight suppressed")
		return nil, nil
	}

	text, err := g.provider.Generate(ctx, tmpl.Format(fields))
	if err != nil {
		metrics.InsightGenerationErrors.WithLabelValues("provider").Inc()
		return nil, fmt.Errorf("generate text: %w", err)
	}

	ins := &Insight{
		SignalType:     rep.Type,
		Headline:       text.Headline,
		Summary:        text.Summary,
		Confidence:     score.Score,
		Timestamp:      rep.Timestamp,
		BlockHeight:    group.BlockHeight,
		Evidence:       buildEvidence(group, g.cfg.MaxTransactionIDs),
		Tags:           buildTags(rep, score),
		IsPredictive:   rep.IsPredictive,
		PredictionKind: predictionKind(rep),
		Explainability: confidence.GenerateExplainability(score, rep),
	}

	signalIDs := make([]string, 0, len(group.Signals))
	for _, sig := range group.Signals {
		signalIDs = append(signalIDs, sig.ID)
	}

	if err := g.store.SaveInsight(ctx, ins, signalIDs); err != nil {
		if errors.Is(err, ErrDuplicateInsight) {
			// Lost the race to a concurrent generator; their insight stands
			metrics.InsightsSuppressed.WithLabelValues("duplicate").Inc()
			return nil, nil
		}
		metrics.InsightGenerationErrors.WithLabelValues("persistence").Inc()
		return nil, fmt.Errorf("save insight: %w", err)
	}

	metrics.InsightsGenerated.WithLabelValues(string(rep.Type), string(score.Level)).Inc()
	g.log.WithFields(logrus.Fields{
		"insight_id":  ins.ID,
		"signal_type": string(rep.Type),
		"confidence":  score.Score,
		"level":       string(score.Level),
	}).Info("Insight published")

	return ins, nil
}

// GroupResult records the outcome of one group in a batch
type GroupResult struct {
	Group   poller.SignalGroup
	Insight *Insight // nil when suppressed or duplicate
	Err     error
}

// GenerateBatch processes groups independently in storage order. One
// group's failure is recorded and the batch continues.
func (g *Generator) GenerateBatch(ctx context.Context, groups []poller.SignalGroup) []GroupResult {
	results := make([]GroupResult, 0, len(groups))
	for _, group := range groups {
		ins, err := g.Generate(ctx, group)
		if err != nil {
			g.log.WithError(err).WithFields(logrus.Fields{
				"signal_type":  string(group.Type),
				"block_height": group.BlockHeight,
			}).Error("Failed to generate insight for group")
		}
		results = append(results, GroupResult{Group: group, Insight: ins, Err: err})

		if ctx.Err() != nil {
			break
		}
	}
	return results
}

// scoreSignal assembles the confidence factors and applies the quiet-mode
// gate
func (g *Generator) scoreSignal(ctx context.Context, sig *signal.Signal) (confidence.Score, error) {
	accuracy := g.historicalAccuracy(ctx, sig)
	factors := confidence.Factors{
		SignalStrength:     sig.Strength,
		HistoricalAccuracy: accuracy,
		DataQuality:        g.scorer.DataQuality(sig),
	}
	score := g.scorer.Calculate(factors, sig.IsAnomaly)

	reorged, err := g.store.HasReorgAtHeight(ctx, sig.BlockHeight)
	if err != nil {
		metrics.InsightGenerationErrors.WithLabelValues("reorg_check").Inc()
		return score, fmt.Errorf("check reorg mark: %w", err)
	}
	if quiet, reason := g.scorer.DetectQuietMode(sig, reorged); quiet {
		score = confidence.Suppress(score, reason)
	}
	return score, nil
}

// predictionKind extracts the prediction kind from predictive metadata;
// empty for non-predictive signals
func predictionKind(sig *signal.Signal) string {
	if meta, ok := sig.Metadata.(signal.PredictiveMetadata); ok {
		return meta.Kind
	}
	return ""
}

// historicalAccuracy looks up realized accuracy for the signal's prediction
// kind, falling back to the configured default when nothing has resolved
// yet or the lookup fails
func (g *Generator) historicalAccuracy(ctx context.Context, sig *signal.Signal) float64 {
	kind := string(sig.Type)
	if meta, ok := sig.Metadata.(signal.PredictiveMetadata); ok && meta.Kind != "" {
		kind = meta.Kind
	}

	avg, found, err := g.store.GetAverageAccuracy(ctx, kind, accuracyWindow)
	if err != nil {
		g.log.WithError(err).WithField("kind", kind).Warn("Accuracy lookup failed, using default")
		return g.cfg.DefaultAccuracy
	}
	if !found {
		return g.cfg.DefaultAccuracy
	}
	return avg
}

// strongestSignal picks the group's representative signal. Ties keep
// storage order so generation stays deterministic.
func strongestSignal(signals []*signal.Signal) *signal.Signal {
	rep := signals[0]
	for _, sig := range signals[1:] {
		if sig.Strength > rep.Strength {
			rep = sig
		}
	}
	return rep
}

// buildEvidence collects block and transaction citations for a group. The
// transaction list is bounded across the whole group.
func buildEvidence(group poller.SignalGroup, maxTxIDs int) []Citation {
	evidence := []Citation{
		{Kind: "block", Ref: fmt.Sprintf("%d", group.BlockHeight)},
	}

	seen := map[string]bool{}
	for _, sig := range group.Signals {
		for _, entityID := range sig.EntityIDs {
			if !seen["e:"+entityID] {
				seen["e:"+entityID] = true
				evidence = append(evidence, Citation{Kind: "entity", Ref: entityID})
			}
		}
	}

	var txCount int
	for _, sig := range group.Signals {
		for _, txID := range sig.TransactionIDs {
			if txCount >= maxTxIDs {
				return evidence
			}
			if !seen["t:"+txID] {
				seen["t:"+txID] = true
				evidence = append(evidence, Citation{Kind: "transaction", Ref: txID})
				txCount++
			}
		}
	}
	return evidence
}

// buildTags derives the insight's tag set: signal type, confidence band
// and volatility band
func buildTags(sig *signal.Signal, score confidence.Score) []string {
	return []string{
		string(sig.Type),
		"confidence_" + strings.ToLower(string(score.Level)),
		volatilityBand(sig),
	}
}

// volatilityBand buckets the signal's 24h change magnitude
func volatilityBand(sig *signal.Signal) string {
	change := change24h(sig)
	switch {
	case math.Abs(change) >= 100:
		return "volatility_high"
	case math.Abs(change) >= 25:
		return "volatility_medium"
	default:
		return "volatility_low"
	}
}

func change24h(sig *signal.Signal) float64 {
	switch meta := sig.Metadata.(type) {
	case signal.MempoolMetadata:
		return meta.Change24h
	case signal.ExchangeMetadata:
		return meta.Change24h
	case signal.MinerMetadata:
		return meta.Change24h
	default:
		return 0
	}
}
