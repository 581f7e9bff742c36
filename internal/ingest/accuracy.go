package ingest

import (
	"context"

	"github.com/chainpulse/chainpulse/internal/insight"
	"github.com/chainpulse/chainpulse/internal/storage"
	"github.com/sirupsen/logrus"
)

// foldWindow caps how many insights and resolved predictions one fold
// pass considers
const foldWindow = 50

// FeedbackStore is the slice of persistence the accuracy fold needs
type FeedbackStore interface {
	GetRecentInsights(ctx context.Context, limit int) ([]*insight.Insight, error)
	GetAverageAccuracy(ctx context.Context, kind string, limit int) (float64, bool, error)
	HasAccuracyFeedback(ctx context.Context, insightID int64) (bool, error)
	InsertAccuracyFeedback(ctx context.Context, fb *storage.AccuracyFeedback) error
}

// FoldAccuracy attaches realized prediction accuracy to recent predictive
// insights that have none yet, keyed by each insight's prediction kind.
// Insights already carrying feedback are skipped so repeated folds stay
// idempotent.
func FoldAccuracy(ctx context.Context, store FeedbackStore, log *logrus.Logger) {
	insights, err := store.GetRecentInsights(ctx, foldWindow)
	if err != nil {
		log.WithError(err).Error("Failed to fetch recent insights for accuracy fold")
		return
	}

	for _, ins := range insights {
		if !ins.IsPredictive || ins.PredictionKind == "" {
			continue
		}

		covered, err := store.HasAccuracyFeedback(ctx, ins.ID)
		if err != nil {
			log.WithError(err).WithField("insight_id", ins.ID).Warn("Feedback lookup failed")
			continue
		}
		if covered {
			continue
		}

		avg, found, err := store.GetAverageAccuracy(ctx, ins.PredictionKind, foldWindow)
		if err != nil || !found {
			continue
		}

		fb := &storage.AccuracyFeedback{
			InsightID: ins.ID,
			Score:     avg,
			Note:      "realized " + ins.PredictionKind + " accuracy, rolling window",
		}
		if err := store.InsertAccuracyFeedback(ctx, fb); err != nil {
			log.WithError(err).WithField("insight_id", ins.ID).Warn("Failed to record accuracy feedback")
		}
	}

	log.Info("Accuracy fold complete")
}
