package ingest

import (
	"context"
	"testing"

	"github.com/chainpulse/chainpulse/internal/insight"
	"github.com/chainpulse/chainpulse/internal/signal"
	"github.com/chainpulse/chainpulse/internal/storage"
)

type fakeFeedbackStore struct {
	insights []*insight.Insight
	accuracy map[string]float64
	feedback []*storage.AccuracyFeedback
}

func (s *fakeFeedbackStore) GetRecentInsights(_ context.Context, _ int) ([]*insight.Insight, error) {
	return s.insights, nil
}

func (s *fakeFeedbackStore) GetAverageAccuracy(_ context.Context, kind string, _ int) (float64, bool, error) {
	avg, ok := s.accuracy[kind]
	return avg, ok, nil
}

func (s *fakeFeedbackStore) HasAccuracyFeedback(_ context.Context, insightID int64) (bool, error) {
	for _, fb := range s.feedback {
		if fb.InsightID == insightID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeFeedbackStore) InsertAccuracyFeedback(_ context.Context, fb *storage.AccuracyFeedback) error {
	s.feedback = append(s.feedback, fb)
	return nil
}

func TestFoldAccuracyKeysByPredictionKind(t *testing.T) {
	store := &fakeFeedbackStore{
		insights: []*insight.Insight{
			{ID: 1, SignalType: signal.TypePredictive, IsPredictive: true, PredictionKind: signal.PredictiveFeeForecast},
			{ID: 2, SignalType: signal.TypePredictive, IsPredictive: true, PredictionKind: signal.PredictiveLiquidityPressure},
			{ID: 3, SignalType: signal.TypeExchange},
		},
		accuracy: map[string]float64{
			signal.PredictiveFeeForecast:       0.9,
			signal.PredictiveLiquidityPressure: 0.6,
		},
	}

	FoldAccuracy(context.Background(), store, quietLogger())

	if len(store.feedback) != 2 {
		t.Fatalf("got %d feedback rows, want 2 (non-predictive insights are skipped)", len(store.feedback))
	}
	scores := map[int64]float64{}
	for _, fb := range store.feedback {
		scores[fb.InsightID] = fb.Score
	}
	if scores[1] != 0.9 {
		t.Errorf("fee forecast insight scored %.2f, want its own kind's average 0.9", scores[1])
	}
	if scores[2] != 0.6 {
		t.Errorf("liquidity pressure insight scored %.2f, want its own kind's average 0.6", scores[2])
	}
}

func TestFoldAccuracyIdempotent(t *testing.T) {
	store := &fakeFeedbackStore{
		insights: []*insight.Insight{
			{ID: 1, IsPredictive: true, PredictionKind: signal.PredictiveFeeForecast},
		},
		accuracy: map[string]float64{signal.PredictiveFeeForecast: 0.8},
	}

	FoldAccuracy(context.Background(), store, quietLogger())
	FoldAccuracy(context.Background(), store, quietLogger())

	if len(store.feedback) != 1 {
		t.Errorf("repeated folds must not duplicate feedback, got %d rows", len(store.feedback))
	}
}

func TestFoldAccuracySkipsUnresolvedKinds(t *testing.T) {
	store := &fakeFeedbackStore{
		insights: []*insight.Insight{
			{ID: 1, IsPredictive: true, PredictionKind: signal.PredictiveLiquidityPressure},
		},
		accuracy: map[string]float64{},
	}

	FoldAccuracy(context.Background(), store, quietLogger())

	if len(store.feedback) != 0 {
		t.Errorf("kinds with no resolved predictions yield no feedback, got %d rows", len(store.feedback))
	}
}
