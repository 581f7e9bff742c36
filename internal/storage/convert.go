package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chainpulse/chainpulse/internal/confidence"
	"github.com/chainpulse/chainpulse/internal/insight"
	"github.com/chainpulse/chainpulse/internal/signal"
)

func signalToRecord(sig *signal.Signal) (*SignalRecord, error) {
	metadata, err := signal.EncodeMetadata(sig.Metadata)
	if err != nil {
		return nil, err
	}

	entityIDs, err := json.Marshal(sig.EntityIDs)
	if err != nil {
		return nil, fmt.Errorf("encode entity ids: %w", err)
	}

	txIDs, err := json.Marshal(sig.TransactionIDs)
	if err != nil {
		return nil, fmt.Errorf("encode transaction ids: %w", err)
	}

	rec := &SignalRecord{
		SignalID:       sig.ID,
		SignalType:     string(sig.Type),
		BlockHeight:    sig.BlockHeight,
		TimestampSec:   sig.Timestamp.Unix(),
		Strength:       sig.Strength,
		IsAnomaly:      sig.IsAnomaly,
		IsPredictive:   sig.IsPredictive,
		Metadata:       string(metadata),
		EntityIDs:      string(entityIDs),
		TransactionIDs: string(txIDs),
		Processed:      sig.Processed,
		CreatedTS:      sig.CreatedAt.Unix(),
	}

	if sig.PredictionInterval != nil {
		lower, upper := sig.PredictionInterval.Lower, sig.PredictionInterval.Upper
		rec.IntervalLower = &lower
		rec.IntervalUpper = &upper
	}

	return rec, nil
}

func recordToSignal(rec *SignalRecord) (*signal.Signal, error) {
	metadata, err := signal.DecodeMetadata(signal.Type(rec.SignalType), []byte(rec.Metadata))
	if err != nil {
		return nil, err
	}

	var entityIDs, txIDs []string
	if rec.EntityIDs != "" {
		if err := json.Unmarshal([]byte(rec.EntityIDs), &entityIDs); err != nil {
			return nil, fmt.Errorf("decode entity ids: %w", err)
		}
	}
	if rec.TransactionIDs != "" {
		if err := json.Unmarshal([]byte(rec.TransactionIDs), &txIDs); err != nil {
			return nil, fmt.Errorf("decode transaction ids: %w", err)
		}
	}

	sig := &signal.Signal{
		ID:             rec.SignalID,
		Type:           signal.Type(rec.SignalType),
		BlockHeight:    rec.BlockHeight,
		Timestamp:      time.Unix(rec.TimestampSec, 0).UTC(),
		Strength:       rec.Strength,
		IsAnomaly:      rec.IsAnomaly,
		IsPredictive:   rec.IsPredictive,
		Metadata:       metadata,
		EntityIDs:      entityIDs,
		TransactionIDs: txIDs,
		Processed:      rec.Processed,
		CreatedAt:      time.Unix(rec.CreatedTS, 0).UTC(),
	}

	if rec.IntervalLower != nil && rec.IntervalUpper != nil {
		sig.PredictionInterval = &signal.ConfidenceInterval{
			Lower: *rec.IntervalLower,
			Upper: *rec.IntervalUpper,
		}
	}

	return sig, nil
}

func insightToRecord(ins *insight.Insight) (*InsightRecord, error) {
	evidence, err := json.Marshal(ins.Evidence)
	if err != nil {
		return nil, fmt.Errorf("encode evidence: %w", err)
	}

	tags, err := json.Marshal(ins.Tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}

	explainability, err := json.Marshal(ins.Explainability)
	if err != nil {
		return nil, fmt.Errorf("encode explainability: %w", err)
	}

	return &InsightRecord{
		ID:             ins.ID,
		SignalType:     string(ins.SignalType),
		Headline:       ins.Headline,
		Summary:        ins.Summary,
		Confidence:     ins.Confidence,
		TimestampSec:   ins.Timestamp.Unix(),
		BlockHeight:    ins.BlockHeight,
		Evidence:       string(evidence),
		ChartURL:       ins.ChartURL,
		Tags:           string(tags),
		IsPredictive:   ins.IsPredictive,
		PredictionKind: ins.PredictionKind,
		Explainability: string(explainability),
	}, nil
}

func recordToInsight(rec *InsightRecord) (*insight.Insight, error) {
	var evidence []insight.Citation
	if rec.Evidence != "" {
		if err := json.Unmarshal([]byte(rec.Evidence), &evidence); err != nil {
			return nil, fmt.Errorf("decode evidence: %w", err)
		}
	}

	var tags []string
	if rec.Tags != "" {
		if err := json.Unmarshal([]byte(rec.Tags), &tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}

	var explainability confidence.Explainability
	if rec.Explainability != "" {
		if err := json.Unmarshal([]byte(rec.Explainability), &explainability); err != nil {
			return nil, fmt.Errorf("decode explainability: %w", err)
		}
	}

	return &insight.Insight{
		ID:             rec.ID,
		SignalType:     signal.Type(rec.SignalType),
		Headline:       rec.Headline,
		Summary:        rec.Summary,
		Confidence:     rec.Confidence,
		Timestamp:      time.Unix(rec.TimestampSec, 0).UTC(),
		BlockHeight:    rec.BlockHeight,
		Evidence:       evidence,
		ChartURL:       rec.ChartURL,
		Tags:           tags,
		IsPredictive:   rec.IsPredictive,
		PredictionKind: rec.PredictionKind,
		Explainability: explainability,
	}, nil
}
