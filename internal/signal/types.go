package signal

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"time"
)

// Type identifies the processor family that produced a signal
type Type string

const (
	TypeMempool    Type = "mempool"
	TypeExchange   Type = "exchange"
	TypeMiner      Type = "miner"
	TypeWhale      Type = "whale"
	TypePredictive Type = "predictive"
)

// ConfidenceInterval bounds a predictive signal's point prediction
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Metadata is the typed payload attached to a signal. Each signal type has
// one concrete shape; PromptFields is the flattened key/value view used for
// prompt substitution, template validation and data-quality checks.
type Metadata interface {
	SignalType() Type
	PromptFields() map[string]string
}

// Signal is a typed, timestamped statistical observation derived from
// blockchain metrics. Persisted once; only the Processed flag ever changes,
// and only from false to true.
type Signal struct {
	ID                 string
	Type               Type
	BlockHeight        int64
	Timestamp          time.Time
	Strength           float64 // [0,1]
	IsAnomaly          bool
	IsPredictive       bool
	PredictionInterval *ConfidenceInterval
	Metadata           Metadata
	EntityIDs          []string
	TransactionIDs     []string // bounded, see config.MaxTransactionIDs
	Processed          bool
	CreatedAt          time.Time
}

// NewID derives a deterministic signal id so backfill reruns and overlapping
// ingest cycles produce the same id for the same observation
func NewID(t Type, blockHeight int64, key string) string {
	sum := sha256.Sum256([]byte(string(t) + ":" + strconv.FormatInt(blockHeight, 10) + ":" + key))
	return fmt.Sprintf("%x", sum[:16])
}

// Quantiles holds linear-interpolated fee rate percentiles
type Quantiles struct {
	P10 float64 `json:"p10"`
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P90 float64 `json:"p90"`
}

// MempoolMetadata is the payload for mempool fee signals
type MempoolMetadata struct {
	FeeQuantiles    Quantiles `json:"fee_quantiles"`
	AvgFeeRate      float64   `json:"avg_fee_rate"`
	TxCount         int       `json:"tx_count"`
	SizeBytes       int64     `json:"size_bytes"`
	Change24h       float64   `json:"change_24h"` // percent
	IsSpike         bool      `json:"is_spike"`
	StdDevMultiple  float64   `json:"std_dev_multiple"`
	InclusionBlocks int       `json:"inclusion_blocks"` // estimated blocks to confirm at avg fee
	InclusionTier   string    `json:"inclusion_tier"`   // high, medium, low
}

func (MempoolMetadata) SignalType() Type { return TypeMempool }

func (m MempoolMetadata) PromptFields() map[string]string {
	return map[string]string{
		"avg_fee_rate":     formatFloat(m.AvgFeeRate),
		"fee_p10":          formatFloat(m.FeeQuantiles.P10),
		"fee_p50":          formatFloat(m.FeeQuantiles.P50),
		"fee_p90":          formatFloat(m.FeeQuantiles.P90),
		"tx_count":         strconv.Itoa(m.TxCount),
		"change_24h":       formatFloat(m.Change24h),
		"is_spike":         strconv.FormatBool(m.IsSpike),
		"std_dev_multiple": formatFloat(m.StdDevMultiple),
		"inclusion_blocks": strconv.Itoa(m.InclusionBlocks),
		"inclusion_tier":   m.InclusionTier,
	}
}

// ExchangeMetadata is the payload for exchange flow signals
type ExchangeMetadata struct {
	EntityID      string  `json:"entity_id"`
	Inflow        float64 `json:"inflow"`
	Outflow       float64 `json:"outflow"`
	NetFlow       float64 `json:"net_flow"`
	ZScore        float64 `json:"z_score"`
	Change24h     float64 `json:"change_24h"` // percent, total flow vs 24h ago
	AnomalyType   string  `json:"anomaly_type,omitempty"` // inflow_spike, outflow_spike
	VolumeSpike   bool    `json:"volume_spike"`
	LargeSingleTx bool    `json:"large_single_tx"`
}

func (ExchangeMetadata) SignalType() Type { return TypeExchange }

func (m ExchangeMetadata) PromptFields() map[string]string {
	return map[string]string{
		"entity_id":       m.EntityID,
		"inflow":          formatFloat(m.Inflow),
		"outflow":         formatFloat(m.Outflow),
		"net_flow":        formatFloat(m.NetFlow),
		"z_score":         formatFloat(m.ZScore),
		"change_24h":      formatFloat(m.Change24h),
		"anomaly_type":    m.AnomalyType,
		"volume_spike":    strconv.FormatBool(m.VolumeSpike),
		"large_single_tx": strconv.FormatBool(m.LargeSingleTx),
	}
}

// MinerMetadata is the payload for miner custody balance signals
type MinerMetadata struct {
	EntityID     string  `json:"entity_id"`
	Balance      float64 `json:"balance"`
	BalanceDelta float64 `json:"balance_delta"`
	ZScore       float64 `json:"z_score"`
	Change24h    float64 `json:"change_24h"` // percent
	AnomalyType  string  `json:"anomaly_type,omitempty"` // custody_inflow, custody_outflow
}

func (MinerMetadata) SignalType() Type { return TypeMiner }

func (m MinerMetadata) PromptFields() map[string]string {
	return map[string]string{
		"entity_id":     m.EntityID,
		"balance":       formatFloat(m.Balance),
		"balance_delta": formatFloat(m.BalanceDelta),
		"z_score":       formatFloat(m.ZScore),
		"change_24h":    formatFloat(m.Change24h),
		"anomaly_type":  m.AnomalyType,
	}
}

// WhaleMetadata is the payload for whale address signals
type WhaleMetadata struct {
	Address     string  `json:"address"`
	Balance     float64 `json:"balance"`
	DailyChange float64 `json:"daily_change"`
	StreakDays  int     `json:"streak_days"`
	ZScore      float64 `json:"z_score"`
	AnomalyType string  `json:"anomaly_type,omitempty"` // accumulation_streak, distribution_streak
}

func (WhaleMetadata) SignalType() Type { return TypeWhale }

func (m WhaleMetadata) PromptFields() map[string]string {
	return map[string]string{
		"address":      m.Address,
		"balance":      formatFloat(m.Balance),
		"daily_change": formatFloat(m.DailyChange),
		"streak_days":  strconv.Itoa(m.StreakDays),
		"z_score":      formatFloat(m.ZScore),
		"anomaly_type": m.AnomalyType,
	}
}

// Predictive signal kinds
const (
	PredictiveFeeForecast       = "fee_forecast"
	PredictiveLiquidityPressure = "liquidity_pressure"
)

// Forecast methods
const (
	MethodExponentialSmoothing = "exponential_smoothing"
	MethodFallback             = "fallback"
)

// PredictiveMetadata is the payload for forward-looking signals
type PredictiveMetadata struct {
	Kind          string  `json:"kind"` // fee_forecast, liquidity_pressure
	Method        string  `json:"method,omitempty"`
	Prediction    float64 `json:"prediction"`
	Lower         float64 `json:"lower"`
	Upper         float64 `json:"upper"`
	CurrentValue  float64 `json:"current_value"`
	PressureIndex float64 `json:"pressure_index,omitempty"` // [0,1]
	PressureLevel string  `json:"pressure_level,omitempty"`
	HorizonBlocks int     `json:"horizon_blocks"`
}

func (PredictiveMetadata) SignalType() Type { return TypePredictive }

func (m PredictiveMetadata) PromptFields() map[string]string {
	return map[string]string{
		"kind":           m.Kind,
		"method":         m.Method,
		"prediction":     formatFloat(m.Prediction),
		"lower":          formatFloat(m.Lower),
		"upper":          formatFloat(m.Upper),
		"current_value":  formatFloat(m.CurrentValue),
		"pressure_index": formatFloat(m.PressureIndex),
		"pressure_level": m.PressureLevel,
		"horizon_blocks": strconv.Itoa(m.HorizonBlocks),
	}
}

// GenericMetadata is the escape hatch for signals whose typed payload could
// not be decoded (e.g. rows written by a newer deployment)
type GenericMetadata struct {
	Type   Type              `json:"type"`
	Fields map[string]string `json:"fields"`
}

func (g GenericMetadata) SignalType() Type { return g.Type }

func (g GenericMetadata) PromptFields() map[string]string { return g.Fields }

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
