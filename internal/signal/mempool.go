package signal

import (
	"math"
	"time"

	"github.com/chainpulse/chainpulse/internal/chain"
	"github.com/chainpulse/chainpulse/internal/config"
)

// MempoolProcessor converts mempool snapshots into fee signals
type MempoolProcessor struct {
	cfg *config.Config
}

// NewMempoolProcessor creates a new mempool processor
func NewMempoolProcessor(cfg *config.Config) *MempoolProcessor {
	return &MempoolProcessor{cfg: cfg}
}

// FeeQuantiles computes p10/p25/p50/p75/p90 from a sample of fee rates.
// An empty sample yields all-zero quantiles.
func FeeQuantiles(feeRates []float64) Quantiles {
	return Quantiles{
		P10: percentile(feeRates, 10),
		P25: percentile(feeRates, 25),
		P50: percentile(feeRates, 50),
		P75: percentile(feeRates, 75),
		P90: percentile(feeRates, 90),
	}
}

// InclusionTier estimates block-inclusion time for a fee rate against the
// current quantiles. Boundaries are inclusive at the upper tier.
func InclusionTier(feeRate float64, q Quantiles) (blocks int, tier string) {
	switch {
	case feeRate >= q.P90:
		return 1, "high"
	case feeRate >= q.P50:
		return 3, "medium"
	default:
		return 12, "low"
	}
}

// Process converts one mempool snapshot plus its recent history into a
// signal. History is ordered oldest first; short or empty history degrades
// to zero change and zero strength, never an error.
func (p *MempoolProcessor) Process(current *chain.MempoolStats, history []*chain.MempoolStats) *Signal {
	quantiles := FeeQuantiles(current.FeeRates)

	var change24h float64
	if len(history) > 0 {
		change24h = percentChange(current.AvgFeeRate, history[0].AvgFeeRate)
	}

	var histFees []float64
	for _, h := range history {
		histFees = append(histFees, h.AvgFeeRate)
	}

	var isSpike bool
	var sdMultiple float64
	if sd := stdDev(histFees); sd > 0 {
		sdMultiple = math.Abs(current.AvgFeeRate-mean(histFees)) / sd
		isSpike = sdMultiple > p.cfg.SpikeStdDevMultiple
	}

	strength := clamp01(math.Abs(change24h) / p.cfg.StrengthChangeNorm)

	inclusionBlocks, inclusionTier := InclusionTier(current.AvgFeeRate, quantiles)

	return &Signal{
		ID:          NewID(TypeMempool, current.BlockHeight, current.Timestamp.UTC().Format(time.RFC3339)),
		Type:        TypeMempool,
		BlockHeight: current.BlockHeight,
		Timestamp:   current.Timestamp,
		Strength:    strength,
		IsAnomaly:   isSpike,
		Metadata: MempoolMetadata{
			FeeQuantiles:    quantiles,
			AvgFeeRate:      current.AvgFeeRate,
			TxCount:         current.TxCount,
			SizeBytes:       current.SizeBytes,
			Change24h:       change24h,
			IsSpike:         isSpike,
			StdDevMultiple:  sdMultiple,
			InclusionBlocks: inclusionBlocks,
			InclusionTier:   inclusionTier,
		},
		CreatedAt: time.Now().UTC(),
	}
}
