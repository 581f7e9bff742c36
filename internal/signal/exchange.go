package signal

import (
	"math"
	"time"

	"github.com/chainpulse/chainpulse/internal/chain"
	"github.com/chainpulse/chainpulse/internal/config"
)

// ExchangeProcessor converts exchange entity flow snapshots into signals
type ExchangeProcessor struct {
	cfg *config.Config
}

// NewExchangeProcessor creates a new exchange flow processor
func NewExchangeProcessor(cfg *config.Config) *ExchangeProcessor {
	return &ExchangeProcessor{cfg: cfg}
}

// Process converts one entity flow snapshot plus rolling history into a
// signal. With fewer than two historical points the z-score is 0 and no
// anomaly is flagged.
func (p *ExchangeProcessor) Process(current *chain.EntityFlow, history []*chain.EntityFlow) *Signal {
	var histInflows, histOutflows, histTotals []float64
	for _, h := range history {
		histInflows = append(histInflows, h.Inflow)
		histOutflows = append(histOutflows, h.Outflow)
		histTotals = append(histTotals, h.Inflow+h.Outflow)
	}

	zIn := zScore(current.Inflow, histInflows)
	zOut := zScore(current.Outflow, histOutflows)

	// The dominant side drives the signal
	z := zIn
	inflowDominates := true
	if math.Abs(zOut) > math.Abs(zIn) {
		z = zOut
		inflowDominates = false
	}

	isAnomaly := math.Abs(z) > p.cfg.AnomalyZScoreCutoff

	var anomalyType string
	if isAnomaly {
		if inflowDominates && z > 0 {
			anomalyType = "inflow_spike"
		} else if !inflowDominates && z > 0 {
			anomalyType = "outflow_spike"
		} else if inflowDominates {
			anomalyType = "inflow_drop"
		} else {
			anomalyType = "outflow_drop"
		}
	}

	totalFlow := current.Inflow + current.Outflow

	volumeSpike := false
	if m := mean(histTotals); m > 0 && len(histTotals) >= 2 {
		volumeSpike = totalFlow > p.cfg.VolumeSpikeMultiple*m
	}

	largeSingleTx := false
	for _, tx := range current.Transactions {
		if totalFlow > 0 && tx.Amount > p.cfg.LargeSingleTxRatio*totalFlow {
			largeSingleTx = true
			break
		}
	}

	var change24h float64
	if len(histTotals) > 0 {
		change24h = percentChange(totalFlow, histTotals[0])
	}

	// Strength saturates at twice the anomaly cutoff
	strength := clamp01(math.Abs(z) / (2 * p.cfg.AnomalyZScoreCutoff))

	return &Signal{
		ID:          NewID(TypeExchange, current.BlockHeight, current.EntityID),
		Type:        TypeExchange,
		BlockHeight: current.BlockHeight,
		Timestamp:   current.Timestamp,
		Strength:    strength,
		IsAnomaly:   isAnomaly,
		Metadata: ExchangeMetadata{
			EntityID:      current.EntityID,
			Inflow:        current.Inflow,
			Outflow:       current.Outflow,
			NetFlow:       current.NetFlow,
			ZScore:        z,
			Change24h:     change24h,
			AnomalyType:   anomalyType,
			VolumeSpike:   volumeSpike,
			LargeSingleTx: largeSingleTx,
		},
		EntityIDs:      []string{current.EntityID},
		TransactionIDs: p.evidenceTxIDs(current.Transactions),
		CreatedAt:      time.Now().UTC(),
	}
}

// evidenceTxIDs keeps the largest transactions up to the configured cap
func (p *ExchangeProcessor) evidenceTxIDs(txs []chain.FlowTransaction) []string {
	if len(txs) == 0 {
		return nil
	}

	sorted := make([]chain.FlowTransaction, len(txs))
	copy(sorted, txs)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Amount > sorted[j-1].Amount; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	limit := p.cfg.MaxTransactionIDs
	if limit <= 0 || limit > len(sorted) {
		limit = len(sorted)
	}

	ids := make([]string, 0, limit)
	for _, tx := range sorted[:limit] {
		ids = append(ids, tx.TxID)
	}
	return ids
}
