package signal

import (
	"math"
	"time"

	"github.com/chainpulse/chainpulse/internal/chain"
	"github.com/chainpulse/chainpulse/internal/config"
)

// MinerProcessor converts miner custody balance snapshots into signals
type MinerProcessor struct {
	cfg *config.Config
}

// NewMinerProcessor creates a new miner custody processor
func NewMinerProcessor(cfg *config.Config) *MinerProcessor {
	return &MinerProcessor{cfg: cfg}
}

// Process applies the same z-score approach as the exchange processor to
// custody balance deltas
func (p *MinerProcessor) Process(current *chain.EntityBalance, history []*chain.EntityBalance) *Signal {
	var histDeltas []float64
	for _, h := range history {
		histDeltas = append(histDeltas, h.DailyChange)
	}

	z := zScore(current.DailyChange, histDeltas)
	isAnomaly := math.Abs(z) > p.cfg.AnomalyZScoreCutoff

	var anomalyType string
	if isAnomaly {
		if current.DailyChange > 0 {
			anomalyType = "custody_inflow"
		} else {
			anomalyType = "custody_outflow"
		}
	}

	var change24h float64
	if len(history) > 0 {
		change24h = percentChange(current.Balance, history[0].Balance)
	}

	strength := clamp01(math.Abs(z) / (2 * p.cfg.AnomalyZScoreCutoff))

	return &Signal{
		ID:          NewID(TypeMiner, current.BlockHeight, current.EntityID),
		Type:        TypeMiner,
		BlockHeight: current.BlockHeight,
		Timestamp:   current.Timestamp,
		Strength:    strength,
		IsAnomaly:   isAnomaly,
		Metadata: MinerMetadata{
			EntityID:     current.EntityID,
			Balance:      current.Balance,
			BalanceDelta: current.DailyChange,
			ZScore:       z,
			Change24h:    change24h,
			AnomalyType:  anomalyType,
		},
		EntityIDs: []string{current.EntityID},
		CreatedAt: time.Now().UTC(),
	}
}
