package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/chainpulse/chainpulse/internal/chain"
	"github.com/chainpulse/chainpulse/internal/config"
	"github.com/chainpulse/chainpulse/internal/metrics"
	"github.com/chainpulse/chainpulse/internal/signal"
	"github.com/chainpulse/chainpulse/internal/storage"
	"github.com/sirupsen/logrus"
)

// flowWindow is the lookback window requested from the snapshot source for
// entity flows and address activity
const flowWindow = 24 * time.Hour

// Store is the slice of persistence the live ingest loop needs
type Store interface {
	InsertSignal(ctx context.Context, sig *signal.Signal) error
	InsertPrediction(ctx context.Context, rec *storage.PredictionRecord) error
	GetUnresolvedPredictions(ctx context.Context, upToHeight int64) ([]storage.PredictionRecord, error)
	ResolvePrediction(ctx context.Context, id int64, actual, accuracy float64) error
	MarkReorg(ctx context.Context, blockHeight int64) error
}

// Ingester drives the live signal pipeline: it pulls metric snapshots,
// runs the processors against rolling in-memory histories and persists
// the resulting signals.
type Ingester struct {
	cfg    *config.Config
	source chain.SnapshotSource
	store  Store
	log    *logrus.Logger

	mempool   *signal.MempoolProcessor
	exchange  *signal.ExchangeProcessor
	miner     *signal.MinerProcessor
	whale     *signal.WhaleProcessor
	predictor *signal.PredictiveProcessor

	mempoolHist  []*chain.MempoolStats
	exchangeHist map[string][]*chain.EntityFlow
	minerHist    map[string][]*chain.EntityBalance
	whaleHist    map[string][]*chain.AddressActivity
}

func New(cfg *config.Config, source chain.SnapshotSource, store Store, log *logrus.Logger) *Ingester {
	return &Ingester{
		cfg:          cfg,
		source:       source,
		store:        store,
		log:          log,
		mempool:      signal.NewMempoolProcessor(cfg),
		exchange:     signal.NewExchangeProcessor(cfg),
		miner:        signal.NewMinerProcessor(cfg),
		whale:        signal.NewWhaleProcessor(cfg),
		predictor:    signal.NewPredictiveProcessor(cfg),
		exchangeHist: map[string][]*chain.EntityFlow{},
		minerHist:    map[string][]*chain.EntityBalance{},
		whaleHist:    map[string][]*chain.AddressActivity{},
	}
}

// Cycle runs one full ingest pass. Failures against individual entities
// are logged and skipped; the cycle only fails outright when the mempool
// snapshot itself is unavailable.
func (i *Ingester) Cycle(ctx context.Context) error {
	stats, err := i.source.GetMempoolStats(ctx)
	if err != nil {
		return fmt.Errorf("fetch mempool stats: %w", err)
	}

	i.checkReorg(ctx, stats.Timestamp)
	i.resolvePredictions(ctx, stats)

	if sig := i.mempool.Process(stats, i.mempoolHist); sig != nil {
		i.persist(ctx, sig)
	}

	forecast := i.predictor.FeeForecastSignal(i.mempoolHist, stats)
	i.persist(ctx, forecast)
	i.recordForecastPrediction(ctx, forecast, stats)

	i.mempoolHist = trim(append(i.mempoolHist, stats), i.cfg.HistoryWindow)

	for _, entityID := range i.cfg.ExchangeEntityIDs {
		flow, err := i.source.GetEntityFlows(ctx, entityID, flowWindow)
		if err != nil {
			i.log.WithError(err).WithField("entity_id", entityID).Warn("Failed to fetch exchange flows")
			continue
		}
		i.persist(ctx, i.exchange.Process(flow, i.exchangeHist[entityID]))
		i.persist(ctx, i.predictor.LiquidityPressureSignal(flow, i.exchangeHist[entityID]))
		i.exchangeHist[entityID] = trim(append(i.exchangeHist[entityID], flow), i.cfg.HistoryWindow)
	}

	for _, entityID := range i.cfg.MinerEntityIDs {
		bal, err := i.source.GetEntityBalance(ctx, entityID)
		if err != nil {
			i.log.WithError(err).WithField("entity_id", entityID).Warn("Failed to fetch miner balance")
			continue
		}
		i.persist(ctx, i.miner.Process(bal, i.minerHist[entityID]))
		i.minerHist[entityID] = trim(append(i.minerHist[entityID], bal), i.cfg.HistoryWindow)
	}

	for _, address := range i.cfg.WhaleAddresses {
		act, err := i.source.GetAddressActivity(ctx, address, flowWindow)
		if err != nil {
			i.log.WithError(err).WithField("address", address).Warn("Failed to fetch address activity")
			continue
		}
		i.persist(ctx, i.whale.Process(act, i.whaleHist[address]))
		i.whaleHist[address] = trim(append(i.whaleHist[address], act), i.cfg.HistoryWindow)
	}

	return nil
}

func (i *Ingester) persist(ctx context.Context, sig *signal.Signal) {
	if sig == nil {
		return
	}
	if err := i.store.InsertSignal(ctx, sig); err != nil {
		i.log.WithError(err).WithFields(logrus.Fields{
			"signal_id":   sig.ID,
			"signal_type": string(sig.Type),
		}).Error("Failed to persist signal")
		return
	}
	metrics.SignalsGenerated.WithLabelValues(string(sig.Type)).Inc()
	if sig.IsAnomaly {
		metrics.SignalAnomalies.WithLabelValues(string(sig.Type), anomalyType(sig)).Inc()
	}
}

// checkReorg records the current tip height if the source reports it was
// affected by a reorganization. The mark feeds the quiet-mode gate.
func (i *Ingester) checkReorg(ctx context.Context, at time.Time) {
	ref, err := i.source.GetBlockAtTime(ctx, at)
	if err != nil {
		i.log.WithError(err).Debug("Failed to resolve current block")
		return
	}
	if !ref.Reorged {
		return
	}
	if err := i.store.MarkReorg(ctx, ref.Height); err != nil {
		i.log.WithError(err).WithField("block_height", ref.Height).Error("Failed to record reorg mark")
		return
	}
	i.log.WithField("block_height", ref.Height).Warn("Chain reorganization detected")
}

// recordForecastPrediction stores the forecast so realized accuracy can be
// folded back once the target height is observed
func (i *Ingester) recordForecastPrediction(ctx context.Context, forecast *signal.Signal, stats *chain.MempoolStats) {
	meta, ok := forecast.Metadata.(signal.PredictiveMetadata)
	if !ok {
		return
	}
	rec := &storage.PredictionRecord{
		Kind:         meta.Kind,
		BlockHeight:  stats.BlockHeight,
		TargetHeight: stats.BlockHeight + int64(meta.HorizonBlocks),
		Predicted:    meta.Prediction,
	}
	if err := i.store.InsertPrediction(ctx, rec); err != nil {
		i.log.WithError(err).Error("Failed to record prediction")
	}
}

// resolvePredictions scores pending forecasts whose target height has been
// reached, using the freshly observed fee rate as the actual
func (i *Ingester) resolvePredictions(ctx context.Context, stats *chain.MempoolStats) {
	pending, err := i.store.GetUnresolvedPredictions(ctx, stats.BlockHeight)
	if err != nil {
		i.log.WithError(err).Warn("Failed to fetch unresolved predictions")
		return
	}

	for _, rec := range pending {
		accuracy := signal.PredictionAccuracy(rec.Predicted, stats.AvgFeeRate)
		if err := i.store.ResolvePrediction(ctx, rec.ID, stats.AvgFeeRate, accuracy); err != nil {
			i.log.WithError(err).WithField("prediction_id", rec.ID).Warn("Failed to resolve prediction")
			continue
		}
		i.log.WithFields(logrus.Fields{
			"prediction_id": rec.ID,
			"kind":          rec.Kind,
			"predicted":     rec.Predicted,
			"actual":        stats.AvgFeeRate,
			"accuracy":      accuracy,
		}).Debug("Prediction resolved")
	}
}

func anomalyType(sig *signal.Signal) string {
	switch meta := sig.Metadata.(type) {
	case signal.MempoolMetadata:
		if meta.IsSpike {
			return "fee_spike"
		}
	case signal.ExchangeMetadata:
		return meta.AnomalyType
	case signal.MinerMetadata:
		return meta.AnomalyType
	case signal.WhaleMetadata:
		return meta.AnomalyType
	}
	return "unknown"
}

func trim[T any](s []T, max int) []T {
	if max > 0 && len(s) > max {
		return s[len(s)-max:]
	}
	return s
}
