package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chainpulse/chainpulse/internal/chain"
	"github.com/chainpulse/chainpulse/internal/config"
	"github.com/chainpulse/chainpulse/internal/signal"
	"github.com/chainpulse/chainpulse/internal/storage"
	"github.com/sirupsen/logrus"
)

type fakeSource struct {
	stats      *chain.MempoolStats
	flows      map[string]*chain.EntityFlow
	balances   map[string]*chain.EntityBalance
	activity   map[string]*chain.AddressActivity
	blockRef   *chain.BlockRef
	statsErr   error
	failEntity string
}

func (f *fakeSource) GetMempoolStats(context.Context) (*chain.MempoolStats, error) {
	return f.stats, f.statsErr
}

func (f *fakeSource) GetEntityFlows(_ context.Context, entityID string, _ time.Duration) (*chain.EntityFlow, error) {
	if entityID == f.failEntity {
		return nil, errors.New("entity unavailable")
	}
	return f.flows[entityID], nil
}

func (f *fakeSource) GetEntityBalance(_ context.Context, entityID string) (*chain.EntityBalance, error) {
	if entityID == f.failEntity {
		return nil, errors.New("entity unavailable")
	}
	return f.balances[entityID], nil
}

func (f *fakeSource) GetAddressActivity(_ context.Context, address string, _ time.Duration) (*chain.AddressActivity, error) {
	return f.activity[address], nil
}

func (f *fakeSource) GetBlockAtTime(context.Context, time.Time) (*chain.BlockRef, error) {
	return f.blockRef, nil
}

func (f *fakeSource) GetSnapshotAtHeight(context.Context, int64) (*chain.Snapshot, error) {
	return nil, errors.New("not used by live ingest")
}

type fakeIngestStore struct {
	signals     []*signal.Signal
	predictions []*storage.PredictionRecord
	resolved    map[int64]float64
	reorgs      []int64
}

func newFakeIngestStore() *fakeIngestStore {
	return &fakeIngestStore{resolved: map[int64]float64{}}
}

func (s *fakeIngestStore) InsertSignal(_ context.Context, sig *signal.Signal) error {
	s.signals = append(s.signals, sig)
	return nil
}

func (s *fakeIngestStore) InsertPrediction(_ context.Context, rec *storage.PredictionRecord) error {
	rec.ID = int64(len(s.predictions) + 1)
	s.predictions = append(s.predictions, rec)
	return nil
}

func (s *fakeIngestStore) GetUnresolvedPredictions(_ context.Context, upToHeight int64) ([]storage.PredictionRecord, error) {
	var out []storage.PredictionRecord
	for _, rec := range s.predictions {
		if _, done := s.resolved[rec.ID]; !done && rec.TargetHeight <= upToHeight {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *fakeIngestStore) ResolvePrediction(_ context.Context, id int64, _, accuracy float64) error {
	s.resolved[id] = accuracy
	return nil
}

func (s *fakeIngestStore) MarkReorg(_ context.Context, blockHeight int64) error {
	s.reorgs = append(s.reorgs, blockHeight)
	return nil
}

func ingestConfig() *config.Config {
	return &config.Config{
		AnomalyZScoreCutoff: 2.5,
		SpikeStdDevMultiple: 3.0,
		VolumeSpikeMultiple: 3.0,
		LargeSingleTxRatio:  0.5,
		SmoothingAlpha:      0.3,
		HistoryWindow:       24,
		MaxTransactionIDs:   10,
		StrengthChangeNorm:  100,
		ExchangeEntityIDs:   []string{"exchange-alpha"},
		MinerEntityIDs:      []string{"miner-one"},
		WhaleAddresses:      []string{"bc1q-whale"},
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testSource(height int64) *fakeSource {
	ts := time.Unix(1756700000, 0)
	return &fakeSource{
		stats: &chain.MempoolStats{
			BlockHeight: height,
			Timestamp:   ts,
			FeeRates:    []float64{10, 20, 30},
			AvgFeeRate:  20,
			TxCount:     5000,
		},
		flows: map[string]*chain.EntityFlow{
			"exchange-alpha": {
				EntityID: "exchange-alpha", BlockHeight: height, Timestamp: ts,
				Inflow: 100, Outflow: 50, NetFlow: 50,
			},
		},
		balances: map[string]*chain.EntityBalance{
			"miner-one": {
				EntityID: "miner-one", BlockHeight: height, Timestamp: ts,
				Balance: 5000, DailyChange: -20,
			},
		},
		activity: map[string]*chain.AddressActivity{
			"bc1q-whale": {
				Address: "bc1q-whale", BlockHeight: height, Timestamp: ts,
				Balance: 10000, DailyChange: 50,
			},
		},
		blockRef: &chain.BlockRef{Height: height, Timestamp: ts},
	}
}

func TestCycleGeneratesAllSignalTypes(t *testing.T) {
	store := newFakeIngestStore()
	ing := New(ingestConfig(), testSource(900000), store, quietLogger())

	if err := ing.Cycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	types := map[signal.Type]int{}
	for _, sig := range store.signals {
		types[sig.Type]++
	}

	want := map[signal.Type]int{
		signal.TypeMempool:    1,
		signal.TypeExchange:   1,
		signal.TypeMiner:      1,
		signal.TypeWhale:      1,
		signal.TypePredictive: 2, // fee forecast + liquidity pressure
	}
	for typ, count := range want {
		if types[typ] != count {
			t.Errorf("got %d %s signals, want %d", types[typ], typ, count)
		}
	}
}

func TestCycleRecordsForecastPrediction(t *testing.T) {
	store := newFakeIngestStore()
	ing := New(ingestConfig(), testSource(900000), store, quietLogger())

	if err := ing.Cycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.predictions) != 1 {
		t.Fatalf("got %d predictions, want 1", len(store.predictions))
	}
	rec := store.predictions[0]
	if rec.Kind != signal.PredictiveFeeForecast {
		t.Errorf("got kind %q, want %q", rec.Kind, signal.PredictiveFeeForecast)
	}
	if rec.TargetHeight != 900001 {
		t.Errorf("one-block forecast should target height 900001, got %d", rec.TargetHeight)
	}
}

func TestCycleResolvesMaturedPredictions(t *testing.T) {
	store := newFakeIngestStore()

	cfg := ingestConfig()
	source := testSource(900000)
	ing := New(cfg, source, store, quietLogger())

	if err := ing.Cycle(context.Background()); err != nil {
		t.Fatalf("first cycle failed: %v", err)
	}
	if len(store.resolved) != 0 {
		t.Fatal("nothing should resolve before the target height is reached")
	}

	// Advance the chain past the forecast's target height
	source.stats.BlockHeight = 900001
	source.blockRef.Height = 900001
	if err := ing.Cycle(context.Background()); err != nil {
		t.Fatalf("second cycle failed: %v", err)
	}

	if len(store.resolved) != 1 {
		t.Fatalf("got %d resolved predictions, want 1", len(store.resolved))
	}
	for _, accuracy := range store.resolved {
		// Fallback forecast predicted 20 and the fee stayed at 20
		if !(accuracy > 0.999) {
			t.Errorf("a spot-on forecast should score 1.0, got %.4f", accuracy)
		}
	}
}

func TestCycleMarksReorg(t *testing.T) {
	store := newFakeIngestStore()
	source := testSource(900000)
	source.blockRef.Reorged = true
	ing := New(ingestConfig(), source, store, quietLogger())

	if err := ing.Cycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.reorgs) != 1 || store.reorgs[0] != 900000 {
		t.Errorf("expected a reorg mark at 900000, got %v", store.reorgs)
	}
}

func TestCycleSkipsFailingEntity(t *testing.T) {
	store := newFakeIngestStore()
	source := testSource(900000)
	source.failEntity = "exchange-alpha"
	ing := New(ingestConfig(), source, store, quietLogger())

	if err := ing.Cycle(context.Background()); err != nil {
		t.Fatalf("a failing entity must not abort the cycle: %v", err)
	}

	for _, sig := range store.signals {
		if sig.Type == signal.TypeExchange {
			t.Error("no exchange signal should exist for the failing entity")
		}
	}
	// Miner and whale signals still flow
	var miner, whale bool
	for _, sig := range store.signals {
		miner = miner || sig.Type == signal.TypeMiner
		whale = whale || sig.Type == signal.TypeWhale
	}
	if !miner || !whale {
		t.Error("other entity classes must still be processed")
	}
}

func TestCycleFailsWithoutMempoolStats(t *testing.T) {
	store := newFakeIngestStore()
	source := testSource(900000)
	source.statsErr = errors.New("api unavailable")
	ing := New(ingestConfig(), source, store, quietLogger())

	if err := ing.Cycle(context.Background()); err == nil {
		t.Error("a missing mempool snapshot fails the whole cycle")
	}
	if len(store.signals) != 0 {
		t.Error("no signals should persist from a failed cycle")
	}
}

func TestCycleHistoryBounded(t *testing.T) {
	cfg := ingestConfig()
	cfg.HistoryWindow = 3
	store := newFakeIngestStore()
	source := testSource(900000)
	ing := New(cfg, source, store, quietLogger())

	for n := 0; n < 10; n++ {
		source.stats.BlockHeight = int64(900000 + n)
		if err := ing.Cycle(context.Background()); err != nil {
			t.Fatalf("cycle %d failed: %v", n, err)
		}
	}

	if len(ing.mempoolHist) != 3 {
		t.Errorf("mempool history holds %d entries, want the window of 3", len(ing.mempoolHist))
	}
	if len(ing.exchangeHist["exchange-alpha"]) != 3 {
		t.Errorf("exchange history holds %d entries, want 3", len(ing.exchangeHist["exchange-alpha"]))
	}
}
