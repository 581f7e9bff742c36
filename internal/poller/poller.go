package poller

import (
	"context"
	"time"

	"github.com/chainpulse/chainpulse/internal/metrics"
	"github.com/chainpulse/chainpulse/internal/signal"
	"github.com/sirupsen/logrus"
)

// State represents the poller's position in its cycle
type State string

const (
	StateIdle     State = "idle"
	StatePolling  State = "polling"
	StateGrouping State = "grouping"
	StateMarking  State = "marking"
)

// SignalStore is the slice of storage the poller needs
type SignalStore interface {
	GetUnprocessedSignals(ctx context.Context, limit int) ([]*signal.Signal, error)
	MarkSignalProcessed(ctx context.Context, signalID string) (bool, error)
	MarkSignalsProcessedBatch(ctx context.Context, signalIDs []string) (int64, error)
	GetUnprocessedSignalCount(ctx context.Context) (int64, error)
	GetStaleSignals(ctx context.Context, maxAge time.Duration) ([]*signal.Signal, error)
}

// SignalGroup is a run of signals sharing a type and block height, handed
// to the insight generator as one unit
type SignalGroup struct {
	Type        signal.Type
	BlockHeight int64
	Signals     []*signal.Signal
}

// Poller drains unprocessed signals from storage and groups them for
// insight generation
type Poller struct {
	store SignalStore
	log   *logrus.Logger
	state State
}

func New(store SignalStore, log *logrus.Logger) *Poller {
	return &Poller{
		store: store,
		log:   log,
		state: StateIdle,
	}
}

// State returns the poller's current cycle state
func (p *Poller) State() State {
	return p.state
}

// Poll fetches up to limit unprocessed signals, oldest first, and groups
// contiguous runs sharing (type, block height). Ordering within and across
// groups preserves storage order, so replaying a poll yields the same
// groups.
func (p *Poller) Poll(ctx context.Context, limit int) ([]SignalGroup, error) {
	start := time.Now()
	p.state = StatePolling

	signals, err := p.store.GetUnprocessedSignals(ctx, limit)
	if err != nil {
		p.state = StateIdle
		metrics.RecordPollCycle(time.Since(start), "error")
		return nil, err
	}

	p.state = StateGrouping
	groups := Group(signals)
	p.state = StateIdle

	metrics.RecordPollCycle(time.Since(start), "success")

	if len(signals) > 0 {
		p.log.WithFields(logrus.Fields{
			"signals": len(signals),
			"groups":  len(groups),
		}).Debug("Poll cycle complete")
	}

	return groups, nil
}

// Group partitions signals into contiguous runs sharing type and block
// height. A signal with a different type or height always starts a new
// group, even if an earlier group had the same key.
func Group(signals []*signal.Signal) []SignalGroup {
	var groups []SignalGroup
	for _, sig := range signals {
		n := len(groups)
		if n > 0 && groups[n-1].Type == sig.Type && groups[n-1].BlockHeight == sig.BlockHeight {
			groups[n-1].Signals = append(groups[n-1].Signals, sig)
			continue
		}
		groups = append(groups, SignalGroup{
			Type:        sig.Type,
			BlockHeight: sig.BlockHeight,
			Signals:     []*signal.Signal{sig},
		})
	}
	return groups
}

// MarkProcessed marks a single signal processed. A signal already marked
// by a concurrent run is logged and treated as success.
func (p *Poller) MarkProcessed(ctx context.Context, signalID string) error {
	p.state = StateMarking
	defer func() { p.state = StateIdle }()

	marked, err := p.store.MarkSignalProcessed(ctx, signalID)
	if err != nil {
		metrics.SignalsMarkedProcessed.WithLabelValues("error").Inc()
		return err
	}
	if !marked {
		metrics.SignalsMarkedProcessed.WithLabelValues("already_marked").Inc()
		p.log.WithField("signal_id", signalID).Debug("Signal already marked processed")
		return nil
	}
	metrics.SignalsMarkedProcessed.WithLabelValues("marked").Inc()
	return nil
}

// MarkGroupProcessed marks every signal in a group processed in one
// statement
func (p *Poller) MarkGroupProcessed(ctx context.Context, group SignalGroup) error {
	p.state = StateMarking
	defer func() { p.state = StateIdle }()

	ids := make([]string, 0, len(group.Signals))
	for _, sig := range group.Signals {
		ids = append(ids, sig.ID)
	}

	marked, err := p.store.MarkSignalsProcessedBatch(ctx, ids)
	if err != nil {
		metrics.SignalsMarkedProcessed.WithLabelValues("error").Inc()
		return err
	}
	metrics.SignalsMarkedProcessed.WithLabelValues("marked").Add(float64(marked))
	if already := int64(len(ids)) - marked; already > 0 {
		metrics.SignalsMarkedProcessed.WithLabelValues("already_marked").Add(float64(already))
	}
	return nil
}

// ReportBacklog refreshes the unprocessed and stale signal gauges. Stale
// signals are surfaced for operators; they are never dropped.
func (p *Poller) ReportBacklog(ctx context.Context, staleAge time.Duration) {
	count, err := p.store.GetUnprocessedSignalCount(ctx)
	if err != nil {
		p.log.WithError(err).Warn("Failed to count unprocessed signals")
		return
	}
	metrics.UnprocessedSignals.Set(float64(count))

	stale, err := p.store.GetStaleSignals(ctx, staleAge)
	if err != nil {
		p.log.WithError(err).Warn("Failed to fetch stale signals")
		return
	}
	metrics.StaleSignals.Set(float64(len(stale)))

	for _, sig := range stale {
		p.log.WithFields(logrus.Fields{
			"signal_id":   sig.ID,
			"signal_type": string(sig.Type),
			"age_hours":   time.Since(sig.CreatedAt).Hours(),
		}).Warn("Signal unprocessed past stale threshold")
	}
}
