package signal

import (
	"math"
	"time"

	"github.com/chainpulse/chainpulse/internal/chain"
	"github.com/chainpulse/chainpulse/internal/config"
)

// Number of trailing observations used to size the forecast interval
const volatilityWindow = 12

// Liquidity pressure levels, ordered from heavy selling to heavy buying
const (
	PressureHighSelling = "high_selling_pressure"
	PressureSelling     = "selling_pressure"
	PressureNeutral     = "neutral"
	PressureBuying      = "buying_pressure"
	PressureHighBuying  = "high_buying_pressure"
)

// FeeForecast is the result of forecasting the next-block fee level
type FeeForecast struct {
	Method     string
	Prediction float64
	Lower      float64
	Upper      float64
}

// PredictiveProcessor produces forward-looking signals from the same
// histories the point-in-time processors consume
type PredictiveProcessor struct {
	cfg *config.Config
}

// NewPredictiveProcessor creates a new predictive analytics processor
func NewPredictiveProcessor(cfg *config.Config) *PredictiveProcessor {
	return &PredictiveProcessor{cfg: cfg}
}

// ForecastNextBlockFees runs exponential smoothing over the historical fee
// series, seeded with the first observation. With fewer than two historical
// points it falls back to predicting the current value rather than failing.
func (p *PredictiveProcessor) ForecastNextBlockFees(history []*chain.MempoolStats, current *chain.MempoolStats) FeeForecast {
	if len(history) < 2 {
		return FeeForecast{
			Method:     MethodFallback,
			Prediction: current.AvgFeeRate,
			Lower:      current.AvgFeeRate,
			Upper:      current.AvgFeeRate,
		}
	}

	series := make([]float64, 0, len(history)+1)
	for _, h := range history {
		series = append(series, h.AvgFeeRate)
	}
	series = append(series, current.AvgFeeRate)

	s := series[0]
	for _, x := range series[1:] {
		s = p.cfg.SmoothingAlpha*x + (1-p.cfg.SmoothingAlpha)*s
	}

	// Interval spread from recent volatility
	recent := series
	if len(recent) > volatilityWindow {
		recent = recent[len(recent)-volatilityWindow:]
	}
	spread := stdDev(recent)

	return FeeForecast{
		Method:     MethodExponentialSmoothing,
		Prediction: s,
		Lower:      s - spread,
		Upper:      s + spread,
	}
}

// FeeForecastSignal wraps a forecast into a predictive signal
func (p *PredictiveProcessor) FeeForecastSignal(history []*chain.MempoolStats, current *chain.MempoolStats) *Signal {
	forecast := p.ForecastNextBlockFees(history, current)

	var strength float64
	if current.AvgFeeRate > 0 {
		strength = clamp01(math.Abs(forecast.Prediction-current.AvgFeeRate) / current.AvgFeeRate)
	}

	return &Signal{
		ID:           NewID(TypePredictive, current.BlockHeight, PredictiveFeeForecast),
		Type:         TypePredictive,
		BlockHeight:  current.BlockHeight,
		Timestamp:    current.Timestamp,
		Strength:     strength,
		IsPredictive: true,
		PredictionInterval: &ConfidenceInterval{
			Lower: forecast.Lower,
			Upper: forecast.Upper,
		},
		Metadata: PredictiveMetadata{
			Kind:          PredictiveFeeForecast,
			Method:        forecast.Method,
			Prediction:    forecast.Prediction,
			Lower:         forecast.Lower,
			Upper:         forecast.Upper,
			CurrentValue:  current.AvgFeeRate,
			HorizonBlocks: 1,
		},
		CreatedAt: time.Now().UTC(),
	}
}

// LiquidityPressureIndex normalizes the gap between current and historical
// mean net flow by the historical standard deviation and maps it to [0,1]
// via a bounded transform. Positive net flow (coins moving onto exchanges)
// above the norm reads as selling pressure, so the index moves toward 0.
func LiquidityPressureIndex(currentNet float64, historyNet []float64) float64 {
	z := zScore(currentNet, historyNet)
	return 0.5 - 0.5*math.Tanh(z/2)
}

// PressureLevel buckets a liquidity pressure index into one of five ordered
// levels with a neutral midpoint band
func PressureLevel(index float64) string {
	switch {
	case index < 0.2:
		return PressureHighSelling
	case index < 0.45:
		return PressureSelling
	case index <= 0.55:
		return PressureNeutral
	case index <= 0.8:
		return PressureBuying
	default:
		return PressureHighBuying
	}
}

// LiquidityPressureSignal derives a liquidity pressure signal from exchange
// net flow history
func (p *PredictiveProcessor) LiquidityPressureSignal(current *chain.EntityFlow, history []*chain.EntityFlow) *Signal {
	var histNet []float64
	for _, h := range history {
		histNet = append(histNet, h.NetFlow)
	}

	index := LiquidityPressureIndex(current.NetFlow, histNet)
	level := PressureLevel(index)

	// Distance from the neutral midpoint, scaled so the extremes hit 1.0
	strength := clamp01(math.Abs(index-0.5) * 2)

	return &Signal{
		ID:           NewID(TypePredictive, current.BlockHeight, PredictiveLiquidityPressure+":"+current.EntityID),
		Type:         TypePredictive,
		BlockHeight:  current.BlockHeight,
		Timestamp:    current.Timestamp,
		Strength:     strength,
		IsPredictive: true,
		Metadata: PredictiveMetadata{
			Kind:          PredictiveLiquidityPressure,
			Prediction:    index,
			CurrentValue:  current.NetFlow,
			PressureIndex: index,
			PressureLevel: level,
			HorizonBlocks: 6,
		},
		EntityIDs: []string{current.EntityID},
		CreatedAt: time.Now().UTC(),
	}
}

// PredictionAccuracy scores a realized prediction against the later-observed
// actual value. 1.0 is a perfect prediction; the score floors at 0 once the
// error reaches 100% of the actual value.
func PredictionAccuracy(predicted, actual float64) float64 {
	denom := math.Abs(actual)
	if denom == 0 {
		if predicted == 0 {
			return 1
		}
		return 0
	}
	return clamp01(1 - math.Abs(actual-predicted)/denom)
}
