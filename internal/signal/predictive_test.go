package signal

import (
	"testing"

	"github.com/chainpulse/chainpulse/internal/chain"
)

func TestForecastNextBlockFeesFallback(t *testing.T) {
	p := NewPredictiveProcessor(processorConfig())
	current := mempoolStats(900000, 25, nil)

	tests := []struct {
		name    string
		history []*chain.MempoolStats
	}{
		{name: "no history", history: nil},
		{name: "one history point", history: []*chain.MempoolStats{mempoolStats(899999, 20, nil)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forecast := p.ForecastNextBlockFees(tt.history, current)

			if forecast.Method != MethodFallback {
				t.Errorf("got method %q, want fallback with thin history", forecast.Method)
			}
			if forecast.Prediction != 25 {
				t.Errorf("fallback should predict the current value, got %.2f", forecast.Prediction)
			}
			if forecast.Lower != forecast.Prediction || forecast.Upper != forecast.Prediction {
				t.Errorf("fallback interval should collapse to the prediction, got [%.2f, %.2f]", forecast.Lower, forecast.Upper)
			}
		})
	}
}

func TestForecastNextBlockFeesSmoothing(t *testing.T) {
	p := NewPredictiveProcessor(processorConfig())

	history := []*chain.MempoolStats{
		mempoolStats(899998, 10, nil),
		mempoolStats(899999, 20, nil),
	}
	current := mempoolStats(900000, 30, nil)

	forecast := p.ForecastNextBlockFees(history, current)

	if forecast.Method != MethodExponentialSmoothing {
		t.Fatalf("got method %q, want exponential smoothing", forecast.Method)
	}

	// alpha 0.3 over [10, 20, 30] seeded with 10:
	// s1 = 0.3*20 + 0.7*10 = 13; s2 = 0.3*30 + 0.7*13 = 18.1
	if !floatEquals(forecast.Prediction, 18.1, 0.001) {
		t.Errorf("got prediction %.4f, want 18.1", forecast.Prediction)
	}

	// spread = sample stddev of [10, 20, 30] = 10
	if !floatEquals(forecast.Upper-forecast.Prediction, 10, 0.001) {
		t.Errorf("got upper spread %.4f, want 10", forecast.Upper-forecast.Prediction)
	}
	if !floatEquals(forecast.Prediction-forecast.Lower, 10, 0.001) {
		t.Errorf("got lower spread %.4f, want 10", forecast.Prediction-forecast.Lower)
	}
}

func TestForecastTrendDirection(t *testing.T) {
	p := NewPredictiveProcessor(processorConfig())

	rising := []*chain.MempoolStats{
		mempoolStats(899996, 10, nil),
		mempoolStats(899997, 12, nil),
		mempoolStats(899998, 14, nil),
		mempoolStats(899999, 16, nil),
	}
	forecast := p.ForecastNextBlockFees(rising, mempoolStats(900000, 18, nil))

	if forecast.Prediction <= 10 || forecast.Prediction >= 18 {
		t.Errorf("smoothed prediction should lie inside the series range, got %.2f", forecast.Prediction)
	}
}

func TestFeeForecastSignal(t *testing.T) {
	p := NewPredictiveProcessor(processorConfig())
	current := mempoolStats(900000, 30, nil)
	history := []*chain.MempoolStats{
		mempoolStats(899998, 10, nil),
		mempoolStats(899999, 20, nil),
	}

	sig := p.FeeForecastSignal(history, current)

	if !sig.IsPredictive {
		t.Error("fee forecast must be marked predictive")
	}
	if sig.PredictionInterval == nil {
		t.Fatal("fee forecast must carry a prediction interval")
	}
	if sig.PredictionInterval.Lower > sig.PredictionInterval.Upper {
		t.Errorf("interval inverted: [%.2f, %.2f]", sig.PredictionInterval.Lower, sig.PredictionInterval.Upper)
	}

	meta := sig.Metadata.(PredictiveMetadata)
	if meta.Kind != PredictiveFeeForecast {
		t.Errorf("got kind %q, want %q", meta.Kind, PredictiveFeeForecast)
	}
	if meta.HorizonBlocks != 1 {
		t.Errorf("fee forecasts look one block ahead, got %d", meta.HorizonBlocks)
	}

	// strength = |18.1 - 30| / 30
	if !floatEquals(sig.Strength, 11.9/30, 0.001) {
		t.Errorf("got strength %.4f, want %.4f", sig.Strength, 11.9/30)
	}
}

func TestLiquidityPressureIndex(t *testing.T) {
	tests := []struct {
		name        string
		currentNet  float64
		historyNet  []float64
		check       func(float64) bool
		description string
	}{
		{
			name:        "no history is neutral",
			currentNet:  500,
			historyNet:  nil,
			check:       func(v float64) bool { return floatEquals(v, 0.5, 0.001) },
			description: "Without history the z-score is 0 and the index sits at neutral",
		},
		{
			name:        "heavy inflow reads as selling",
			currentNet:  500,
			historyNet:  []float64{0, 10, -10, 5, -5},
			check:       func(v float64) bool { return v < 0.2 },
			description: "Coins flooding onto exchanges push the index toward 0",
		},
		{
			name:        "heavy outflow reads as buying",
			currentNet:  -500,
			historyNet:  []float64{0, 10, -10, 5, -5},
			check:       func(v float64) bool { return v > 0.8 },
			description: "Coins leaving exchanges push the index toward 1",
		},
		{
			name:        "index stays within bounds",
			currentNet:  1e12,
			historyNet:  []float64{0, 1, -1},
			check:       func(v float64) bool { return v >= 0 && v <= 1 },
			description: "The bounded transform never escapes [0,1]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LiquidityPressureIndex(tt.currentNet, tt.historyNet)
			if !tt.check(got) {
				t.Errorf("%s: index %.4f fails the expectation", tt.description, got)
			}
		})
	}
}

func TestPressureLevel(t *testing.T) {
	tests := []struct {
		index    float64
		expected string
	}{
		{0.05, PressureHighSelling},
		{0.19, PressureHighSelling},
		{0.2, PressureSelling},
		{0.44, PressureSelling},
		{0.45, PressureNeutral},
		{0.5, PressureNeutral},
		{0.55, PressureNeutral},
		{0.56, PressureBuying},
		{0.8, PressureBuying},
		{0.81, PressureHighBuying},
		{0.99, PressureHighBuying},
	}

	for _, tt := range tests {
		if got := PressureLevel(tt.index); got != tt.expected {
			t.Errorf("PressureLevel(%.2f) = %q, want %q", tt.index, got, tt.expected)
		}
	}
}

func TestLiquidityPressureSignal(t *testing.T) {
	p := NewPredictiveProcessor(processorConfig())

	current := entityFlow(900000, 600, 100) // net +500 onto the exchange
	history := flowHistory([]float64{10, 5, 15, 10, 10}, []float64{10, 10, 10, 5, 15})

	sig := p.LiquidityPressureSignal(current, history)

	if !sig.IsPredictive {
		t.Error("liquidity pressure must be marked predictive")
	}

	meta := sig.Metadata.(PredictiveMetadata)
	if meta.Kind != PredictiveLiquidityPressure {
		t.Errorf("got kind %q, want %q", meta.Kind, PredictiveLiquidityPressure)
	}
	if meta.PressureIndex >= 0.5 {
		t.Errorf("large net inflow should read as selling pressure, index %.4f", meta.PressureIndex)
	}
	if meta.PressureLevel != PressureHighSelling && meta.PressureLevel != PressureSelling {
		t.Errorf("got level %q for a strong inflow", meta.PressureLevel)
	}
	if meta.HorizonBlocks != 6 {
		t.Errorf("liquidity pressure looks six blocks ahead, got %d", meta.HorizonBlocks)
	}
	if sig.Strength <= 0 {
		t.Error("a skewed index must produce nonzero strength")
	}
}

func TestPredictionAccuracy(t *testing.T) {
	tests := []struct {
		name        string
		predicted   float64
		actual      float64
		expected    float64
		description string
	}{
		{
			name:        "perfect prediction",
			predicted:   20,
			actual:      20,
			expected:    1.0,
			description: "No error scores a perfect 1.0",
		},
		{
			name:        "ten percent error",
			predicted:   22,
			actual:      20,
			expected:    0.9,
			description: "Accuracy falls linearly with relative error",
		},
		{
			name:        "error equal to actual",
			predicted:   40,
			actual:      20,
			expected:    0.0,
			description: "A 100% miss floors at 0",
		},
		{
			name:        "error beyond actual clamps",
			predicted:   100,
			actual:      20,
			expected:    0.0,
			description: "Worse than a 100% miss still scores 0, never negative",
		},
		{
			name:        "both zero",
			predicted:   0,
			actual:      0,
			expected:    1.0,
			description: "Predicting zero when zero happens is a perfect score",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PredictionAccuracy(tt.predicted, tt.actual)
			if !floatEquals(got, tt.expected, 0.001) {
				t.Errorf("%s: got %.4f, want %.4f", tt.description, got, tt.expected)
			}
		})
	}
}
