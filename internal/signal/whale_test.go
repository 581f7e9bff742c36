package signal

import (
	"testing"
	"time"

	"github.com/chainpulse/chainpulse/internal/chain"
)

func addressActivity(height int64, balance, dailyChange float64) *chain.AddressActivity {
	return &chain.AddressActivity{
		Address:     "bc1q-whale-one",
		BlockHeight: height,
		Timestamp:   time.Unix(1756700000+height, 0),
		Balance:     balance,
		DailyChange: dailyChange,
	}
}

func activityHistory(changes ...float64) []*chain.AddressActivity {
	history := make([]*chain.AddressActivity, len(changes))
	for i, c := range changes {
		history[i] = addressActivity(int64(899900+i), 10000, c)
	}
	return history
}

func TestAccumulationStreak(t *testing.T) {
	tests := []struct {
		name        string
		current     *chain.AddressActivity
		history     []*chain.AddressActivity
		expected    int
		description string
	}{
		{
			name:        "no change no streak",
			current:     addressActivity(900000, 10000, 0),
			history:     activityHistory(50, 60, 70),
			expected:    0,
			description: "A zero current change cannot anchor a streak",
		},
		{
			name:        "lone positive day",
			current:     addressActivity(900000, 10000, 50),
			history:     nil,
			expected:    1,
			description: "The current day alone counts as a streak of one",
		},
		{
			name:        "three day accumulation",
			current:     addressActivity(900000, 10000, 50),
			history:     activityHistory(-10, 30, 40),
			expected:    3,
			description: "Two positive trailing days plus the current day",
		},
		{
			name:        "sign flip breaks streak",
			current:     addressActivity(900000, 10000, 50),
			history:     activityHistory(30, -20, 40),
			expected:    2,
			description: "The streak stops at the most recent sign change",
		},
		{
			name:        "zero change breaks streak",
			current:     addressActivity(900000, 10000, 50),
			history:     activityHistory(30, 0, 40),
			expected:    2,
			description: "A flat day interrupts the run",
		},
		{
			name:        "distribution streak",
			current:     addressActivity(900000, 10000, -50),
			history:     activityHistory(-10, -20, -30),
			expected:    4,
			description: "Negative streaks count the same way",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AccumulationStreak(tt.current, tt.history)
			if got != tt.expected {
				t.Errorf("%s: got %d, want %d", tt.description, got, tt.expected)
			}
		})
	}
}

func TestWhaleProcessStrength(t *testing.T) {
	p := NewWhaleProcessor(processorConfig())

	// Seven-day streak saturates the streak component; a z-score at twice
	// the cutoff saturates the change component. Together they hit 1.0.
	history := activityHistory(10, 10, 10, 12, 8, 10)
	current := addressActivity(900000, 10000, 60)

	sig := p.Process(current, history)
	meta := sig.Metadata.(WhaleMetadata)

	if meta.StreakDays != 7 {
		t.Fatalf("got streak %d, want 7", meta.StreakDays)
	}
	if !floatEquals(sig.Strength, 1.0, 0.001) {
		t.Errorf("saturated streak and z-score should give strength 1.0, got %.4f (z=%.2f)", sig.Strength, meta.ZScore)
	}
	if !sig.IsAnomaly {
		t.Error("a z-score far past the cutoff must flag an anomaly")
	}
	if meta.AnomalyType != "accumulation_streak" {
		t.Errorf("got anomaly type %q, want accumulation_streak", meta.AnomalyType)
	}
}

func TestWhaleProcessDistribution(t *testing.T) {
	p := NewWhaleProcessor(processorConfig())

	history := activityHistory(-10, -10, -10, -12, -8, -10)
	current := addressActivity(900000, 10000, -60)

	sig := p.Process(current, history)
	meta := sig.Metadata.(WhaleMetadata)

	if meta.AnomalyType != "distribution_streak" {
		t.Errorf("got anomaly type %q, want distribution_streak", meta.AnomalyType)
	}
	if meta.ZScore >= 0 {
		t.Errorf("heavy selling should z-score negative, got %.2f", meta.ZScore)
	}
}

func TestWhaleProcessQuietHistory(t *testing.T) {
	p := NewWhaleProcessor(processorConfig())

	// Short history: no z-score, strength comes from the streak alone
	sig := p.Process(addressActivity(900000, 10000, 50), activityHistory(40))
	meta := sig.Metadata.(WhaleMetadata)

	if meta.ZScore != 0 {
		t.Errorf("one history point defines z as 0, got %.2f", meta.ZScore)
	}
	if sig.IsAnomaly {
		t.Error("no anomaly can fire without enough history")
	}
	// streak 2 of 7 weighted at 0.6
	want := 0.6 * (2.0 / 7.0)
	if !floatEquals(sig.Strength, want, 0.001) {
		t.Errorf("got strength %.4f, want %.4f from the streak component alone", sig.Strength, want)
	}
}
