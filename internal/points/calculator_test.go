package points

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"lock-points-system/internal/config"
)

func newTestCalculator() *Calculator {
	return NewCalculator(&config.PointsConfig{
		USDMultiplier:         100,
		FallbackMultiplier:    0.1,
		PeriodDays:            30,
		MinDurationDays:       1,
		EstimatedDurationDays: 30,
	})
}

func TestComputeFormula(t *testing.T) {
	c := newTestCalculator()

	tests := []struct {
		name      string
		amount    float64
		days      int
		price     float64
		priced    bool
		wantUSD   float64
		wantPoint float64
	}{
		{"priced thirty days", 100, 30, 2.0, true, 200, 20000.00},
		{"unpriced thirty days", 100, 30, 0, false, 0, 10.00},
		{"priced fifteen days", 50, 15, 1.0, true, 50, 2500.00},
		{"zero price uses fallback", 100, 30, 0, true, 0, 10.00},
		{"unpriced zero amount", 0, 30, 0, false, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			award := c.Compute(tt.amount, tt.days, tt.price, tt.priced)
			assert.InDelta(t, tt.wantUSD, award.UsdValue, 1e-9)
			assert.Equal(t, tt.wantPoint, award.PointsEarned)
		})
	}
}

func TestComputeDurationFloor(t *testing.T) {
	c := newTestCalculator()

	award := c.Compute(30, 0, 1.0, true)
	assert.Equal(t, 1, award.DurationDays)
	assert.Equal(t, 100.00, award.PointsEarned)

	award = c.Compute(30, -5, 0, false)
	assert.Equal(t, 1, award.DurationDays)
	assert.Equal(t, 0.1, award.PointsEarned)
}

func TestComputeRoundsToCents(t *testing.T) {
	c := newTestCalculator()

	award := c.Compute(1, 7, 0.333, true)
	assert.Equal(t, 7.77, award.PointsEarned)
}

func TestEstimateDuration(t *testing.T) {
	c := newTestCalculator()

	d := c.EstimateDuration(time.Unix(1_800_000_000, 0))
	assert.Equal(t, 30, d.Days)
	assert.True(t, d.Estimated)

	c.EstimatedDurationDays = 0
	d = c.EstimateDuration(time.Unix(1_800_000_000, 0))
	assert.Equal(t, 1, d.Days)
}

func TestExactDuration(t *testing.T) {
	c := newTestCalculator()

	d := c.ExactDuration(90 * 86400)
	assert.Equal(t, 90, d.Days)
	assert.False(t, d.Estimated)

	assert.Equal(t, 1, c.ExactDuration(3600).Days)
	assert.Equal(t, 1, c.ExactDuration(-1).Days)
	assert.Equal(t, 2, c.ExactDuration(2*86400+86399).Days)
}

func TestTokenAmount(t *testing.T) {
	raw, _ := new(big.Int).SetString("1500000000000000000000", 10)
	assert.InDelta(t, 1500.0, TokenAmount(raw, 18), 1e-9)
	assert.InDelta(t, 1.5, TokenAmount(big.NewInt(1_500_000), 6), 1e-12)
	assert.Equal(t, 0.0, TokenAmount(nil, 18))
}

func TestFormatTokenAmount(t *testing.T) {
	raw, _ := new(big.Int).SetString("1500000000000000000000", 10)
	assert.Equal(t, "1500", FormatTokenAmount(raw, 18))
	assert.Equal(t, "1.5", FormatTokenAmount(big.NewInt(1_500_000), 6))
	assert.Equal(t, "0.000001", FormatTokenAmount(big.NewInt(1), 6))
	assert.Equal(t, "42", FormatTokenAmount(big.NewInt(42), 0))
	assert.Equal(t, "0", FormatTokenAmount(nil, 18))
}
