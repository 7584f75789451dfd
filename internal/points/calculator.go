package points

import (
	"math"
	"math/big"
	"strings"
	"time"

	"lock-points-system/internal/config"
)

const secondsPerDay = 24 * 60 * 60

// Calculator turns a locked amount, a lock duration and an optional USD
// price into a point award. It holds no state besides its parameters.
type Calculator struct {
	USDMultiplier         float64
	FallbackMultiplier    float64
	PeriodDays            float64
	MinDurationDays       int
	EstimatedDurationDays int
}

type Award struct {
	UsdValue     float64
	PointsEarned float64
	DurationDays int
}

// Duration is a lock duration in whole days. Estimated is set when the
// value was derived from the unlock time alone.
type Duration struct {
	Days      int
	Estimated bool
}

func NewCalculator(cfg *config.PointsConfig) *Calculator {
	return &Calculator{
		USDMultiplier:         cfg.USDMultiplier,
		FallbackMultiplier:    cfg.FallbackMultiplier,
		PeriodDays:            cfg.PeriodDays,
		MinDurationDays:       cfg.MinDurationDays,
		EstimatedDurationDays: cfg.EstimatedDurationDays,
	}
}

// Compute applies the award formula. priced=false means no USD price is
// known and the token-amount fallback is used.
func (c *Calculator) Compute(tokenAmount float64, durationDays int, usdPrice float64, priced bool) Award {
	if durationDays < c.MinDurationDays {
		durationDays = c.MinDurationDays
	}

	var usdValue float64
	if priced {
		usdValue = tokenAmount * usdPrice
	}

	periods := float64(durationDays) / c.PeriodDays

	var earned float64
	if usdValue > 0 {
		earned = usdValue * periods * c.USDMultiplier
	} else {
		earned = tokenAmount * periods * c.FallbackMultiplier
	}

	return Award{
		UsdValue:     usdValue,
		PointsEarned: Round2(earned),
		DurationDays: durationDays,
	}
}

// EstimateDuration guesses the duration of a lock whose creation time was
// never recorded: creation is assumed EstimatedDurationDays before unlock.
func (c *Calculator) EstimateDuration(unlockTime time.Time) Duration {
	createdAt := unlockTime.Add(-time.Duration(c.EstimatedDurationDays) * secondsPerDay * time.Second)
	seconds := unlockTime.Unix() - createdAt.Unix()
	return Duration{Days: c.floorDays(seconds), Estimated: true}
}

// ExactDuration converts a requested lock duration in seconds.
func (c *Calculator) ExactDuration(seconds int64) Duration {
	return Duration{Days: c.floorDays(seconds), Estimated: false}
}

func (c *Calculator) floorDays(seconds int64) int {
	if seconds < 0 {
		seconds = 0
	}
	days := int(seconds / secondsPerDay)
	if days < c.MinDurationDays {
		days = c.MinDurationDays
	}
	return days
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// TokenAmount converts a raw amount in the token's smallest unit to whole
// tokens.
func TokenAmount(raw *big.Int, decimals uint8) float64 {
	if raw == nil || raw.Sign() == 0 {
		return 0
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	amount, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), scale).Float64()
	return amount
}

// FormatTokenAmount renders a raw amount as an exact decimal string.
func FormatTokenAmount(raw *big.Int, decimals uint8) string {
	if raw == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(raw, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	return trimZeros(r.FloatString(int(decimals)))
}

func trimZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	return strings.TrimSuffix(strings.TrimRight(s, "0"), ".")
}
