package telephony

import "math"

// Per-unit provider rates in dollars.
const (
	callPricePerMinute = 0.0085
	ttsPricePerChar    = 0.00018
)

// EstimateCallCost prices a finished call leg. Carriers bill per
// started minute.
func EstimateCallCost(durationSeconds int) float64 {
	if durationSeconds <= 0 {
		return 0
	}
	minutes := math.Ceil(float64(durationSeconds) / 60)
	return minutes * callPricePerMinute
}

// EstimateTTSCost prices one synthesized reply by character count.
func EstimateTTSCost(text string) float64 {
	return float64(len(text)) * ttsPricePerChar
}
