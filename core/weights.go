package core

import (
	"fmt"
	"strings"
)

// Allowed weight ranges per class.
const (
	MinWeight       = 1
	MaxHighWeight   = 10
	MaxNormalWeight = 8
	MaxLowWeight    = 5
)

// Weights is the number of credits each class receives per tick.
type Weights struct {
	High   int
	Normal int
	Low    int
}

// DefaultWeights returns the 5:3:1 split.
func DefaultWeights() Weights {
	return Weights{High: 5, Normal: 3, Low: 1}
}

// BalancedWeights gives every class the same share.
func BalancedWeights() Weights {
	return Weights{High: 1, Normal: 1, Low: 1}
}

// HighPriorityFocusedWeights favours HIGH three to one.
func HighPriorityFocusedWeights() Weights {
	return Weights{High: 3, Normal: 1, Low: 1}
}

// BackgroundFocusedWeights favours LOW three to one.
func BackgroundFocusedWeights() Weights {
	return Weights{High: 1, Normal: 1, Low: 3}
}

// WeightPreset returns the weights named by preset: "default",
// "balanced", "high-priority" or "background".
func WeightPreset(preset string) (Weights, error) {
	switch strings.ToLower(strings.TrimSpace(preset)) {
	case "default":
		return DefaultWeights(), nil
	case "balanced":
		return BalancedWeights(), nil
	case "high-priority", "high_priority", "highpriority":
		return HighPriorityFocusedWeights(), nil
	case "background":
		return BackgroundFocusedWeights(), nil
	default:
		return Weights{}, fmt.Errorf("unknown weight preset %q", preset)
	}
}

// Clamp bounds each weight into its allowed range.
func (w Weights) Clamp() Weights {
	return Weights{
		High:   clampInt(w.High, MinWeight, MaxHighWeight),
		Normal: clampInt(w.Normal, MinWeight, MaxNormalWeight),
		Low:    clampInt(w.Low, MinWeight, MaxLowWeight),
	}
}

func (w Weights) Total() int {
	return w.High + w.Normal + w.Low
}

// Of returns the weight of class p.
func (w Weights) Of(p Priority) int {
	switch p {
	case PriorityHigh:
		return w.High
	case PriorityNormal:
		return w.Normal
	case PriorityLow:
		return w.Low
	default:
		return 0
	}
}

// Share returns the percentage of a full tick that class p is entitled to.
func (w Weights) Share(p Priority) float64 {
	total := w.Total()
	if total == 0 {
		return 0
	}
	return float64(w.Of(p)) / float64(total) * 100
}

func (w Weights) String() string {
	return fmt.Sprintf("WRR[%d:%d:%d] (%.1f%%:%.1f%%:%.1f%%)",
		w.High, w.Normal, w.Low,
		w.Share(PriorityHigh), w.Share(PriorityNormal), w.Share(PriorityLow))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
