package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestWeights_Clamp verifies range clamping
// Given: Weights inside, above and below the allowed ranges
// When: Clamp is called
// Then: Each weight lands in its range
func TestWeights_Clamp(t *testing.T) {
	tests := []struct {
		name string
		in   Weights
		want Weights
	}{
		{"default untouched", DefaultWeights(), Weights{5, 3, 1}},
		{"upper bounds", Weights{99, 99, 99}, Weights{10, 8, 5}},
		{"lower bounds", Weights{0, -4, 0}, Weights{1, 1, 1}},
		{"mixed", Weights{11, 8, 0}, Weights{10, 8, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Clamp())
		})
	}
}

func TestWeights_String(t *testing.T) {
	assert.Equal(t, "WRR[5:3:1] (55.6%:33.3%:11.1%)", DefaultWeights().String())
	assert.Equal(t, 9, DefaultWeights().Total())
}

// TestCreditAllocator_ReplenishAndSpend verifies per-tick credit accounting
// Given: An allocator with default weights
// When: Credits are replenished and spent
// Then: Balances follow the weights and never go negative
func TestCreditAllocator_ReplenishAndSpend(t *testing.T) {
	a := NewCreditAllocator(DefaultWeights())

	w := a.Replenish()
	assert.Equal(t, DefaultWeights(), w)
	assert.Equal(t, 5, a.Credits(PriorityHigh))
	assert.Equal(t, 3, a.Credits(PriorityNormal))
	assert.Equal(t, 1, a.Credits(PriorityLow))

	assert.True(t, a.Spend(PriorityLow))
	assert.False(t, a.Spend(PriorityLow), "credits must not go negative")
	assert.False(t, a.Has(PriorityLow))
	assert.Equal(t, 8, a.Unspent())

	a.Reset()
	assert.Equal(t, 0, a.Unspent())
}

// TestCreditAllocator_ConfigureAppliesOnNextReplenish verifies configuration timing
// Given: An allocator in the middle of a tick
// When: New weights are configured
// Then: Current credits are kept until the next replenish
func TestCreditAllocator_ConfigureAppliesOnNextReplenish(t *testing.T) {
	a := NewCreditAllocator(DefaultWeights())
	a.Replenish()

	got := a.Configure(Weights{High: 20, Normal: 2, Low: 0})
	assert.Equal(t, Weights{10, 2, 1}, got)
	assert.Equal(t, 5, a.Credits(PriorityHigh), "current credits are untouched")

	a.Replenish()
	assert.Equal(t, 10, a.Credits(PriorityHigh))
}

// TestCreditAllocator_Redistribute verifies the even split of unspent credits
// Given: Various spend and pending patterns
// When: Redistribute runs
// Then: Credits go only to pending classes with the remainder from HIGH
func TestCreditAllocator_Redistribute(t *testing.T) {
	tests := []struct {
		name    string
		spend   [numPriorities]int
		pending [numPriorities]bool
		want    [numPriorities]int
	}{
		{
			name:    "all to low",
			spend:   [numPriorities]int{0, 0, 1},
			pending: [numPriorities]bool{false, false, true},
			want:    [numPriorities]int{0, 0, 8},
		},
		{
			name:    "remainder starts at high",
			spend:   [numPriorities]int{0, 0, 1},
			pending: [numPriorities]bool{true, true, true},
			want:    [numPriorities]int{3, 3, 2},
		},
		{
			name:    "fewer credits than classes",
			spend:   [numPriorities]int{5, 2, 1},
			pending: [numPriorities]bool{false, true, true},
			want:    [numPriorities]int{0, 1, 0},
		},
		{
			name:    "nothing pending",
			spend:   [numPriorities]int{1, 1, 1},
			pending: [numPriorities]bool{},
			want:    [numPriorities]int{},
		},
		{
			name:    "nothing unspent",
			spend:   [numPriorities]int{5, 3, 1},
			pending: [numPriorities]bool{true, true, true},
			want:    [numPriorities]int{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewCreditAllocator(DefaultWeights())
			a.Replenish()
			for _, p := range Priorities {
				for i := 0; i < tt.spend[p]; i++ {
					a.Spend(p)
				}
			}
			assert.Equal(t, tt.want, a.Redistribute(tt.pending))
			assert.Equal(t, 0, a.Unspent())
		})
	}
}
