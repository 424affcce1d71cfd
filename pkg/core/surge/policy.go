package surge

import (
	"fmt"
	"math"
)

// NoSurge is the multiplier applied when no storm is active
const NoSurge = 1.0

// Step maps every snowfall strictly below BelowInches (and at or above the
// previous step) to Multiplier
type Step struct {
	BelowInches float64
	Multiplier  float64
}

// Policy is the snowfall -> multiplier table.
// Multiplier is a pure function of its input; the table is the only state.
type Policy struct {
	// MinInches is the forecast threshold below which no storm event is created
	MinInches float64
	// Steps must be sorted by BelowInches ascending
	Steps []Step
	// Ceiling applies at or above the last step's BelowInches
	Ceiling float64
}

// DefaultPolicy returns the table used when the configuration does not override it:
// <8in -> 1.5, <10in -> 1.75, <12in -> 2.0, otherwise 2.0
func DefaultPolicy() Policy {
	return Policy{
		MinInches: 4,
		Steps: []Step{
			{BelowInches: 8, Multiplier: 1.5},
			{BelowInches: 10, Multiplier: 1.75},
			{BelowInches: 12, Multiplier: 2.0},
		},
		Ceiling: 2.0,
	}
}

// Qualifies reports whether a forecast is heavy enough to create a storm event
func (p Policy) Qualifies(inches float64) bool {
	return !math.IsNaN(inches) && inches >= p.MinInches
}

// Multiplier returns the surge multiplier for the given forecast snowfall
func (p Policy) Multiplier(inches float64) float64 {
	if !p.Qualifies(inches) {
		return NoSurge
	}
	for _, step := range p.Steps {
		if inches < step.BelowInches {
			return step.Multiplier
		}
	}
	return p.Ceiling
}

// Validate checks the table is well formed and monotonically non-decreasing
func (p Policy) Validate() error {
	if p.MinInches <= 0 {
		return fmt.Errorf("minInches must be positive, got %v", p.MinInches)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("at least one surge step is required")
	}

	prevBelow := p.MinInches
	prevMult := NoSurge
	for i, step := range p.Steps {
		if step.BelowInches <= prevBelow {
			return fmt.Errorf("steps[%d].belowInches %v must be greater than %v", i, step.BelowInches, prevBelow)
		}
		if step.Multiplier < prevMult {
			return fmt.Errorf("steps[%d].multiplier %v is lower than the previous step (%v)", i, step.Multiplier, prevMult)
		}
		prevBelow = step.BelowInches
		prevMult = step.Multiplier
	}

	if p.Ceiling < prevMult {
		return fmt.Errorf("ceiling %v is lower than the last step multiplier %v", p.Ceiling, prevMult)
	}
	return nil
}
