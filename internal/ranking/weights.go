package ranking

import "fmt"

// WeightSet is a versioned set of scoring weights. Every ranking pass
// receives its own copy so concurrent passes with different weight versions
// stay reproducible; the learning loop publishes a new version instead of
// mutating a shared one.
type WeightSet struct {
	Version      int     `mapstructure:"version"`
	Required     float64 `mapstructure:"required-skills"`
	NiceToHave   float64 `mapstructure:"nice-to-have"`
	Location     float64 `mapstructure:"location"`
	Compensation float64 `mapstructure:"compensation"`
	Experience   float64 `mapstructure:"experience"`
}

// DefaultWeights returns the built-in weight set. Required-skill coverage
// carries the highest weight.
func DefaultWeights() WeightSet {
	return WeightSet{
		Version:      1,
		Required:     0.45,
		NiceToHave:   0.15,
		Location:     0.20,
		Compensation: 0.10,
		Experience:   0.10,
	}
}

// Validate checks the weights are usable: non-negative and with a positive sum.
func (w WeightSet) Validate() error {
	for name, value := range w.components() {
		if value < 0 {
			return fmt.Errorf("weight %s must not be negative", name)
		}
	}

	if w.total() <= 0 {
		return fmt.Errorf("weights must sum to a positive value")
	}

	return nil
}

func (w WeightSet) total() float64 {
	return w.Required + w.NiceToHave + w.Location + w.Compensation + w.Experience
}

func (w WeightSet) components() map[string]float64 {
	return map[string]float64{
		componentRequired:     w.Required,
		componentNiceToHave:   w.NiceToHave,
		componentLocation:     w.Location,
		componentCompensation: w.Compensation,
		componentExperience:   w.Experience,
	}
}
