package cohort

import (
	"fmt"
	"math/rand/v2"

	"github.com/Nabil-E-projet/MediNLP/internal/sampling"
)

const (
	maxDurationYears = 20
	durationPeak     = 6
	earlyDurationP   = 0.7
)

// Profile draws the patient profile for id.
func (g *Generator) Profile(rng *rand.Rand, id int) (Profile, error) {
	disease := g.tables.Diagnosis.Draw(rng)
	diseaseType, err := Classify(disease)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", sampling.ErrConfiguration, err)
	}

	sex, err := g.tables.SexByType.Draw(rng, diseaseType)
	if err != nil {
		return Profile{}, err
	}

	bracket := g.tables.AgeBrackets.Draw(rng)
	age := sampling.IntBetween(rng, bracket.Min, bracket.Max)

	return Profile{
		ID:            id,
		Age:           age,
		Sex:           sex,
		Disease:       disease,
		DiseaseType:   diseaseType,
		DurationYears: DrawDuration(rng, age),
	}, nil
}

// DrawDuration draws the disease duration in years for a patient of the given
// age. The result is in [1, max(1, min(20, age-15))]: durations up to
// min(6, max/2) get 70% of the mass, the remaining tail gets 30%.
func DrawDuration(rng *rand.Rand, age int) int {
	maxDuration := min(maxDurationYears, age-MinAge)
	if maxDuration <= 0 {
		return 1
	}
	mid := min(durationPeak, maxDuration/2)
	if mid < 1 {
		return 1
	}
	if sampling.Bernoulli(rng, earlyDurationP) {
		return sampling.IntBetween(rng, 1, mid)
	}
	if mid+1 > maxDuration {
		return maxDuration
	}
	return sampling.IntBetween(rng, mid+1, maxDuration)
}
