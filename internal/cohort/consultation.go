package cohort

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/Nabil-E-projet/MediNLP/internal/sampling"
)

const (
	recentWindowDays = 5 * 365
	fullWindowDays   = 20 * 365
	recentP          = 0.7
)

// Consultation draws the consultation attached to p. today is the reference
// date; the result is never later than today.
func (g *Generator) Consultation(rng *rand.Rand, p Profile, today time.Time) (Consultation, error) {
	var daysAgo int
	if sampling.Bernoulli(rng, recentP) {
		daysAgo = sampling.IntBetween(rng, 0, recentWindowDays)
	} else {
		daysAgo = sampling.IntBetween(rng, recentWindowDays, fullWindowDays)
	}

	diseaseType, err := Classify(p.Disease)
	if err != nil {
		return Consultation{}, fmt.Errorf("%w: %v", sampling.ErrConfiguration, err)
	}
	if p.DiseaseType != "" && p.DiseaseType != diseaseType {
		return Consultation{}, fmt.Errorf("%w: profile type %q does not match %q (%s)",
			sampling.ErrConfiguration, p.DiseaseType, p.Disease, diseaseType)
	}

	treatment, err := g.tables.TreatmentByType.Draw(rng, diseaseType)
	if err != nil {
		return Consultation{}, err
	}
	response, err := g.tables.ResponseByTreatment.Draw(rng, treatment)
	if err != nil {
		return Consultation{}, err
	}
	sideEffects, err := g.SideEffects(rng, treatment)
	if err != nil {
		return Consultation{}, err
	}

	return Consultation{
		Date:        truncateDay(today).AddDate(0, 0, -daysAgo),
		Treatment:   treatment,
		SideEffects: sideEffects,
		Response:    response,
	}, nil
}

// SideEffects draws the side effects of one consultation under treatment.
// The table's "Aucun" share is the probability of having none; otherwise
// 1 to 3 distinct candidates are picked uniformly, not by their weights.
func (g *Generator) SideEffects(rng *rand.Rand, treatment Treatment) ([]string, error) {
	table, err := g.tables.SideEffectsByTreatment.Lookup(treatment)
	if err != nil {
		return nil, err
	}

	var noneWeight float64
	candidates := make([]string, 0, table.Len())
	for _, e := range table.Entries() {
		if e.Label == NoSideEffect {
			noneWeight += e.Weight
			continue
		}
		candidates = append(candidates, e.Label)
	}

	pSideEffect := 1 - noneWeight/table.Total()
	if len(candidates) == 0 || !sampling.Bernoulli(rng, pSideEffect) {
		return []string{}, nil
	}

	count := min(g.tables.SideEffectCount.Draw(rng), len(candidates))
	return sampling.SampleDistinct(rng, candidates, count), nil
}

// truncateDay keeps the calendar day of t, as a UTC midnight.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
