package cohort

import (
	"fmt"

	"github.com/Nabil-E-projet/MediNLP/internal/sampling"
)

// AgeBracket is an inclusive age range.
type AgeBracket struct {
	Min int
	Max int
}

// Tables holds every weight table the generator draws from. Conditioned
// tables are keyed by the closed sets DiseaseTypes and Treatments.
type Tables struct {
	Diagnosis              sampling.Table[Disease]
	AgeBrackets            sampling.Table[AgeBracket]
	SexByType              sampling.Conditioned[DiseaseType, Sex]
	TreatmentByType        sampling.Conditioned[DiseaseType, Treatment]
	ResponseByTreatment    sampling.Conditioned[Treatment, Response]
	SideEffectsByTreatment sampling.Conditioned[Treatment, string]
	SideEffectCount        sampling.Table[int]
}

// Validate checks the tables for completeness over the closed key sets, so a
// missing key fails at startup instead of mid-run.
func (t Tables) Validate() error {
	if t.Diagnosis.Len() == 0 {
		return fmt.Errorf("%w: diagnosis table is empty", sampling.ErrConfiguration)
	}
	for _, e := range t.Diagnosis.Entries() {
		if _, err := Classify(e.Label); err != nil {
			return fmt.Errorf("%w: %v", sampling.ErrConfiguration, err)
		}
	}
	if t.AgeBrackets.Len() == 0 {
		return fmt.Errorf("%w: age bracket table is empty", sampling.ErrConfiguration)
	}
	for _, e := range t.AgeBrackets.Entries() {
		b := e.Label
		if b.Min < MinAge || b.Max > MaxAge || b.Min > b.Max {
			return fmt.Errorf("%w: age bracket [%d, %d] outside [%d, %d]", sampling.ErrConfiguration, b.Min, b.Max, MinAge, MaxAge)
		}
	}
	if t.SideEffectCount.Len() == 0 {
		return fmt.Errorf("%w: side effect count table is empty", sampling.ErrConfiguration)
	}
	if err := t.SexByType.Validate(DiseaseTypes...); err != nil {
		return err
	}
	if err := t.TreatmentByType.Validate(DiseaseTypes...); err != nil {
		return err
	}
	if err := t.ResponseByTreatment.Validate(Treatments...); err != nil {
		return err
	}
	return t.SideEffectsByTreatment.Validate(Treatments...)
}

const (
	MinAge = 15
	MaxAge = 80
)

// DefaultTables returns the reference weight tables. The values are
// illustrative constants, not validated epidemiology.
func DefaultTables() Tables {
	e := sampling.E[Disease]
	return Tables{
		Diagnosis: sampling.MustTable(
			e(CrohnIleoColic, 0.24),
			e(CrohnColic, 0.18),
			e(CrohnIleal, 0.18),
			e(RCHExtensive, 0.14),
			e(RCHDistal, 0.26),
			e(MICIUndetermined, 0.05),
		),
		AgeBrackets: sampling.MustTable(
			sampling.E(AgeBracket{15, 29}, 0.35),
			sampling.E(AgeBracket{30, 44}, 0.20),
			sampling.E(AgeBracket{45, 59}, 0.25),
			sampling.E(AgeBracket{60, 80}, 0.20),
		),
		SexByType: sampling.NewConditioned("sex by disease type", map[DiseaseType]sampling.Table[Sex]{
			TypeCrohn: sexTable(0.48, 0.52),
			TypeRCH:   sexTable(0.50, 0.50),
			TypeMICI:  sexTable(0.49, 0.51),
		}),
		TreatmentByType: sampling.NewConditioned("treatment by disease type", map[DiseaseType]sampling.Table[Treatment]{
			TypeCrohn: treatmentTable(0.25, 0.30, 0.15, 0.15, 0.14, 0.01),
			TypeRCH:   treatmentTable(0.30, 0.20, 0.15, 0.05, 0.15, 0.15),
			TypeMICI:  treatmentTable(0.25, 0.25, 0.15, 0.10, 0.15, 0.10),
		}),
		ResponseByTreatment: sampling.NewConditioned("response by treatment", map[Treatment]sampling.Table[Response]{
			Infliximab:   responseTable(0.60, 0.25, 0.10, 0.05),
			Adalimumab:   responseTable(0.55, 0.25, 0.15, 0.05),
			Vedolizumab:  responseTable(0.50, 0.30, 0.15, 0.05),
			Ustekinumab:  responseTable(0.45, 0.30, 0.20, 0.05),
			Azathioprine: responseTable(0.45, 0.30, 0.20, 0.05),
			Mesalazine:   responseTable(0.64, 0.25, 0.08, 0.03),
		}),
		SideEffectsByTreatment: sampling.NewConditioned("side effects by treatment", map[Treatment]sampling.Table[string]{
			Infliximab: sideEffectTable(
				se("Infections", 0.15), se("Céphalées", 0.10), se("Réactions Cutanées", 0.05),
				se("Fatigue", 0.05), se("Douleurs articulaires", 0.03), se("Nausées", 0.02), se(NoSideEffect, 0.60),
			),
			Adalimumab: sideEffectTable(
				se("Infections", 0.12), se("Réactions Cutanées", 0.15), se("Céphalées", 0.08),
				se("Fatigue", 0.04), se("Douleurs articulaires", 0.05), se(NoSideEffect, 0.56),
			),
			Vedolizumab: sideEffectTable(
				se("Infections", 0.08), se("Céphalées", 0.12), se("Fatigue", 0.10),
				se("Nausées", 0.07), se("Arthralgie", 0.03), se(NoSideEffect, 0.60),
			),
			Ustekinumab: sideEffectTable(
				se("Infections", 0.10), se("Céphalées", 0.08), se("Fatigue", 0.05),
				se("Nausées", 0.04), se("Douleurs articulaires", 0.03), se(NoSideEffect, 0.70),
			),
			Azathioprine: sideEffectTable(
				se("Nausées", 0.15), se("Fatigue", 0.10), se("Infections", 0.08),
				se("Douleurs abdominales", 0.07), se("Fièvre", 0.05), se(NoSideEffect, 0.55),
			),
			Mesalazine: sideEffectTable(
				se("Douleurs abdominales", 0.08), se("Nausées", 0.07), se("Céphalées", 0.05),
				se("Diarrhée", 0.03), se("Éruptions cutanées", 0.02), se(NoSideEffect, 0.75),
			),
		}),
		// applies to every treatment
		SideEffectCount: sampling.MustTable(
			sampling.E(1, 0.7),
			sampling.E(2, 0.2),
			sampling.E(3, 0.1),
		),
	}
}

func sexTable(male, female float64) sampling.Table[Sex] {
	return sampling.MustTable(sampling.E(SexMale, male), sampling.E(SexFemale, female))
}

// treatmentTable takes weights in Treatments order.
func treatmentTable(weights ...float64) sampling.Table[Treatment] {
	entries := make([]sampling.Entry[Treatment], len(weights))
	for i, w := range weights {
		entries[i] = sampling.E(Treatments[i], w)
	}
	return sampling.MustTable(entries...)
}

// responseTable takes weights in Responses order.
func responseTable(weights ...float64) sampling.Table[Response] {
	entries := make([]sampling.Entry[Response], len(weights))
	for i, w := range weights {
		entries[i] = sampling.E(Responses[i], w)
	}
	return sampling.MustTable(entries...)
}

func se(label string, weight float64) sampling.Entry[string] {
	return sampling.E(label, weight)
}

func sideEffectTable(entries ...sampling.Entry[string]) sampling.Table[string] {
	return sampling.MustTable(entries...)
}
