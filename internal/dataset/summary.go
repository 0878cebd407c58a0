package dataset

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/Nabil-E-projet/MediNLP/internal/cohort"
)

type Share struct {
	Label string  `json:"label"`
	Count int     `json:"count"`
	Share float64 `json:"share"`
}

// Responses are normalized by row.
type TreatmentBreakdown struct {
	Treatment      cohort.Treatment `json:"treatment"`
	Count          int              `json:"count"`
	Responses      []Share          `json:"responses"`
	SideEffectRate float64          `json:"side_effect_rate"`
}

// Summary is the distribution overview of a cohort.
type Summary struct {
	RecordCount       int                  `json:"record_count"`
	MeanAge           float64              `json:"mean_age"`
	MeanDurationYears float64              `json:"mean_duration_years"`
	Diseases          []Share              `json:"diseases"`
	DiseaseTypes      []Share              `json:"disease_types"`
	Sexes             []Share              `json:"sexes"`
	Treatments        []Share              `json:"treatments"`
	SideEffects       []Share              `json:"side_effects"`
	ByTreatment       []TreatmentBreakdown `json:"by_treatment"`
}

// Summarize computes value counts, means and the treatment/response crosstab.
func Summarize(records []cohort.Record) Summary {
	s := Summary{RecordCount: len(records)}
	if len(records) == 0 {
		return s
	}

	diseases := map[string]int{}
	types := map[string]int{}
	sexes := map[string]int{}
	treatments := map[string]int{}
	sideEffects := map[string]int{}
	responses := map[cohort.Treatment]map[string]int{}
	withSideEffects := map[cohort.Treatment]int{}
	var ageSum, durationSum int

	for _, r := range records {
		ageSum += r.Age
		durationSum += r.DurationYears
		diseases[string(r.Disease)]++
		types[string(r.DiseaseType)]++
		sexes[string(r.Sex)]++
		treatments[string(r.Treatment)]++
		if responses[r.Treatment] == nil {
			responses[r.Treatment] = map[string]int{}
		}
		responses[r.Treatment][string(r.Response)]++
		if len(r.SideEffects) > 0 {
			withSideEffects[r.Treatment]++
		}
		for _, e := range r.SideEffects {
			sideEffects[e]++
		}
	}

	n := float64(len(records))
	s.MeanAge = float64(ageSum) / n
	s.MeanDurationYears = float64(durationSum) / n
	s.Diseases = shares(diseases, len(records))
	s.DiseaseTypes = shares(types, len(records))
	s.Sexes = shares(sexes, len(records))
	s.Treatments = shares(treatments, len(records))
	s.SideEffects = shares(sideEffects, len(records))

	for _, t := range s.Treatments {
		tr := cohort.Treatment(t.Label)
		s.ByTreatment = append(s.ByTreatment, TreatmentBreakdown{
			Treatment:      tr,
			Count:          t.Count,
			Responses:      shares(responses[tr], t.Count),
			SideEffectRate: float64(withSideEffects[tr]) / float64(t.Count),
		})
	}
	return s
}

func Lookup(shares []Share, label string) Share {
	for _, s := range shares {
		if s.Label == label {
			return s
		}
	}
	return Share{Label: label}
}

func shares(counts map[string]int, total int) []Share {
	out := make([]Share, 0, len(counts))
	for label, c := range counts {
		out = append(out, Share{Label: label, Count: c, Share: float64(c) / float64(total)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// WriteText prints the summary as aligned plain-text tables.
func (s Summary) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Records:\t%d\n", s.RecordCount)
	fmt.Fprintf(tw, "Mean age:\t%.1f\n", s.MeanAge)
	fmt.Fprintf(tw, "Mean disease duration (years):\t%.1f\n", s.MeanDurationYears)

	section := func(title string, rows []Share) {
		fmt.Fprintf(tw, "\n%s\n", title)
		for _, r := range rows {
			fmt.Fprintf(tw, "  %s\t%d\t%.3f\n", r.Label, r.Count, r.Share)
		}
	}
	section("Diseases:", s.Diseases)
	section("Treatments:", s.Treatments)
	section("Sex:", s.Sexes)

	fmt.Fprint(tw, "\nResponses by treatment:\n  treatment")
	for _, r := range cohort.Responses {
		fmt.Fprintf(tw, "\t%s", r)
	}
	fmt.Fprint(tw, "\tside effects\n")
	for _, b := range s.ByTreatment {
		fmt.Fprintf(tw, "  %s", b.Treatment)
		for _, r := range cohort.Responses {
			fmt.Fprintf(tw, "\t%.3f", Lookup(b.Responses, string(r)).Share)
		}
		fmt.Fprintf(tw, "\t%.3f\n", b.SideEffectRate)
	}
	return tw.Flush()
}
