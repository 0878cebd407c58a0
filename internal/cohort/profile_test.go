package cohort

import (
	"math/rand/v2"
	"slices"
	"testing"
)

func testRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, 99))
}

func newTestGenerator(t *testing.T, opts ...Option) *Generator {
	t.Helper()
	g, err := New(DefaultTables(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestDrawDuration_Bounds(t *testing.T) {
	rng := testRNG(1)
	for age := MinAge; age <= MaxAge; age++ {
		upper := max(1, min(20, age-15))
		for i := 0; i < 500; i++ {
			d := DrawDuration(rng, age)
			if d < 1 || d > upper {
				t.Fatalf("age %d: duration %d outside [1, %d]", age, d, upper)
			}
		}
	}
}

func TestDrawDuration_Age15IsAlwaysOne(t *testing.T) {
	rng := testRNG(2)
	for i := 0; i < 100; i++ {
		if d := DrawDuration(rng, 15); d != 1 {
			t.Fatalf("draw %d: expected 1, got %d", i, d)
		}
	}
}

func TestDrawDuration_SmallRanges(t *testing.T) {
	rng := testRNG(3)
	// age 16: max 1, mid 0
	for i := 0; i < 100; i++ {
		if d := DrawDuration(rng, 16); d != 1 {
			t.Fatalf("age 16: expected 1, got %d", d)
		}
	}
	// age 17: max 2, mid 1 -> early branch gives 1, tail gives 2
	counts := map[int]int{}
	const draws = 20000
	for i := 0; i < draws; i++ {
		counts[DrawDuration(rng, 17)]++
	}
	if len(counts) != 2 {
		t.Fatalf("age 17: expected durations {1, 2}, got %v", counts)
	}
	if share := float64(counts[1]) / draws; share < 0.67 || share > 0.73 {
		t.Errorf("age 17: share of 1 is %.3f, want about 0.7", share)
	}
}

func TestDrawDuration_TailStartsAfterPeak(t *testing.T) {
	rng := testRNG(4)
	// age 60: max 20, mid 6; 70% in [1, 6], 30% in [7, 20]
	const draws = 50000
	early := 0
	for i := 0; i < draws; i++ {
		if DrawDuration(rng, 60) <= 6 {
			early++
		}
	}
	if share := float64(early) / draws; share < 0.68 || share > 0.72 {
		t.Errorf("share of durations <= 6 is %.3f, want about 0.7", share)
	}
}

func TestProfile_Invariants(t *testing.T) {
	g := newTestGenerator(t)
	rng := testRNG(5)
	for id := 1; id <= 5000; id++ {
		p, err := g.Profile(rng, id)
		if err != nil {
			t.Fatalf("Profile: %v", err)
		}
		if p.ID != id {
			t.Fatalf("expected id %d, got %d", id, p.ID)
		}
		if p.Age < MinAge || p.Age > MaxAge {
			t.Fatalf("age %d out of range", p.Age)
		}
		if !slices.Contains(Sexes, p.Sex) {
			t.Fatalf("unexpected sex %q", p.Sex)
		}
		want, err := Classify(p.Disease)
		if err != nil {
			t.Fatalf("Classify(%q): %v", p.Disease, err)
		}
		if p.DiseaseType != want {
			t.Fatalf("%q tagged %q, want %q", p.Disease, p.DiseaseType, want)
		}
		if !slices.Contains(DiseaseTypes, p.DiseaseType) {
			t.Fatalf("unexpected disease type %q", p.DiseaseType)
		}
		if p.DurationYears < 1 || p.DurationYears > max(1, min(20, p.Age-15)) {
			t.Fatalf("age %d: duration %d out of bounds", p.Age, p.DurationYears)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		disease Disease
		want    DiseaseType
	}{
		{CrohnIleoColic, TypeCrohn},
		{CrohnColic, TypeCrohn},
		{CrohnIleal, TypeCrohn},
		{RCHExtensive, TypeRCH},
		{RCHDistal, TypeRCH},
		{MICIUndetermined, TypeMICI},
	}
	for _, tt := range tests {
		got, err := Classify(tt.disease)
		if err != nil {
			t.Fatalf("Classify(%q): %v", tt.disease, err)
		}
		if got != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.disease, got, tt.want)
		}
	}
	if _, err := Classify("Colite microscopique"); err == nil {
		t.Error("expected error for unknown disease")
	}
}
