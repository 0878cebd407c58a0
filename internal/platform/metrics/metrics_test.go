package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Nabil-E-projet/MediNLP/internal/cohort"
)

func TestRecorder_ObserveRun(t *testing.T) {
	r := NewRecorder()
	run := &cohort.Run{Records: []cohort.Record{
		{Profile: cohort.Profile{DiseaseType: cohort.TypeCrohn}, Consultation: cohort.Consultation{Treatment: cohort.Infliximab, SideEffects: []string{"Fatigue", "Nausées"}}},
		{Profile: cohort.Profile{DiseaseType: cohort.TypeCrohn}, Consultation: cohort.Consultation{Treatment: cohort.Infliximab}},
		{Profile: cohort.Profile{DiseaseType: cohort.TypeRCH}, Consultation: cohort.Consultation{Treatment: cohort.Mesalazine}},
	}}
	r.ObserveRun(run, 20*time.Millisecond)
	r.ObserveFailure()

	if got := testutil.ToFloat64(r.runs.WithLabelValues("success")); got != 1 {
		t.Errorf("success runs = %v", got)
	}
	if got := testutil.ToFloat64(r.runs.WithLabelValues("failure")); got != 1 {
		t.Errorf("failed runs = %v", got)
	}
	if got := testutil.ToFloat64(r.records.WithLabelValues("Crohn", "Infliximab")); got != 2 {
		t.Errorf("Crohn/Infliximab records = %v", got)
	}
	if got := testutil.ToFloat64(r.sideEffects.WithLabelValues("Infliximab")); got != 2 {
		t.Errorf("Infliximab side effects = %v", got)
	}
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.ObserveFailure()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `cohort_runs_total{outcome="failure"} 1`) {
		t.Fatalf("metrics output missing run counter:\n%s", body)
	}
}
