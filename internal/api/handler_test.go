package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Nabil-E-projet/MediNLP/internal/cohort"
	"github.com/Nabil-E-projet/MediNLP/internal/dataset"
	"github.com/Nabil-E-projet/MediNLP/internal/platform/export"
	"github.com/Nabil-E-projet/MediNLP/internal/platform/metrics"
	"github.com/Nabil-E-projet/MediNLP/internal/report"
	"github.com/Nabil-E-projet/MediNLP/internal/sampling"
	"github.com/Nabil-E-projet/MediNLP/internal/storage"
)

type fakeReports struct {
	renderErr error
	notifyErr error
	sent      int
	notified  int
}

func (f *fakeReports) Render(run *cohort.Run, sum dataset.Summary) ([]byte, error) {
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	return []byte("%PDF-1.4 " + run.ID.String()), nil
}

func (f *fakeReports) Send(context.Context, *cohort.Run, []byte) error {
	f.sent++
	return nil
}

func (f *fakeReports) Notify(context.Context, *cohort.Run, dataset.Summary) error {
	f.notified++
	return f.notifyErr
}

type testEnv struct {
	server    *httptest.Server
	recorder  *metrics.Recorder
	exportDir string
	reports   *fakeReports
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gen, err := cohort.New(cohort.DefaultTables(), cohort.WithWorkers(2))
	if err != nil {
		t.Fatalf("cohort.New: %v", err)
	}
	dir := t.TempDir()
	sink, err := export.NewFSSink(dir)
	if err != nil {
		t.Fatalf("NewFSSink: %v", err)
	}
	env := &testEnv{recorder: metrics.NewRecorder(), exportDir: dir, reports: &fakeReports{}}
	svc := NewService(Deps{
		Generator:    gen,
		Repo:         storage.NewMemoryRepository(),
		Metrics:      env.recorder,
		Sink:         sink,
		Reports:      env.reports,
		Logger:       zerolog.Nop(),
		DefaultCount: 50,
		MaxCount:     500,
	})
	h := NewHandler(svc, true, 500, zerolog.Nop())
	env.server = httptest.NewServer(NewRouter(h, env.recorder.Handler(), zerolog.Nop()))
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) create(t *testing.T, body string) (*http.Response, RunResponse) {
	t.Helper()
	resp, err := http.Post(e.server.URL+"/api/cohorts", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	var run RunResponse
	if resp.StatusCode == http.StatusCreated {
		if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp, run
}

func TestCreateCohort(t *testing.T) {
	env := newTestEnv(t)
	resp, run := env.create(t, `{"record_count": 120, "seed": 42, "reference_date": "2024-03-15"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Location") != "/api/cohorts/"+run.ID.String() {
		t.Errorf("location = %q", resp.Header.Get("Location"))
	}
	if run.RecordCount != 120 || run.Seed != 42 || run.ReferenceDate != "2024-03-15" {
		t.Errorf("run = %+v", run)
	}
	if run.Summary == nil || run.Summary.RecordCount != 120 {
		t.Fatalf("summary = %+v", run.Summary)
	}

	exported := filepath.Join(env.exportDir, "cohorts", run.ID.String(), "dataset.csv")
	f, err := os.Open(exported)
	if err != nil {
		t.Fatalf("exported dataset missing: %v", err)
	}
	defer f.Close()
	records, err := dataset.ReadCSV(f)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(records) != 120 {
		t.Errorf("exported %d records", len(records))
	}

	if !strings.Contains(scrape(t, env.recorder), `cohort_runs_total{outcome="success"} 1`) {
		t.Error("successful run not counted")
	}
}

func TestCreateCohort_DefaultsAndSameSeed(t *testing.T) {
	env := newTestEnv(t)
	_, a := env.create(t, `{"seed": 7, "reference_date": "2024-01-01"}`)
	_, b := env.create(t, `{"seed": 7, "reference_date": "2024-01-01"}`)
	if a.RecordCount != 50 {
		t.Errorf("default count = %d, want 50", a.RecordCount)
	}
	if a.ID == b.ID {
		t.Fatal("each run needs its own id")
	}

	csvA := env.get(t, "/api/cohorts/"+a.ID.String()+"/dataset.csv")
	csvB := env.get(t, "/api/cohorts/"+b.ID.String()+"/dataset.csv")
	if !bytes.Equal(csvA, csvB) {
		t.Error("same seed and reference date should produce the same dataset")
	}
}

func TestCreateCohort_BadRequests(t *testing.T) {
	env := newTestEnv(t)
	for name, body := range map[string]string{
		"malformed json": `{"record_count":`,
		"negative count": `{"record_count": -1}`,
		"bad date":       `{"reference_date": "15-03-2024"}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp, _ := env.create(t, body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestCreateCohort_RejectsOversizedCount(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []string{
		`{"record_count": 501, "seed": 1}`,
		`{"record_count": 1099511627776, "seed": 1}`,
	} {
		resp, _ := env.create(t, body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, resp.StatusCode)
		}
	}
	resp, _ := env.create(t, `{"record_count": 500, "seed": 1}`)
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("count at the limit: status = %d", resp.StatusCode)
	}
}

func (e *testEnv) get(t *testing.T, path string) []byte {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, resp.StatusCode)
	}
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return buf.Bytes()
}

func TestGetAndListCohorts(t *testing.T) {
	env := newTestEnv(t)
	_, first := env.create(t, `{"record_count": 10, "seed": 1}`)
	_, second := env.create(t, `{"record_count": 20, "seed": 2}`)

	var got RunResponse
	if err := json.Unmarshal(env.get(t, "/api/cohorts/"+first.ID.String()), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != first.ID || got.Summary == nil || got.Summary.RecordCount != 10 {
		t.Errorf("get = %+v", got)
	}

	var list []RunResponse
	if err := json.Unmarshal(env.get(t, "/api/cohorts"), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list has %d runs", len(list))
	}
	ids := map[uuid.UUID]bool{list[0].ID: true, list[1].ID: true}
	if !ids[first.ID] || !ids[second.ID] {
		t.Errorf("list = %+v", list)
	}
	if list[0].Summary != nil {
		t.Error("list entries should not carry a summary")
	}

	if err := json.Unmarshal(env.get(t, "/api/cohorts?limit=1"), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("limit=1 returned %d runs", len(list))
	}
}

func TestGetCohort_Errors(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]int{
		"/api/cohorts/not-a-uuid":                           http.StatusBadRequest,
		"/api/cohorts/" + uuid.NewString():                  http.StatusNotFound,
		"/api/cohorts/" + uuid.NewString() + "/dataset.csv": http.StatusNotFound,
		"/api/cohorts?limit=abc":                            http.StatusBadRequest,
	}
	for path, want := range cases {
		resp, err := http.Get(env.server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("GET %s: status %d, want %d", path, resp.StatusCode, want)
		}
	}
}

func TestGetReport(t *testing.T) {
	env := newTestEnv(t)
	_, run := env.create(t, `{"record_count": 30, "seed": 3}`)

	resp, err := http.Get(env.server.URL + "/api/cohorts/" + run.ID.String() + "/report.pdf")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/pdf" {
		t.Fatalf("status %d content type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if env.reports.sent != 0 {
		t.Error("download should not deliver the report")
	}

	env.reports.renderErr = report.ErrNoFont
	resp2, err := http.Get(env.server.URL + "/api/cohorts/" + run.ID.String() + "/report.pdf")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("missing font: status %d", resp2.StatusCode)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, `{"record_count": 5, "seed": 9}`)
	body := string(env.get(t, "/metrics"))
	if !strings.Contains(body, `cohort_runs_total{outcome="success"} 1`) {
		t.Errorf("metrics output missing run counter:\n%s", body)
	}
	env.get(t, "/health")
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req, _ := http.NewRequest(http.MethodOptions, env.server.URL+"/api/cohorts", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight status %d headers %v", resp.StatusCode, resp.Header)
	}
}

func scrape(t *testing.T, rec *metrics.Recorder) string {
	t.Helper()
	w := httptest.NewRecorder()
	rec.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return w.Body.String()
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, cohort.Request) (*cohort.Run, error) {
	return nil, errors.New("boom")
}

func TestService_CreateFailureIsCounted(t *testing.T) {
	rec := metrics.NewRecorder()
	svc := NewService(Deps{Generator: failingGenerator{}, Metrics: rec, Logger: zerolog.Nop()})
	if _, err := svc.CreateCohort(context.Background(), cohort.Request{Count: 1}, CreateOptions{}); err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(scrape(t, rec), `cohort_runs_total{outcome="failure"} 1`) {
		t.Error("failed run not counted")
	}
}

func TestService_OptionalDependencies(t *testing.T) {
	gen, _ := cohort.New(cohort.DefaultTables())
	svc := NewService(Deps{Generator: gen, Logger: zerolog.Nop()})
	run, err := svc.CreateCohort(context.Background(), cohort.Request{Seed: 1}, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateCohort: %v", err)
	}
	if run.RecordCount != cohort.DefaultRecordCount {
		t.Errorf("count = %d", run.RecordCount)
	}
	if _, err := svc.Export(context.Background(), run); err == nil {
		t.Error("export without sink should fail")
	}
	if _, err := svc.Report(context.Background(), run, ReportOptions{}); err == nil {
		t.Error("report without report service should fail")
	}
	if _, err := svc.CreateCohort(context.Background(), cohort.Request{Seed: 1}, CreateOptions{Persist: true}); err == nil {
		t.Error("persist without repository should fail")
	}
}

func TestService_ReportSend(t *testing.T) {
	gen, _ := cohort.New(cohort.DefaultTables())
	reports := &fakeReports{}
	svc := NewService(Deps{Generator: gen, Reports: reports, Logger: zerolog.Nop()})
	run, _ := svc.CreateCohort(context.Background(), cohort.Request{Count: 10, Seed: 1}, CreateOptions{})
	if _, err := svc.Report(context.Background(), run, ReportOptions{Send: true}); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if reports.sent != 1 {
		t.Errorf("sent = %d", reports.sent)
	}
}

func TestService_RejectsCountAboveLimit(t *testing.T) {
	gen, _ := cohort.New(cohort.DefaultTables())
	svc := NewService(Deps{Generator: gen, Logger: zerolog.Nop(), MaxCount: 20})
	_, err := svc.CreateCohort(context.Background(), cohort.Request{Count: 21, Seed: 1}, CreateOptions{})
	if !errors.Is(err, sampling.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestService_ReportExport(t *testing.T) {
	gen, _ := cohort.New(cohort.DefaultTables())
	dir := t.TempDir()
	sink, _ := export.NewFSSink(dir)
	svc := NewService(Deps{Generator: gen, Sink: sink, Reports: &fakeReports{}, Logger: zerolog.Nop()})
	run, _ := svc.CreateCohort(context.Background(), cohort.Request{Count: 10, Seed: 1}, CreateOptions{})

	pdf, err := svc.Report(context.Background(), run, ReportOptions{Export: true})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	stored, err := os.ReadFile(filepath.Join(dir, "cohorts", run.ID.String(), "report.pdf"))
	if err != nil {
		t.Fatalf("exported report missing: %v", err)
	}
	if !bytes.Equal(stored, pdf) {
		t.Error("exported report differs from the rendered one")
	}

	noSink := NewService(Deps{Generator: gen, Reports: &fakeReports{}, Logger: zerolog.Nop()})
	if _, err := noSink.Report(context.Background(), run, ReportOptions{Export: true}); err == nil {
		t.Error("report export without sink should fail")
	}
}

func TestService_NotifyRuns(t *testing.T) {
	gen, _ := cohort.New(cohort.DefaultTables())
	reports := &fakeReports{}
	svc := NewService(Deps{Generator: gen, Reports: reports, NotifyRuns: true, Logger: zerolog.Nop()})
	if _, err := svc.CreateCohort(context.Background(), cohort.Request{Count: 5, Seed: 1}, CreateOptions{}); err != nil {
		t.Fatalf("CreateCohort: %v", err)
	}
	if reports.notified != 1 {
		t.Errorf("notified = %d, want 1", reports.notified)
	}

	reports.notifyErr = errors.New("telegram down")
	if _, err := svc.CreateCohort(context.Background(), cohort.Request{Count: 5, Seed: 2}, CreateOptions{}); err != nil {
		t.Fatalf("a failed notification must not fail the run: %v", err)
	}

	quiet := &fakeReports{}
	quietSvc := NewService(Deps{Generator: gen, Reports: quiet, Logger: zerolog.Nop()})
	if _, err := quietSvc.CreateCohort(context.Background(), cohort.Request{Count: 5, Seed: 3}, CreateOptions{}); err != nil {
		t.Fatalf("CreateCohort: %v", err)
	}
	if quiet.notified != 0 {
		t.Error("runs should not be announced unless NotifyRuns is set")
	}
}
