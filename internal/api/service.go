// Package api exposes cohort generation over HTTP and holds the run workflow
// (generate, persist, export, report) shared with the command line.
package api

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Nabil-E-projet/MediNLP/internal/cohort"
	"github.com/Nabil-E-projet/MediNLP/internal/dataset"
	"github.com/Nabil-E-projet/MediNLP/internal/platform/export"
	"github.com/Nabil-E-projet/MediNLP/internal/platform/metrics"
	"github.com/Nabil-E-projet/MediNLP/internal/sampling"
	"github.com/Nabil-E-projet/MediNLP/internal/storage"
)

type Generator interface {
	Generate(ctx context.Context, req cohort.Request) (*cohort.Run, error)
}

type ReportService interface {
	Render(run *cohort.Run, sum dataset.Summary) ([]byte, error)
	Send(ctx context.Context, run *cohort.Run, pdf []byte) error
	Notify(ctx context.Context, run *cohort.Run, sum dataset.Summary) error
}

type Service interface {
	CreateCohort(ctx context.Context, req cohort.Request, opts CreateOptions) (*cohort.Run, error)
	GetCohort(ctx context.Context, id uuid.UUID) (*cohort.Run, error)
	ListCohorts(ctx context.Context, limit int) ([]cohort.Run, error)
	Export(ctx context.Context, run *cohort.Run) (string, error)
	Report(ctx context.Context, run *cohort.Run, opts ReportOptions) ([]byte, error)
}

// CreateOptions selects the side effects of CreateCohort.
type CreateOptions struct {
	Persist bool
	Export  bool
}

// ReportOptions selects what Report does besides rendering.
type ReportOptions struct {
	Send   bool
	Export bool
}

// Deps wires a Service. Metrics, Sink and Reports are optional.
type Deps struct {
	Generator Generator
	Repo      storage.Repository
	Metrics   *metrics.Recorder
	Sink      export.Sink
	Reports   ReportService
	Logger    zerolog.Logger
	// DefaultCount applies when a request leaves Count at zero.
	DefaultCount int
	// MaxCount rejects larger requests; 0 means cohort.DefaultMaxRecordCount.
	MaxCount int
	// NotifyRuns posts a text summary of every created run through Reports.
	NotifyRuns bool
}

type service struct {
	gen          Generator
	repo         storage.Repository
	metrics      *metrics.Recorder
	sink         export.Sink
	reports      ReportService
	logger       zerolog.Logger
	defaultCount int
	maxCount     int
	notifyRuns   bool
}

func NewService(d Deps) Service {
	count := d.DefaultCount
	if count <= 0 {
		count = cohort.DefaultRecordCount
	}
	maxCount := d.MaxCount
	if maxCount <= 0 {
		maxCount = cohort.DefaultMaxRecordCount
	}
	return &service{
		gen:          d.Generator,
		repo:         d.Repo,
		metrics:      d.Metrics,
		sink:         d.Sink,
		reports:      d.Reports,
		logger:       d.Logger,
		defaultCount: count,
		maxCount:     maxCount,
		notifyRuns:   d.NotifyRuns,
	}
}

func (s *service) CreateCohort(ctx context.Context, req cohort.Request, opts CreateOptions) (*cohort.Run, error) {
	if req.Count == 0 {
		req.Count = s.defaultCount
	}
	if req.Count > s.maxCount {
		return nil, fmt.Errorf("%w: record count %d exceeds the limit of %d", sampling.ErrInvalidInput, req.Count, s.maxCount)
	}
	start := time.Now()
	run, err := s.gen.Generate(ctx, req)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ObserveFailure()
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveRun(run, time.Since(start))
	}
	log := s.logger.With().Str("run_id", run.ID.String()).Logger()
	log.Info().Int("records", run.RecordCount).Uint64("seed", run.Seed).Msg("cohort generated")

	if opts.Persist {
		if s.repo == nil {
			return nil, fmt.Errorf("no repository configured")
		}
		if err := s.repo.SaveRun(ctx, run); err != nil {
			return nil, fmt.Errorf("save run: %w", err)
		}
		log.Debug().Msg("run persisted")
	}
	if opts.Export {
		if _, err := s.Export(ctx, run); err != nil {
			return nil, err
		}
	}
	if s.notifyRuns && s.reports != nil {
		// delivery is best effort, the run already exists
		if err := s.reports.Notify(ctx, run, dataset.Summarize(run.Records)); err != nil {
			log.Warn().Err(err).Msg("run notification failed")
		}
	}
	return run, nil
}

func (s *service) GetCohort(ctx context.Context, id uuid.UUID) (*cohort.Run, error) {
	return s.repo.GetRun(ctx, id)
}

func (s *service) ListCohorts(ctx context.Context, limit int) ([]cohort.Run, error) {
	return s.repo.ListRuns(ctx, limit)
}

// Export writes the run's CSV dataset to the sink and returns its location.
func (s *service) Export(ctx context.Context, run *cohort.Run) (string, error) {
	if s.sink == nil {
		return "", fmt.Errorf("no export sink configured")
	}
	var buf bytes.Buffer
	if err := dataset.WriteCSV(&buf, run.Records); err != nil {
		return "", fmt.Errorf("encode dataset: %w", err)
	}
	loc, err := s.sink.Put(ctx, export.DatasetKey(run.ID), &buf, "text/csv; charset=utf-8")
	if err != nil {
		return "", fmt.Errorf("export dataset: %w", err)
	}
	s.logger.Info().Str("run_id", run.ID.String()).Str("location", loc).Msg("dataset exported")
	return loc, nil
}

// Report renders the run's PDF report, then optionally delivers it and writes
// it to the sink.
func (s *service) Report(ctx context.Context, run *cohort.Run, opts ReportOptions) ([]byte, error) {
	if s.reports == nil {
		return nil, fmt.Errorf("no report service configured")
	}
	pdf, err := s.reports.Render(run, dataset.Summarize(run.Records))
	if err != nil {
		return nil, err
	}
	if opts.Export {
		if s.sink == nil {
			return nil, fmt.Errorf("no export sink configured")
		}
		loc, err := s.sink.Put(ctx, export.ReportKey(run.ID), bytes.NewReader(pdf), "application/pdf")
		if err != nil {
			return nil, fmt.Errorf("export report: %w", err)
		}
		s.logger.Info().Str("run_id", run.ID.String()).Str("location", loc).Msg("report exported")
	}
	if opts.Send {
		if err := s.reports.Send(ctx, run, pdf); err != nil {
			return nil, fmt.Errorf("send report: %w", err)
		}
	}
	return pdf, nil
}
