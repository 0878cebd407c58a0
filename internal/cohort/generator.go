// Package cohort generates the synthetic IBD patient cohort: one profile and
// one consultation per patient, drawn from fixed weight tables.
package cohort

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Nabil-E-projet/MediNLP/internal/sampling"
)

const (
	DefaultRecordCount = 1000
	DefaultChunkSize   = 256

	// DefaultMaxRecordCount bounds a single run; records are held in memory.
	DefaultMaxRecordCount = 1_000_000
)

// Generator produces cohort records. It is safe for concurrent use: all
// randomness comes from streams owned by the caller or by Generate.
type Generator struct {
	tables    Tables
	workers   int
	chunkSize int
	maxCount  int
	logger    zerolog.Logger
	now       func() time.Time
}

type Option func(*Generator)

// WithWorkers bounds the number of chunks generated concurrently.
func WithWorkers(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.workers = n
		}
	}
}

// WithChunkSize sets how many consecutive ids share one random stream.
// Changing it changes the output for a given seed.
func WithChunkSize(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.chunkSize = n
		}
	}
}

// WithMaxRecordCount sets the largest Count Generate accepts.
func WithMaxRecordCount(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxCount = n
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

// WithClock overrides the reference date used when a request has none.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// New validates tables and returns a generator.
func New(tables Tables, opts ...Option) (*Generator, error) {
	if err := tables.Validate(); err != nil {
		return nil, fmt.Errorf("validate tables: %w", err)
	}
	g := &Generator{
		tables:    tables,
		workers:   1,
		chunkSize: DefaultChunkSize,
		maxCount:  DefaultMaxRecordCount,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Request describes one generation run.
type Request struct {
	Count int
	Seed  uint64
	// Today is the reference date; zero means the generator clock.
	Today time.Time
}

// Record draws the profile and consultation of patient id.
func (g *Generator) Record(rng *rand.Rand, id int, today time.Time) (Record, error) {
	p, err := g.Profile(rng, id)
	if err != nil {
		return Record{}, fmt.Errorf("patient %d profile: %w", id, err)
	}
	c, err := g.Consultation(rng, p, today)
	if err != nil {
		return Record{}, fmt.Errorf("patient %d consultation: %w", id, err)
	}
	return Record{Profile: p, Consultation: c}, nil
}

// Generate produces req.Count records with ids 1..Count. Ids are split into
// chunks, each drawn from its own stream seeded by (Seed, chunk index), so the
// output for a seed does not depend on the worker count.
func (g *Generator) Generate(ctx context.Context, req Request) (*Run, error) {
	if req.Count <= 0 {
		return nil, fmt.Errorf("%w: record count must be positive, got %d", sampling.ErrInvalidInput, req.Count)
	}
	if req.Count > g.maxCount {
		return nil, fmt.Errorf("%w: record count %d exceeds the limit of %d", sampling.ErrInvalidInput, req.Count, g.maxCount)
	}
	today := req.Today
	if today.IsZero() {
		today = g.now()
	}
	today = truncateDay(today)

	start := time.Now()
	records := make([]Record, req.Count)
	chunks := (req.Count + g.chunkSize - 1) / g.chunkSize

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for c := 0; c < chunks; c++ {
		lo := c * g.chunkSize
		hi := min(lo+g.chunkSize, req.Count)
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(req.Seed, uint64(c)))
			for i := lo; i < hi; i++ {
				rec, err := g.Record(rng, i+1, today)
				if err != nil {
					return err
				}
				records[i] = rec
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	run := &Run{
		ID:            uuid.New(),
		Seed:          req.Seed,
		ReferenceDate: today,
		RecordCount:   len(records),
		CreatedAt:     time.Now().UTC(),
		Records:       records,
	}
	g.logger.Debug().
		Str("run_id", run.ID.String()).
		Int("records", run.RecordCount).
		Uint64("seed", run.Seed).
		Dur("elapsed", time.Since(start)).
		Msg("cohort generated")
	return run, nil
}
