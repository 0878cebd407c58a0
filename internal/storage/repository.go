// Package storage persists generation runs and their records. Runs are write-once.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Nabil-E-projet/MediNLP/internal/cohort"
	"github.com/Nabil-E-projet/MediNLP/internal/dataset"
)

var (
	ErrNotFound = errors.New("storage: run not found")
	ErrExists   = errors.New("storage: run already exists")
)

const (
	dayLayout       = "2006-01-02"
	// fixed width so created_at sorts lexically
	timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

type Repository interface {
	SaveRun(ctx context.Context, run *cohort.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*cohort.Run, error)
	// ListRuns returns run metadata, newest first, without records.
	ListRuns(ctx context.Context, limit int) ([]cohort.Run, error)
}

type dialect string

const (
	dialectPostgres dialect = "postgres"
	dialectSQLite   dialect = "sqlite"
)

var recordColumns = []string{
	"run_id", "patient_id", "age", "sexe", "maladie", "type_maladie", "anciennete",
	"date_consultation", "traitement", "effets_secondaires", "reponse_traitement",
}

type sqlRepo struct {
	db      *sql.DB
	dialect dialect
}

// NewPostgresRepository returns a Repository over a lib/pq connection; records
// are loaded with COPY.
func NewPostgresRepository(db *sql.DB) Repository {
	return &sqlRepo{db: db, dialect: dialectPostgres}
}

func NewSQLiteRepository(db *sql.DB) Repository {
	return &sqlRepo{db: db, dialect: dialectSQLite}
}

func (r *sqlRepo) rebind(query string) string {
	if r.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (r *sqlRepo) SaveRun(ctx context.Context, run *cohort.Run) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, r.rebind(`SELECT COUNT(*) FROM cohort_runs WHERE id = ?`), run.ID.String()).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrExists, run.ID)
	}

	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx,
		r.rebind(`INSERT INTO cohort_runs (id, seed, reference_date, record_count, created_at) VALUES (?, ?, ?, ?, ?)`),
		run.ID.String(),
		strconv.FormatUint(run.Seed, 10),
		run.ReferenceDate.Format(dayLayout),
		len(run.Records),
		createdAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if r.dialect == dialectPostgres {
		err = r.copyRecords(ctx, tx, run)
	} else {
		err = r.insertRecords(ctx, tx, run)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func recordValues(runID uuid.UUID, rec cohort.Record) []any {
	return []any{
		runID.String(),
		rec.ID,
		rec.Age,
		string(rec.Sex),
		string(rec.Disease),
		string(rec.DiseaseType),
		rec.DurationYears,
		rec.Date.Format(dayLayout),
		string(rec.Treatment),
		strings.Join(rec.SideEffects, ","),
		string(rec.Response),
	}
}

func (r *sqlRepo) copyRecords(ctx context.Context, tx *sql.Tx, run *cohort.Run) error {
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("cohort_records", recordColumns...))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}
	for _, rec := range run.Records {
		if _, err := stmt.ExecContext(ctx, recordValues(run.ID, rec)...); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("copy record %d: %w", rec.ID, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("flush copy: %w", err)
	}
	return stmt.Close()
}

func (r *sqlRepo) insertRecords(ctx context.Context, tx *sql.Tx, run *cohort.Run) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(recordColumns)), ", ")
	query := fmt.Sprintf(`INSERT INTO cohort_records (%s) VALUES (%s)`, strings.Join(recordColumns, ", "), placeholders)
	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, rec := range run.Records {
		if _, err := stmt.ExecContext(ctx, recordValues(run.ID, rec)...); err != nil {
			return fmt.Errorf("insert record %d: %w", rec.ID, err)
		}
	}
	return nil
}

func (r *sqlRepo) GetRun(ctx context.Context, id uuid.UUID) (*cohort.Run, error) {
	row := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT id, seed, reference_date, record_count, created_at FROM cohort_runs WHERE id = ?`), id.String())
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM cohort_records WHERE run_id = ? ORDER BY patient_id`, strings.Join(recordColumns[1:], ", "))
	rows, err := r.db.QueryContext(ctx, r.rebind(query), id.String())
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer rows.Close()

	run.Records = make([]cohort.Record, 0, run.RecordCount)
	for rows.Next() {
		var rec cohort.Record
		var sex, disease, diseaseType, date, treatment, sideEffects, response string
		if err := rows.Scan(&rec.ID, &rec.Age, &sex, &disease, &diseaseType, &rec.DurationYears,
			&date, &treatment, &sideEffects, &response); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Sex = cohort.Sex(sex)
		rec.Disease = cohort.Disease(disease)
		rec.DiseaseType = cohort.DiseaseType(diseaseType)
		rec.Treatment = cohort.Treatment(treatment)
		rec.Response = cohort.Response(response)
		rec.SideEffects = dataset.SplitSideEffects(sideEffects)
		if rec.Date, err = time.Parse(dayLayout, date); err != nil {
			return nil, fmt.Errorf("record %d date: %w", rec.ID, err)
		}
		run.Records = append(run.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return run, nil
}

func (r *sqlRepo) ListRuns(ctx context.Context, limit int) ([]cohort.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		r.rebind(`SELECT id, seed, reference_date, record_count, created_at FROM cohort_runs ORDER BY created_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer rows.Close()

	var runs []cohort.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*cohort.Run, error) {
	var id, seed, refDate, createdAt string
	var run cohort.Run
	if err := s.Scan(&id, &seed, &refDate, &run.RecordCount, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if run.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	if run.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
		return nil, fmt.Errorf("run seed: %w", err)
	}
	if run.ReferenceDate, err = time.Parse(dayLayout, refDate); err != nil {
		return nil, fmt.Errorf("run reference date: %w", err)
	}
	if run.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
		return nil, fmt.Errorf("run created_at: %w", err)
	}
	return &run, nil
}
