// Package dataset encodes cohort records as the tabular export consumed by
// the analytics dashboard, and summarizes their distributions.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Nabil-E-projet/MediNLP/internal/cohort"
)

// DateLayout is the date_consultation format (DD-MM-YYYY).
const DateLayout = "02-01-2006"

// Columns is the export header. The dashboard groups and filters by these
// exact names; adding or dropping one is a compatibility break.
var Columns = []string{
	"id",
	"age",
	"sexe",
	"maladie",
	"anciennete",
	"date_consultation",
	"traitement",
	"effets_secondaires",
	"reponse_traitement",
}

// ErrSchemaMismatch is returned when a CSV header does not carry exactly
// Columns.
var ErrSchemaMismatch = errors.New("dataset: schema mismatch")

// Row renders one record in Columns order.
func Row(r cohort.Record) []string {
	return []string{
		strconv.Itoa(r.ID),
		strconv.Itoa(r.Age),
		string(r.Sex),
		string(r.Disease),
		strconv.Itoa(r.DurationYears),
		r.Date.Format(DateLayout),
		string(r.Treatment),
		strings.Join(r.SideEffects, ","),
		string(r.Response),
	}
}

// WriteCSV writes the header followed by one row per record.
func WriteCSV(w io.Writer, records []cohort.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(Row(r)); err != nil {
			return fmt.Errorf("write record %d: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses an export produced by WriteCSV. Columns may appear in any
// order but the set must match Columns exactly.
func ReadCSV(r io.Reader) ([]cohort.Record, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: missing header", ErrSchemaMismatch)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	index, err := headerIndex(header)
	if err != nil {
		return nil, err
	}

	var records []cohort.Record
	for line := 2; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		rec, err := parseRow(fields, index)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func headerIndex(header []string) (map[string]int, error) {
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrSchemaMismatch, name)
		}
		index[name] = i
	}
	for _, name := range Columns {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrSchemaMismatch, name)
		}
	}
	if len(index) != len(Columns) {
		for name := range index {
			if !slices.Contains(Columns, name) {
				return nil, fmt.Errorf("%w: unexpected column %q", ErrSchemaMismatch, name)
			}
		}
	}
	return index, nil
}

func parseRow(fields []string, index map[string]int) (cohort.Record, error) {
	get := func(col string) string { return fields[index[col]] }

	var rec cohort.Record
	var err error
	if rec.ID, err = strconv.Atoi(get("id")); err != nil {
		return rec, fmt.Errorf("id: %w", err)
	}
	if rec.Age, err = strconv.Atoi(get("age")); err != nil {
		return rec, fmt.Errorf("age: %w", err)
	}
	if rec.DurationYears, err = strconv.Atoi(get("anciennete")); err != nil {
		return rec, fmt.Errorf("anciennete: %w", err)
	}
	if rec.Date, err = time.Parse(DateLayout, get("date_consultation")); err != nil {
		return rec, fmt.Errorf("date_consultation: %w", err)
	}
	rec.Sex = cohort.Sex(get("sexe"))
	rec.Disease = cohort.Disease(get("maladie"))
	if rec.DiseaseType, err = cohort.Classify(rec.Disease); err != nil {
		return rec, fmt.Errorf("maladie: %w", err)
	}
	rec.Treatment = cohort.Treatment(get("traitement"))
	rec.Response = cohort.Response(get("reponse_traitement"))
	rec.SideEffects = SplitSideEffects(get("effets_secondaires"))
	return rec, nil
}

// SplitSideEffects parses the comma-joined effets_secondaires column.
func SplitSideEffects(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
