// Package export ships generated artefacts (CSV datasets, PDF reports) to a
// filesystem directory or an S3-compatible bucket.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	DriverFS = "fs"
	DriverS3 = "s3"
)

// Sink stores one object per key. Keys use forward slashes.
type Sink interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
}

// DatasetKey is the object key of a run's CSV dataset.
func DatasetKey(runID uuid.UUID) string {
	return path.Join("cohorts", runID.String(), "dataset.csv")
}

// ReportKey is the object key of a run's PDF report.
func ReportKey(runID uuid.UUID) string {
	return path.Join("cohorts", runID.String(), "report.pdf")
}

type fsSink struct {
	root string
}

// NewFSSink writes objects below root, creating directories as needed.
func NewFSSink(root string) (Sink, error) {
	if root == "" {
		return nil, fmt.Errorf("export dir required for fs driver")
	}
	return &fsSink{root: root}, nil
}

func (s *fsSink) Put(ctx context.Context, key string, r io.Reader, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid export key %q", key)
	}
	dest := filepath.Join(s.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".export-*")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("rename %s: %w", key, err)
	}
	return dest, nil
}
