// Package report renders a cohort run's distribution summary as a PDF and
// optionally delivers it to a Telegram chat.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/signintech/gopdf"

	"github.com/Nabil-E-projet/MediNLP/internal/cohort"
	"github.com/Nabil-E-projet/MediNLP/internal/dataset"
)

// ErrNoFont is returned when none of the candidate TTF fonts can be loaded.
var ErrNoFont = errors.New("report: no usable font")

// DefaultFontPaths lists where DejaVuSans usually lives on Alpine and Debian
// images. It covers the accented labels of the dataset.
var DefaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

const (
	fontFamily = "DejaVu"
	textWidth  = 500.0
	pageBottom = 790.0
)

type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, fileData []byte, fileName, caption string) error
}

type Service struct {
	fontPaths []string
	sender    Sender
	chatID    int64
	logger    zerolog.Logger
}

// NewService builds a report service. fontPath, when set, is tried before the
// default locations. sender may be nil, in which case Send and Notify fail.
func NewService(fontPath string, sender Sender, chatID int64, logger zerolog.Logger) *Service {
	paths := DefaultFontPaths
	if fontPath != "" {
		paths = append([]string{fontPath}, DefaultFontPaths...)
	}
	return &Service{fontPaths: paths, sender: sender, chatID: chatID, logger: logger}
}

// FileName is the attachment name of a run's report.
func FileName(run *cohort.Run) string {
	return fmt.Sprintf("cohort_report_%s.pdf", run.ID)
}

type page struct {
	pdf *gopdf.GoPdf
	err error
}

func (p *page) font(size float64) {
	if p.err == nil {
		p.err = p.pdf.SetFont(fontFamily, "", size)
	}
}

func (p *page) line(text string, height float64) {
	if p.err != nil {
		return
	}
	lines, err := p.pdf.SplitText(text, textWidth)
	if err != nil {
		p.err = err
		return
	}
	for _, l := range lines {
		if p.pdf.GetY() > pageBottom {
			p.pdf.AddPage()
		}
		if p.err = p.pdf.Cell(nil, l); p.err != nil {
			return
		}
		p.pdf.Br(height)
	}
}

func (p *page) heading(text string) {
	p.pdf.Br(10)
	p.font(14)
	p.line(text, 18)
	p.font(11)
}

func (p *page) shares(shares []dataset.Share) {
	if len(shares) == 0 {
		p.line("- aucune donnée", 14)
		return
	}
	for _, s := range shares {
		p.line(fmt.Sprintf("- %s : %d (%.1f %%)", s.Label, s.Count, s.Share*100), 14)
	}
}

// Render lays out the summary of run as an A4 PDF.
func (s *Service) Render(run *cohort.Run, sum dataset.Summary) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.SetMargins(40, 40, 40, 40)
	pdf.AddPage()

	var fontErr error
	loaded := false
	for _, path := range s.fontPaths {
		if err := pdf.AddTTFFont(fontFamily, path); err != nil {
			fontErr = err
			continue
		}
		s.logger.Debug().Str("path", path).Msg("loaded report font")
		loaded = true
		break
	}
	if !loaded {
		return nil, fmt.Errorf("%w (install ttf-dejavu or set FONT_PATH): %v", ErrNoFont, fontErr)
	}

	p := &page{pdf: &pdf}
	p.font(20)
	p.line("Cohorte MICI synthétique", 30)

	p.font(11)
	p.line(fmt.Sprintf("Run : %s", run.ID), 14)
	p.line(fmt.Sprintf("Graine : %d", run.Seed), 14)
	p.line(fmt.Sprintf("Date de référence : %s", run.ReferenceDate.Format(dataset.DateLayout)), 14)
	p.line(fmt.Sprintf("Généré le : %s", run.CreatedAt.Format("02.01.2006 15:04")), 14)
	p.line(fmt.Sprintf("Patients : %d", sum.RecordCount), 14)
	p.line(fmt.Sprintf("Âge moyen : %.1f ans, ancienneté moyenne : %.1f ans", sum.MeanAge, sum.MeanDurationYears), 14)

	p.heading("Diagnostics")
	p.shares(sum.Diseases)
	p.heading("Types de maladie")
	p.shares(sum.DiseaseTypes)
	p.heading("Sexe")
	p.shares(sum.Sexes)
	p.heading("Traitements")
	p.shares(sum.Treatments)

	p.heading("Réponse par traitement")
	for _, b := range sum.ByTreatment {
		p.line(fmt.Sprintf("%s (n=%d, effets secondaires %.1f %%)", b.Treatment, b.Count, b.SideEffectRate*100), 14)
		for _, r := range b.Responses {
			p.line(fmt.Sprintf("    %s : %.1f %%", r.Label, r.Share*100), 13)
		}
	}

	p.heading("Effets secondaires")
	p.shares(sum.SideEffects)

	if p.err != nil {
		return nil, fmt.Errorf("layout report: %w", p.err)
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

var errNotConfigured = errors.New("report delivery is not configured")

func (s *Service) configured() bool {
	return s.sender != nil && s.chatID != 0
}

// Send delivers a rendered report to the configured chat.
func (s *Service) Send(ctx context.Context, run *cohort.Run, pdf []byte) error {
	if !s.configured() {
		return errNotConfigured
	}
	caption := fmt.Sprintf("Cohorte %s : %d patients", run.ID, run.RecordCount)
	s.logger.Info().Int64("chat_id", s.chatID).Str("run_id", run.ID.String()).Msg("sending cohort report")
	if err := s.sender.SendDocument(ctx, s.chatID, pdf, FileName(run), caption); err != nil {
		s.logger.Error().Err(err).Msg("sending telegram document")
		return err
	}
	return nil
}

// Notify posts a short text summary of a freshly generated run.
func (s *Service) Notify(ctx context.Context, run *cohort.Run, sum dataset.Summary) error {
	if !s.configured() {
		return errNotConfigured
	}
	return s.sender.SendMessage(ctx, s.chatID, NotificationText(run, sum))
}

// NotificationText is the message Notify sends.
func NotificationText(run *cohort.Run, sum dataset.Summary) string {
	text := fmt.Sprintf("Cohorte %s : %d patients (graine %d, référence %s)",
		run.ID, sum.RecordCount, run.Seed, run.ReferenceDate.Format(dataset.DateLayout))
	if len(sum.Diseases) > 0 {
		d := sum.Diseases[0]
		text += fmt.Sprintf("\nDiagnostic le plus fréquent : %s (%.1f %%)", d.Label, d.Share*100)
	}
	if len(sum.Treatments) > 0 {
		tr := sum.Treatments[0]
		text += fmt.Sprintf("\nTraitement le plus fréquent : %s (%.1f %%)", tr.Label, tr.Share*100)
	}
	return text
}
