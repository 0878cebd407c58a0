package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Nabil-E-projet/MediNLP/internal/api"
	"github.com/Nabil-E-projet/MediNLP/internal/cohort"
	"github.com/Nabil-E-projet/MediNLP/internal/dataset"
	"github.com/Nabil-E-projet/MediNLP/internal/platform/export"
	"github.com/Nabil-E-projet/MediNLP/internal/storage"
)

// Date layout of the --today flag.
const flagDateLayout = "2006-01-02"

func main() {
	rootCmd := &cobra.Command{
		Use:          "cohortgen",
		Short:        "Synthetic IBD patient cohort generator",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(summarizeCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a cohort, write it as CSV and print its distributions",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}

			count, _ := cmd.Flags().GetInt("count")
			workers, _ := cmd.Flags().GetInt("workers")
			output, _ := cmd.Flags().GetString("output")
			todayStr, _ := cmd.Flags().GetString("today")
			persist, _ := cmd.Flags().GetBool("persist")
			doExport, _ := cmd.Flags().GetBool("export")
			if !cmd.Flags().Changed("count") {
				count = app.cfg.RecordCount
			}
			if count > app.cfg.MaxRecordCount {
				return fmt.Errorf("--count %d exceeds MAX_RECORD_COUNT (%d)", count, app.cfg.MaxRecordCount)
			}
			if !cmd.Flags().Changed("workers") {
				workers = app.cfg.Workers
			}
			if output == "" {
				output = app.cfg.OutputPath
			}

			req := cohort.Request{Count: count, Seed: app.cfg.Seed}
			if cmd.Flags().Changed("seed") {
				req.Seed, _ = cmd.Flags().GetUint64("seed")
			} else if req.Seed == 0 {
				req.Seed = uint64(time.Now().UnixNano())
			}
			if todayStr != "" {
				if req.Today, err = time.Parse(flagDateLayout, todayStr); err != nil {
					return fmt.Errorf("--today must be YYYY-MM-DD: %w", err)
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, closeFn, err := app.service(ctx, workers, persist, doExport)
			if err != nil {
				return err
			}
			defer closeFn()

			run, err := svc.CreateCohort(ctx, req, api.CreateOptions{Persist: persist, Export: doExport})
			if err != nil {
				return err
			}
			if err := writeDataset(output, run.Records); err != nil {
				return err
			}
			app.logger.Info().
				Str("run_id", run.ID.String()).
				Uint64("seed", run.Seed).
				Str("output", output).
				Msg("dataset written")

			return dataset.Summarize(run.Records).WriteText(cmd.OutOrStdout())
		},
	}
	cmd.Flags().Int("count", cohort.DefaultRecordCount, "Number of patients (default RECORD_COUNT)")
	cmd.Flags().Uint64("seed", 0, "Random seed (default SEED, or time-derived when unset)")
	cmd.Flags().String("today", "", "Reference date YYYY-MM-DD (default today)")
	cmd.Flags().Int("workers", 4, "Parallel generation workers (default WORKERS)")
	cmd.Flags().String("output", "", "CSV output path (default OUTPUT_PATH)")
	cmd.Flags().Bool("persist", false, "Save the run in the configured store")
	cmd.Flags().Bool("export", false, "Upload the CSV to the configured export sink")
	return cmd
}

func writeDataset(path string, records []cohort.Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := dataset.WriteCSV(f, records); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func readDataset(path string) ([]cohort.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return dataset.ReadCSV(f)
}

func summarizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Print the distributions of a cohort CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			input, _ := cmd.Flags().GetString("input")
			if input == "" {
				input = app.cfg.OutputPath
			}
			records, err := readDataset(input)
			if err != nil {
				return err
			}
			return dataset.Summarize(records).WriteText(cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("input", "", "Cohort CSV (default OUTPUT_PATH)")
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the PDF distribution report of a cohort CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			input, _ := cmd.Flags().GetString("input")
			output, _ := cmd.Flags().GetString("output")
			send, _ := cmd.Flags().GetBool("send")
			doExport, _ := cmd.Flags().GetBool("export")
			if input == "" {
				input = app.cfg.OutputPath
			}
			if send && !app.cfg.TelegramEnabled() {
				return errors.New("--send needs TELEGRAM_BOT_TOKEN and REPORT_CHAT_ID")
			}

			records, err := readDataset(input)
			if err != nil {
				return err
			}
			run := runFromRecords(records)

			reports := app.reportService()
			pdf, err := reports.Render(run, dataset.Summarize(records))
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(output), 0o750); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			if err := os.WriteFile(output, pdf, 0o640); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			app.logger.Info().Str("output", output).Int("records", len(records)).Msg("report written")

			if doExport {
				sink, err := app.sink(cmd.Context())
				if err != nil {
					return err
				}
				loc, err := sink.Put(cmd.Context(), export.ReportKey(run.ID), bytes.NewReader(pdf), "application/pdf")
				if err != nil {
					return fmt.Errorf("export report: %w", err)
				}
				app.logger.Info().Str("location", loc).Msg("report exported")
			}
			if send {
				return reports.Send(cmd.Context(), run, pdf)
			}
			return nil
		},
	}
	cmd.Flags().String("input", "", "Cohort CSV (default OUTPUT_PATH)")
	cmd.Flags().String("output", "data/report.pdf", "PDF output path")
	cmd.Flags().Bool("send", false, "Deliver the report to REPORT_CHAT_ID over Telegram")
	cmd.Flags().Bool("export", false, "Upload the PDF to the configured export sink")
	return cmd
}

// runFromRecords describes a CSV read back from disk. The reference date is
// the latest consultation date, the closest bound the file itself carries.
func runFromRecords(records []cohort.Record) *cohort.Run {
	run := &cohort.Run{
		ID:          uuid.New(),
		RecordCount: len(records),
		CreatedAt:   time.Now().UTC(),
		Records:     records,
	}
	for _, r := range records {
		if r.Date.After(run.ReferenceDate) {
			run.ReferenceDate = r.Date
		}
	}
	return run
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the cohort HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			return runServer(app)
		},
	}
}

func runServer(app *app) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, closeFn, err := app.service(ctx, app.cfg.Workers, true, true)
	if err != nil {
		return err
	}
	defer closeFn()

	handler := api.NewHandler(svc, true, app.cfg.MaxRecordCount, app.logger)
	srv := &http.Server{
		Addr:              ":" + app.cfg.Port,
		Handler:           api.NewRouter(handler, app.metrics.Handler(), app.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	app.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	app.logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run storage migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			version, err := storage.Migrate(app.storageOptions())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema at version %d.\n", version)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			version, dirty, err := storage.MigrationVersion(app.storageOptions())
			if err != nil {
				return err
			}
			state := "clean"
			if dirty {
				state = "dirty"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (%s)\n", version, state)
			return nil
		},
	})
	return cmd
}
