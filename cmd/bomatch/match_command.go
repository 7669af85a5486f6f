package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"bomatch/internal/catalog"
	"bomatch/internal/logging"
	"bomatch/internal/pipeline"
)

// outcomeSmoothing weights a session's observed rates against the stored ones.
const outcomeSmoothing = 0.2

func newMatchCommand(ctx *commandContext) *cobra.Command {
	var buildID string
	var framePath string
	var asJSON bool
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match one frame of detections against a build",
		Long:  "Loads the build and its persisted usage, runs the frame through search,\n" +
			"fusion, ledger filtering and assignment, then persists the new usage.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(buildID) == "" {
				return errors.New("--build is required")
			}
			if strings.TrimSpace(framePath) == "" {
				return errors.New("--frame is required")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			frame, err := catalog.ReadFrameFile(framePath)
			if err != nil {
				return err
			}

			store, err := ctx.openStore(true)
			if err != nil {
				return err
			}
			defer store.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			build, err := store.LoadBuild(runCtx, buildID)
			if err != nil {
				return err
			}
			usage, err := store.LoadUsage(runCtx, buildID)
			if err != nil {
				return err
			}

			session, err := pipeline.NewSession(cfg, build, pipeline.WithLogger(logger))
			if err != nil {
				return err
			}
			defer session.Close()
			if err := session.Restore(usage); err != nil {
				return fmt.Errorf("restore usage for %s: %w (run `bomatch ledger reset --build %s`)", buildID, err, buildID)
			}

			report, err := session.Process(runCtx, *frame)
			if err != nil {
				return err
			}

			if cfg.Ledger.PersistUsage && !dryRun {
				if err := persist(runCtx, store, session); err != nil {
					return err
				}
			} else {
				logger.Info("usage not persisted",
					logging.String(logging.FieldBuildID, buildID),
					logging.Bool("dry_run", dryRun))
			}

			if asJSON {
				return writeJSON(cmd, report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().StringVarP(&buildID, "build", "b", "", "Build id")
	cmd.Flags().StringVarP(&framePath, "frame", "f", "", "Frame document (JSON)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Do not persist usage or template outcomes")
	return cmd
}

func persist(ctx context.Context, store *catalog.Store, session *pipeline.Session) error {
	buildID := session.Build().ID
	if err := store.SaveUsage(ctx, buildID, session.Usage()); err != nil {
		return fmt.Errorf("persist usage: %w", err)
	}
	if err := store.RecordOutcomes(ctx, buildID, session.DrainOutcomes(), outcomeSmoothing); err != nil {
		return fmt.Errorf("persist outcomes: %w", err)
	}
	return nil
}

func printReport(out io.Writer, report pipeline.Report) {
	color := shouldColorize(out)

	fmt.Fprintln(out, sectionHeader("Assignments", color))
	if len(report.Matches) == 0 {
		fmt.Fprintln(out, "  none")
	} else {
		rows := make([][]string, 0, len(report.Matches))
		for _, m := range report.Matches {
			status := colorize("final", ansiGreen, color)
			if !m.Final {
				status = colorize("review", ansiYellow, color)
			}
			rows = append(rows, []string{
				m.DetectionID,
				m.TemplateID,
				formatScore(m.Score),
				formatScore(m.Margin),
				string(m.Method),
				status,
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Detection", "Template", "Score", "Margin", "Method", "Decision"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
		))
	}

	if len(report.Holds) > 0 {
		fmt.Fprintln(out, sectionHeader("Holds", color))
		rows := make([][]string, 0, len(report.Holds))
		for _, h := range report.Holds {
			rows = append(rows, []string{h.DetectionID, string(h.Reason), formatScore(h.BestScore)})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Detection", "Reason", "Best"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight},
		))
	}

	if len(report.Unassigned) > 0 {
		fmt.Fprintln(out, sectionHeader("Suppressed", color))
		for _, s := range report.Unassigned {
			fmt.Fprintf(out, "  %s (%s %.3f) overlaps %s\n", s.DetectionID, s.TemplateID, s.Score, s.KeptBy)
		}
	}

	for _, f := range report.Fallbacks {
		fmt.Fprintln(out, colorize(
			fmt.Sprintf("Batch %d (%d detections) timed out after %s; resolved greedily", f.Batch, f.Detections, f.Waited),
			ansiYellow, color))
	}

	w := report.Weights
	fmt.Fprintf(out, "Weights: image %.2f, meta %.2f, text %.2f\n", w.Image, w.Meta, w.Text)
	fmt.Fprintf(out, "Run %s: %d assigned, %d held, %d suppressed, %d stage-2 searches in %s\n",
		report.RunID, len(report.Matches), len(report.Holds), len(report.Unassigned), report.Stage2, report.Elapsed.Round(1e6))
}
