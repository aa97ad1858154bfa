package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/EmpoweredVote/EV-Reforms/internal/db"
	"github.com/EmpoweredVote/EV-Reforms/internal/geocoding"
	"github.com/EmpoweredVote/EV-Reforms/internal/importer"
	"github.com/EmpoweredVote/EV-Reforms/internal/logging"
	"github.com/EmpoweredVote/EV-Reforms/internal/reforms"
	"github.com/EmpoweredVote/EV-Reforms/internal/seeds"
)

func (a *app) migrateCommand() *cobra.Command {
	var schema string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables and identity indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.store(); err != nil {
				return err
			}
			if err := db.EnsureSchema(a.db, schema); err != nil {
				return err
			}
			return reforms.Migrate(cmd.Context(), a.db)
		},
	}
	cmd.Flags().StringVar(&schema, "schema", "", "create this schema first")
	return cmd
}

func (a *app) seedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load reform types and sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}
			return seeds.SeedAll(cmd.Context(), st)
		},
	}
}

// readBatch picks a parser from --format, or from the file extension.
func readBatch(path, format, source string) (reforms.Batch, error) {
	if format == "" {
		format = "json"
		if strings.HasSuffix(strings.ToLower(path), ".csv") {
			format = "csv"
		}
	}
	switch format {
	case "csv":
		if source == "" {
			source = "mercatus"
		}
		return importer.ParseMercatusFile(path, source)
	case "json":
		return importer.ParseJSONFile(path, source)
	}
	return reforms.Batch{}, fmt.Errorf("unknown format %q (want csv or json)", format)
}

func (a *app) ingestCommand() *cobra.Command {
	var (
		file   string
		format string
		source string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a tracker export",
		Example: `  reformctl ingest --file mercatus.csv
  reformctl ingest --file prn.json --source PRN --dry-run`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := readBatch(file, format, source)
			if err != nil {
				return err
			}
			st, err := a.store()
			if err != nil {
				return err
			}
			report, err := reforms.NewPipeline(st).Ingest(cmd.Context(), b, reforms.IngestOptions{DryRun: dryRun})
			if report != nil {
				for _, f := range report.Failures {
					logging.Default().Warn().Int("index", f.Index).Err(f.Err).Msg("record skipped")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d created, %d updated, %d failed (%s)\n",
					report.Run.Status, report.Run.ReformsCreated, report.Run.ReformsUpdated,
					report.Run.RecordsFailed, report.Run.ID)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "export file")
	cmd.Flags().StringVar(&format, "format", "", "csv or json (default from extension)")
	cmd.Flags().StringVar(&source, "source", "", "source short name")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the batch and roll it back")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) enrichCommand() *cobra.Command {
	var (
		file  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Apply AI enrichment results from a JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var results []reforms.EnrichmentResult
			if err := json.Unmarshal(raw, &results); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}

			st, err := a.store()
			if err != nil {
				return err
			}
			e := reforms.NewEnricher(st, reforms.EnricherConfig{
				Version:  a.cfg.EnrichmentVersion,
				Provider: a.cfg.AIProvider,
				Model:    a.cfg.AIModel,
			})

			ctx := cmd.Context()
			pending, err := e.Pending(ctx, force, 0)
			if err != nil {
				return err
			}
			results = onlyPending(results, pending)
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to enrich")
				return nil
			}

			run, err := e.Run(ctx, results)
			if run != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d enriched, %d merged, %d failed (%s)\n",
					run.Status, run.ReformsEnriched, run.ReformsMerged, run.ReformsFailed, run.ID)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON array of enrichment results")
	cmd.Flags().BoolVar(&force, "force", false, "re-enrich reforms already at the current version")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func onlyPending(results []reforms.EnrichmentResult, pending []int64) []reforms.EnrichmentResult {
	want := make(map[int64]bool, len(pending))
	for _, id := range pending {
		want[id] = true
	}
	out := results[:0]
	for _, r := range results {
		if want[r.ReformID] {
			out = append(out, r)
		}
	}
	return out
}

func (a *app) mergeCommand() *cobra.Command {
	var loser, target int64
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge one reform into another and delete it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}
			merged, err := reforms.Merge(cmd.Context(), st, loser, target, reforms.MergeInput{})
			if err != nil {
				return err
			}
			if !merged {
				return errors.New("merge aborted: reform not found")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "merged %d into %d\n", loser, target)
			return nil
		},
	}
	cmd.Flags().Int64Var(&loser, "loser", 0, "reform to fold in and delete")
	cmd.Flags().Int64Var(&target, "target", 0, "reform that survives")
	_ = cmd.MarkFlagRequired("loser")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func (a *app) geocodeCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "geocode",
		Short: "Fill missing place coordinates from Nominatim",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}
			c, err := geocoding.NewClient("", a.cfg.GeocoderUserAgent, geocoding.NewThrottle(a.cfg.GeocoderRate))
			if err != nil {
				return err
			}
			n, err := geocoding.GeocodeMissing(cmd.Context(), st, c, limit)
			fmt.Fprintf(cmd.OutOrStdout(), "geocoded %d places\n", n)
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum places to look up")
	return cmd
}
