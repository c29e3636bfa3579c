package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/takeoff/internal/boq"
	"github.com/sells-group/takeoff/internal/config"
	"github.com/sells-group/takeoff/internal/model"
	"github.com/sells-group/takeoff/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a takeoff of a BoQ against one or more drawings",
	Example: `  takeoff run --drawing A-101.dxf --boq presupuesto.xlsx --owner acme
  takeoff run --drawing A-101.json --drawing A-102.json --boq boq.csv --unit mm --out results.json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		drawings, _ := cmd.Flags().GetStringSlice("drawing")
		documents, _ := cmd.Flags().GetStringSlice("document")
		boqPath, _ := cmd.Flags().GetString("boq")
		sheet, _ := cmd.Flags().GetString("sheet")
		owner, _ := cmd.Flags().GetString("owner")
		unit, _ := cmd.Flags().GetString("unit")
		expand, _ := cmd.Flags().GetBool("expand-blocks")
		outPath, _ := cmd.Flags().GetString("out")
		noStore, _ := cmd.Flags().GetBool("no-store")

		if len(drawings) == 0 && len(documents) == 0 {
			return eris.New("run: at least one --drawing or --document is required")
		}
		if unit != "" {
			cfg.Normalize.Unit = unit
		}
		if expand {
			cfg.Normalize.ExpandBlocks = true
		}
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		rows, err := boq.Read(ctx, boqPath, boq.Options{Sheet: sheet})
		if err != nil {
			return eris.Wrap(err, "run: read boq")
		}

		var e *env
		if noStore {
			e, err = newEnv(cfg, nil)
		} else {
			e, err = initEnv(ctx, cfg)
		}
		if err != nil {
			return err
		}
		defer e.Close()

		sources, err := buildSources(cfg, e, drawings, documents)
		if err != nil {
			return err
		}

		out, runErr := e.Pipeline.Run(ctx, pipeline.Input{
			OwnerID: owner,
			BoQName: filepath.Base(boqPath),
			Sources: sources,
			Rows:    rows,
		})
		if out == nil {
			return runErr
		}

		for _, w := range out.Warnings {
			zap.L().Warn("run: warning", zap.String("warning", w))
		}
		if outPath != "" {
			if err := writeJSON(outPath, out); err != nil {
				return err
			}
		} else {
			formatResults(os.Stdout, out)
		}
		return runErr
	},
}

func buildSources(c *config.Config, e *env, drawings, documents []string) ([]pipeline.Source, error) {
	var sources []pipeline.Source
	for _, d := range drawings {
		sources = append(sources, pipeline.DrawingSource{
			Path:         d,
			UnitOverride: c.Normalize.Unit,
			ExpandBlocks: c.Normalize.ExpandBlocks,
			Workers:      c.Normalize.Workers,
		})
	}
	if len(documents) > 0 && e.Extract == nil {
		return nil, eris.New("run: --document requires extract.url to be configured")
	}
	for _, id := range documents {
		sources = append(sources, pipeline.RemoteSource{Client: e.Extract, DocumentID: id})
	}
	return sources, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal output")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "write %s", path)
	}
	return nil
}

func formatResults(w io.Writer, out *pipeline.Output) {
	fmt.Fprintf(w, "Run:     %s (%s)\n", out.RunID, out.Status)
	if out.Health.Status != "" {
		fmt.Fprintf(w, "Health:  %s", out.Health.Status)
		if out.Health.DatasetStatus != "" {
			fmt.Fprintf(w, " [%s]", out.Health.DatasetStatus)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Items:   %d in %d layer aggregates\n\n", len(out.Items), len(out.Aggregates))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tDESCRIPTION\tUNIT\tQTY\tEXPECTED\tLAYER\tTIER\tSTATUS")
	for _, r := range out.Results {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RowIndex,
			truncate(r.Description, 40),
			r.Unit,
			formatQty(r.QtyFinal),
			formatQty(r.ExpectedQty),
			r.SourceLayer,
			r.ConfidenceTier,
			r.Status,
		)
	}
	tw.Flush() //nolint:errcheck

	if counts := statusCounts(out.Results); len(counts) > 0 {
		fmt.Fprintf(w, "\nSummary: %s\n", strings.Join(counts, " "))
	}
}

func formatQty(q *float64) string {
	if q == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *q)
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}

// statusCounts tallies results by status in the canonical order.
func statusCounts(results []model.MatchResult) []string {
	counts := make(map[model.MatchStatus]int)
	for _, r := range results {
		counts[r.Status]++
	}
	var lines []string
	for _, s := range model.AllStatuses {
		if counts[s] > 0 {
			lines = append(lines, fmt.Sprintf("%s=%d", s, counts[s]))
		}
	}
	return lines
}

func init() {
	runCmd.Flags().StringSlice("drawing", nil, "drawing file (.json, .dxf, .shp); repeatable")
	runCmd.Flags().StringSlice("document", nil, "remote extraction document id; repeatable")
	runCmd.Flags().String("boq", "", "bill of quantities (.csv, .xlsx, .json)")
	runCmd.Flags().String("sheet", "", "XLSX sheet name (default first sheet)")
	runCmd.Flags().String("owner", "", "owner id for learned mappings")
	runCmd.Flags().String("unit", "", "force drawing unit: mm, cm, m, in, ft")
	runCmd.Flags().Bool("expand-blocks", false, "also emit geometry inside block definitions")
	runCmd.Flags().String("out", "", "write the full run output as JSON to this file")
	runCmd.Flags().Bool("no-store", false, "do not persist the run or consult learned mappings")
	_ = runCmd.MarkFlagRequired("boq")
	rootCmd.AddCommand(runCmd)
}
