package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/takeoff/internal/diagnostics"
	"github.com/sells-group/takeoff/internal/model"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Compare computed quantities with expected BoQ quantities",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		resultsPath, _ := cmd.Flags().GetString("results")
		runID, _ := cmd.Flags().GetString("run")
		asJSON, _ := cmd.Flags().GetBool("json")

		var results []model.MatchResult
		switch {
		case resultsPath != "":
			data, err := os.ReadFile(resultsPath)
			if err != nil {
				return eris.Wrapf(err, "diagnose: read %s", resultsPath)
			}
			results, err = decodeResults(data)
			if err != nil {
				return err
			}
		case runID != "":
			st, err := initStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			if _, err := st.GetRun(ctx, runID); err != nil {
				return eris.Wrapf(err, "diagnose: run %s", runID)
			}
			results, err = st.ListResults(ctx, runID)
			if err != nil {
				return eris.Wrap(err, "diagnose: list results")
			}
		default:
			return eris.New("diagnose: --results or --run is required")
		}

		rep := diagnostics.Build(results, cfg.Diagnostics)
		rep.RunID = runID

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}
		formatReport(os.Stdout, rep)
		return nil
	},
}

// decodeResults accepts either a bare result array or a run output file
// written by `run --out`.
func decodeResults(data []byte) ([]model.MatchResult, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var results []model.MatchResult
		if err := json.Unmarshal(data, &results); err != nil {
			return nil, eris.Wrap(err, "diagnose: decode results")
		}
		return results, nil
	}
	var out struct {
		Results []model.MatchResult `json:"results"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "diagnose: decode run output")
	}
	return out.Results, nil
}

func formatReport(w io.Writer, rep diagnostics.Report) {
	s := rep.Summary
	fmt.Fprintf(w, "Rows: %d  compared: %d  avg abs error: %.2f  avg %% error: %.1f%%\n",
		s.Rows, s.Compared, s.AvgAbsError, s.AvgPctError)
	fmt.Fprintf(w, "Large errors: %d  not measured: %d  no expected: %d  outliers: %d  suspects: %d\n",
		s.LargeErrors, s.NoComputed, s.NoExpected, s.Outliers, s.Suspects)

	if len(rep.Errors) > 0 {
		fmt.Fprintln(w, "\nLargest deviations:")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ROW\tDESCRIPTION\tEXPECTED\tCOMPUTED\tABS\tPCT\tLAYER")
		for _, e := range rep.Errors {
			fmt.Fprintf(tw, "%d\t%s\t%.2f\t%.2f\t%.2f\t%s\t%s\n",
				e.RowIndex, truncate(e.Description, 40), e.Expected, e.Computed, e.AbsError, formatPct(e.PctError), e.SourceLayer)
		}
		tw.Flush() //nolint:errcheck
	}

	if len(rep.Outliers) > 0 {
		fmt.Fprintln(w, "\nUnverified large quantities:")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ROW\tDESCRIPTION\tKIND\tCOMPUTED\tTHRESHOLD")
		for _, o := range rep.Outliers {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\t%.2f\n", o.RowIndex, truncate(o.Description, 40), o.MeasureKind, o.Computed, o.Threshold)
		}
		tw.Flush() //nolint:errcheck
	}

	if len(rep.Suspects) > 0 {
		fmt.Fprintln(w, "\nArea rows without area evidence:")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ROW\tDESCRIPTION\tUNIT\tEVIDENCE\tLAYER")
		for _, sp := range rep.Suspects {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", sp.RowIndex, truncate(sp.Description, 40), sp.Unit, sp.EvidenceKind, sp.SourceLayer)
		}
		tw.Flush() //nolint:errcheck
	}
}

func formatPct(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *p)
}

func init() {
	diagnoseCmd.Flags().String("results", "", "results JSON (array or `run --out` file)")
	diagnoseCmd.Flags().String("run", "", "run id to load from the store")
	diagnoseCmd.Flags().Bool("json", false, "print the report as JSON")
	rootCmd.AddCommand(diagnoseCmd)
}
