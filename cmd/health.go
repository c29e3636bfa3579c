package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/takeoff/internal/aggregate"
	"github.com/sells-group/takeoff/internal/config"
	"github.com/sells-group/takeoff/internal/health"
	"github.com/sells-group/takeoff/internal/model"
	"github.com/sells-group/takeoff/internal/normalize"
	"github.com/sells-group/takeoff/internal/pipeline"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check whether a drawing's geometry is plausible for takeoff",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("drawing")
		unit, _ := cmd.Flags().GetString("unit")
		asJSON, _ := cmd.Flags().GetBool("json")

		if unit != "" {
			cfg.Normalize.Unit = unit
		}
		rep, scale, err := checkDrawing(cmd.Context(), cfg, path)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}
		formatHealth(os.Stdout, rep, scale)
		if rep.Invalid() {
			return eris.Errorf("health: %s", rep.DatasetStatus)
		}
		return nil
	},
}

func checkDrawing(ctx context.Context, c *config.Config, path string) (model.HealthReport, model.Scale, error) {
	src := pipeline.DrawingSource{
		Path:         path,
		UnitOverride: c.Normalize.Unit,
		ExpandBlocks: c.Normalize.ExpandBlocks,
		Workers:      c.Normalize.Workers,
	}
	res, err := src.Load(ctx, "")
	if err != nil {
		return model.HealthReport{}, model.Scale{}, eris.Wrapf(err, "health: load %s", path)
	}
	aggs := aggregate.Build(res.Items)
	return health.Check(aggs, res.Items, normalize.Diagonal(res.Bounds), c.Health), res.Scale, nil
}

func formatHealth(w io.Writer, rep model.HealthReport, scale model.Scale) {
	fmt.Fprintf(w, "Status:        %s\n", rep.Status)
	if rep.DatasetStatus != "" {
		fmt.Fprintf(w, "Dataset:       %s\n", rep.DatasetStatus)
	}
	fmt.Fprintf(w, "Scale:         %s (%s)\n", scale.Unit, scale.Source)
	fmt.Fprintf(w, "BBox diagonal: %.2f m\n", rep.BBoxDiagonalM)
	fmt.Fprintf(w, "Total area:    %.2f m²\n", rep.TotalAreaM2)
	fmt.Fprintf(w, "Total length:  %.2f m\n", rep.TotalLengthM)

	if len(rep.Issues) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SEVERITY\tCODE\tMESSAGE")
		for _, is := range rep.Issues {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", is.Severity, is.Code, is.Message)
		}
		tw.Flush() //nolint:errcheck
	}
}

func init() {
	healthCmd.Flags().String("drawing", "", "drawing file (.json, .dxf, .shp)")
	healthCmd.Flags().String("unit", "", "force drawing unit: mm, cm, m, in, ft")
	healthCmd.Flags().Bool("json", false, "print the report as JSON")
	_ = healthCmd.MarkFlagRequired("drawing")
	rootCmd.AddCommand(healthCmd)
}
