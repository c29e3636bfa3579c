package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/takeoff/internal/learning"
	"github.com/sells-group/takeoff/internal/model"
)

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "List learned description to layer mappings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		owner, _ := cmd.Flags().GetString("owner")
		query, _ := cmd.Flags().GetString("q")
		discipline, _ := cmd.Flags().GetString("discipline")

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "mappings: migrate")
		}

		svc := learning.NewService(st, cfg.Learning)
		found, err := svc.Mappings(ctx, owner, query, discipline)
		if err != nil {
			return eris.Wrap(err, "mappings")
		}
		if len(found) == 0 {
			fmt.Fprintln(os.Stderr, "No mappings found.")
			return nil
		}
		formatMappings(os.Stdout, found)
		return nil
	},
}

func formatMappings(w io.Writer, ms []model.LearnedMapping) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DESCRIPTION\tUNIT\tLAYER\tKIND\tUSES\tCONFIDENCE\tLAST USED")
	for _, m := range ms {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%.2f\t%s\n",
			truncate(m.Description, 40), m.Unit, m.Layer, m.Kind, m.UsageCount, m.Confidence,
			m.LastUsedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	mappingsCmd.Flags().String("owner", "", "owner id")
	mappingsCmd.Flags().String("q", "", "description to look up")
	mappingsCmd.Flags().String("discipline", "", "restrict to one discipline")
	_ = mappingsCmd.MarkFlagRequired("owner")
	_ = mappingsCmd.MarkFlagRequired("q")
	rootCmd.AddCommand(mappingsCmd)
}
