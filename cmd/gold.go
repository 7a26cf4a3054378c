package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/strata-etl/strata/internal/gold"
)

var goldLimit int

func init() {
	goldCmd.Flags().IntVar(&goldLimit, "limit", 20, "Row limit for top-N tables")
	rootCmd.AddCommand(goldCmd)
}

var goldCmd = &cobra.Command{
	Use:   "gold",
	Short: "Print aggregations over the silver tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStores()
		if err != nil {
			return err
		}
		defer st.close()

		ctx := cmd.Context()
		agg := gold.NewAggregator(st.silver.DB())

		types, err := agg.EventTypeCounts(ctx)
		if err != nil {
			return err
		}
		fmt.Println("== events by type ==")
		for _, tc := range types {
			fmt.Printf("%-40s %d\n", tc.EventType, tc.Count)
		}

		actors, err := agg.TopActors(ctx, goldLimit)
		if err != nil {
			return err
		}
		fmt.Println("\n== top actors ==")
		for _, a := range actors {
			fmt.Printf("%-40s %d events (%d bot)\n", a.Login, a.TotalEvents, a.BotEvents)
		}

		repos, err := agg.TopRepos(ctx, goldLimit)
		if err != nil {
			return err
		}
		fmt.Println("\n== top repositories ==")
		for _, r := range repos {
			fmt.Printf("%-40s %d events\n", r.Name, r.TotalEvents)
		}

		orgs, err := agg.TopOrgs(ctx, goldLimit)
		if err != nil {
			return err
		}
		if len(orgs) > 0 {
			fmt.Println("\n== top organizations ==")
			for _, o := range orgs {
				fmt.Printf("%-40s %d events\n", o.Login, o.TotalEvents)
			}
		}

		hours, err := agg.HourlySummaries(ctx)
		if err != nil {
			return err
		}
		fmt.Println("\n== hourly summary (csv) ==")
		return gold.WriteHourlyCSV(os.Stdout, hours)
	},
}
