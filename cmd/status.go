package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusResetFailed bool

func init() {
	statusCmd.Flags().BoolVar(&statusResetFailed, "reset-failed", false, "Move failed files back to pending for retry")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-file checkpoint state",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStores()
		if err != nil {
			return err
		}
		defer st.close()

		ctx := cmd.Context()
		if statusResetFailed {
			n, err := st.checkpoints.ResetFailed(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%d failed files reset to pending\n", n)
		}

		files, err := st.checkpoints.List(ctx)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Println("no files tracked yet")
			return nil
		}
		fmt.Printf("%-24s %-12s %-9s %s\n", "FILE", "STATUS", "ATTEMPTS", "UPDATED")
		for _, f := range files {
			fmt.Printf("%-24s %-12s %-9d %s\n",
				f.FileID, f.Status, f.Attempts, f.UpdatedAt.Format("2006-01-02 15:04:05"))
		}

		records, err := st.bronze.Count(ctx)
		if err != nil {
			return err
		}
		events, err := st.silver.CountEvents(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("\nbronze records: %d, silver events: %d\n", records, events)
		return nil
	},
}
