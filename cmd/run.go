package cmd

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/strata-etl/strata/internal/archive"
	"github.com/strata-etl/strata/internal/merge"
	"github.com/strata-etl/strata/internal/metrics"
	"github.com/strata-etl/strata/internal/pipeline"
)

var (
	runWatch      bool
	runBronzeOnly bool
)

func init() {
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Keep running and pick up newly landed archives")
	runCmd.Flags().BoolVar(&runBronzeOnly, "bronze-only", false, "Stop after the bronze stage (silver derivable later via 'strata silver')")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process pending archive files through bronze and silver",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.MetricsAddr != "" {
			metrics.Serve(cfg.MetricsAddr)
			logrus.WithField("addr", cfg.MetricsAddr).Info("metrics listening")
		}

		st, err := openStores()
		if err != nil {
			return err
		}
		defer st.close()

		sched := newScheduler(st)
		src := archive.NewSource(osfs.New(cfg.ArchiveDir), ".")

		files, err := src.List()
		if err != nil {
			return err
		}
		rep, err := sched.Run(ctx, files)
		if rep != nil {
			printReport(rep)
		}
		if err != nil {
			return err
		}

		if !runWatch && !cfg.Watch {
			return nil
		}

		incoming := make(chan string, 16)
		go func() {
			if werr := archive.Watch(ctx, cfg.ArchiveDir, incoming); werr != nil && ctx.Err() == nil {
				logrus.WithError(werr).Error("archive watch stopped")
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return nil
			case fileID := <-incoming:
				rep, err := sched.Run(ctx, []string{fileID})
				if rep != nil {
					printReport(rep)
				}
				if err != nil && ctx.Err() == nil {
					return err
				}
			}
		}
	},
}

func newScheduler(st *stores) *pipeline.Scheduler {
	var applier pipeline.Applier
	var sink pipeline.EventSink
	if runBronzeOnly {
		applier = nopApplier{}
		sink = nopSink{}
	} else {
		ap := merge.NewApplier(st.silver)
		ap.OnConflict = metrics.MergeRetries.Inc
		applier = ap
		sink = st.silver
	}
	return pipeline.NewScheduler(
		archive.NewSource(osfs.New(cfg.ArchiveDir), "."),
		st.bronze, st.checkpoints, applier, sink,
		pipeline.Options{
			Workers:     cfg.Workers,
			MaxRetries:  cfg.MaxRetries,
			FileTimeout: cfg.FileTimeout,
		},
	)
}

func printReport(rep *pipeline.Report) {
	fmt.Printf("run %s: %d ingested, %d duplicates, %d skipped, %d files completed, %d files skipped (%s)\n",
		rep.RunID, rep.Ingested, rep.Duplicates, rep.Skipped,
		rep.FilesCompleted, rep.FilesSkipped, rep.Elapsed.Round(time.Millisecond))
	if len(rep.FailedFiles) > 0 {
		fmt.Printf("FAILED files (retry with 'strata status --reset-failed'): %s\n",
			strings.Join(rep.FailedFiles, ", "))
	}
}
