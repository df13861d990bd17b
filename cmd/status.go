package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/logger"
	"github.com/spigell/jobhunter/internal/store"
	"github.com/spigell/jobhunter/internal/tracker"
)

const recentRecordsLimit = 10

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show application counts by status and the most recent activity",
	Run: func(_ *cobra.Command, _ []string) {
		status()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func status() {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	st, err := store.Open(config.storePath())
	if err != nil {
		logger.Fatal("opening the application store", zap.Error(err))
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		logger.Fatal("migrating the application store", zap.Error(err))
	}

	counts, err := st.StatusCounts(ctx)
	if err != nil {
		logger.Fatal("counting applications", zap.Error(err))
	}

	total := 0
	for _, count := range counts {
		total += count
	}

	fmt.Printf("applications: %d total\n", total)
	for _, s := range []tracker.Status{
		tracker.StatusQueued,
		tracker.StatusSubmitting,
		tracker.StatusSubmitted,
		tracker.StatusFailed,
		tracker.StatusRejected,
		tracker.StatusWithdrawn,
	} {
		if count := counts[string(s)]; count > 0 {
			fmt.Printf("  %-12s %d\n", s, count)
		}
	}

	recent, err := st.RecentlyUpdated(ctx, recentRecordsLimit)
	if err != nil {
		logger.Fatal("listing recent applications", zap.Error(err))
	}

	if len(recent) == 0 {
		return
	}

	fmt.Println("\nrecent activity:")
	for _, rec := range recent {
		line := fmt.Sprintf("  %s  job=%s status=%s attempts=%d updated=%s",
			rec.ID, rec.JobID, rec.Status, rec.Attempts, rec.UpdatedAt.Format("2006-01-02 15:04"),
		)
		if rec.LastFailure != "" {
			line += fmt.Sprintf(" last_failure=%q", rec.LastFailure)
		}
		fmt.Println(line)
	}
}
