package cmd

import (
	"context"
	"errors"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/feedback"
	"github.com/spigell/jobhunter/internal/logger"
	"github.com/spigell/jobhunter/internal/store"
	"github.com/spigell/jobhunter/internal/tracker"
)

var withdrawCmd = &cobra.Command{
	Use:   "withdraw <job-id>",
	Short: "Withdraw the application for a job posting",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		withdraw(args[0])
	},
}

func init() {
	rootCmd.AddCommand(withdrawCmd)
}

func withdraw(jobID string) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	if config == nil || config.Profile == nil {
		logger.Fatal("candidate profile is required under the profile section")
	}

	candidate := config.Profile.Normalize()

	st, err := store.Open(config.storePath())
	if err != nil {
		logger.Fatal("opening the application store", zap.Error(err))
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		logger.Fatal("migrating the application store", zap.Error(err))
	}

	tr := tracker.New(st, feedback.NewLogSink(logger), logger)

	rec, err := tr.Get(ctx, candidate.CandidateID, jobID)
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			logger.Fatal("no application record for this posting", zap.String("job_id", jobID))
		}
		logger.Fatal("loading application record", zap.Error(err))
	}

	updated, err := tr.Transition(ctx, rec.ID, tracker.EventWithdraw, nil)
	if err != nil {
		if errors.Is(err, tracker.ErrAlreadyTerminal) {
			logger.Fatal("application already settled",
				zap.String("job_id", jobID),
				zap.String("status", string(rec.Status)),
			)
		}
		logger.Fatal("withdrawing application", zap.Error(err))
	}

	logger.Info("application withdrawn",
		zap.String("record_id", updated.ID),
		zap.String("job_id", updated.JobID),
	)
}
