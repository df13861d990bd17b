package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/ai"
	"github.com/spigell/jobhunter/internal/ai/gemini"
	"github.com/spigell/jobhunter/internal/feedback"
	"github.com/spigell/jobhunter/internal/filtering"
	"github.com/spigell/jobhunter/internal/jobfeed"
	"github.com/spigell/jobhunter/internal/logger"
	"github.com/spigell/jobhunter/internal/platform"
	"github.com/spigell/jobhunter/internal/profile"
	"github.com/spigell/jobhunter/internal/ranking"
	"github.com/spigell/jobhunter/internal/secrets"
	"github.com/spigell/jobhunter/internal/store"
	"github.com/spigell/jobhunter/internal/submit"
	"github.com/spigell/jobhunter/internal/tracker"
)

const (
	PromptYes               = "Yes"
	PromptNo                = "No"
	PromptReportByCompanies = "Report by companies"
	PromptPostingsToFile    = "Dump postings to file"

	feedSourceFile     = "file"
	feedSourcePlatform = "platform"
)

var errExit = errors.New("exit requested")

var prompt = promptui.Select{
	Label: "Proceed?",
	Items: []string{PromptYes, PromptNo, PromptReportByCompanies, PromptPostingsToFile},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch postings, rank them against the profile and apply to the best matches",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("do-not-exclude-applied", "f", false, "do not exclude postings if already applied")
	runCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation if found suitable postings")
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the jobhunter", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if config == nil {
		logger.Fatal("config is required")
	}

	if config.Profile == nil {
		logger.Fatal("candidate profile is required under the profile section")
	}

	candidate := config.Profile.Normalize()
	if err := candidate.Validate(); err != nil {
		logger.Fatal("validating the profile", zap.Error(err))
	}

	if candidate.ResumeTitle == "" {
		logger.Fatal("resume title is required under profile.resume-title to apply to postings")
	}

	st, err := store.Open(config.storePath())
	if err != nil {
		logger.Fatal("opening the application store", zap.Error(err))
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		logger.Fatal("migrating the application store", zap.Error(err))
	}

	tr := tracker.New(st, feedback.NewLogSink(logger), logger)

	token, err := resolveToken(config)
	if err != nil {
		logger.Fatal(
			"loading platform token",
			zap.Error(err),
			zap.String("hint", "set JOBHUNTER_TOKEN_FILE environment variable or the 'platform.token-file' key in the configuration file"),
		)
	}

	client := platform.New(logger, token, candidate.CandidateID)
	if config.Platform != nil {
		if config.Platform.APIURL != "" {
			client.APIURL = config.Platform.APIURL
		}
		if config.Platform.UserAgent != "" {
			client.UserAgent = config.Platform.UserAgent
		}
	}

	postings, err := getPostings(ctx, config, client, logger)
	if err != nil {
		logger.Fatal("getting available postings", zap.Error(err))
	}

	if postings.Len() == 0 {
		logger.Info("exiting", zap.String("reason", "no postings found"))
		return
	}

	for _, posting := range postings.Items {
		if err := st.UpsertPosting(ctx, posting); err != nil {
			logger.Warn("persisting posting", zap.String("job_id", posting.ID), zap.Error(err))
		}
	}

	matcher := prepareAIMatcher(ctx, config.AI, logger)

	deps := filtering.Deps{
		Tracker: tr,
		Logger:  logger,
		Profile: candidate,
		Matcher: matcher,
	}

	steps := prepareFilters(cmd, config, matcher)

	postings, _, err = filtering.Run(ctx, filtersConfig(config), deps, steps, postings)
	if err != nil {
		logger.Fatal("filtering failed", zap.Error(err))
	}

	if postings.Len() == 0 {
		logger.Info("exiting", zap.String("reason", "no postings left after filters"))
		return
	}

	shortlist, err := rankPostings(config, candidate, postings, logger)
	if err != nil {
		logger.Fatal("ranking failed", zap.Error(err))
	}

	if shortlist.Len() == 0 {
		logger.Info("exiting", zap.String("reason", "no postings left after ranking"))
		return
	}

	coordinator := submit.New(tr, client, nil, candidate, submissionConfig(config), logger)

	action := PromptYes
	for {
		var err error
		if cmd.Flag("auto-approve").Value.String() == "false" {
			_, action, err = prompt.Run()
			if err != nil {
				logger.Fatal("exiting", zap.Error(err))
			}
		}

		logger.Info("current list of postings", zap.Int("count", shortlist.Len()))

		if err := handleAction(ctx, action, coordinator, tr, st, logger, candidate, shortlist); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			logger.Fatal("exiting", zap.Error(err))
		}
	}
}

func handleAction(ctx context.Context, action string, coordinator *submit.Coordinator, tr *tracker.Tracker, st *store.Store, logger *zap.Logger, candidate *profile.Profile, postings *jobfeed.Postings) error {
	switch action {
	case PromptYes:
		return apply(ctx, coordinator, tr, st, logger, candidate, postings)
	case PromptNo:
		logger.Info("exiting", zap.String("reason", "got no from prompt"))
		return errExit
	case PromptReportByCompanies:
		pretty, _ := json.MarshalIndent(postings.ReportByCompany(), "", "  ")
		logger.Info(string(pretty), zap.Int("postings count", postings.Len()))
		return nil
	case PromptPostingsToFile:
		filename, err := postings.DumpToTmpFile()
		if err != nil {
			return fmt.Errorf("dump results to file: %w", err)
		}
		logger.Info("dumping result to file", zap.String("filename", filename))
		return nil
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

// apply queues an application record per posting and drives them all to a
// settled state.
func apply(ctx context.Context, coordinator *submit.Coordinator, tr *tracker.Tracker, st *store.Store, logger *zap.Logger, candidate *profile.Profile, postings *jobfeed.Postings) error {
	recordIDs := make([]string, 0, postings.Len())
	for _, posting := range postings.Items {
		rec, err := tr.GetOrCreate(ctx, candidate.CandidateID, posting.ID)
		if err != nil {
			return fmt.Errorf("queueing application for %s: %w", posting.ID, err)
		}
		recordIDs = append(recordIDs, rec.ID)
	}

	coordinator.Run(ctx, recordIDs)

	counts, err := st.StatusCounts(ctx)
	if err != nil {
		return fmt.Errorf("summarizing applications: %w", err)
	}

	logger.Info("submission pass finished",
		zap.Int("queued_this_pass", len(recordIDs)),
		zap.Any("totals_by_status", counts),
	)

	return errExit
}

func resolveToken(config *Config) (string, error) {
	if config == nil {
		return "", errors.New("config is required")
	}

	tokenFile := ""
	if config.Platform != nil {
		tokenFile = strings.TrimSpace(config.Platform.TokenFile)
	}
	if tokenFile == "" {
		tokenFile = strings.TrimSpace(viper.GetString("platform.token-file"))
	}

	return secrets.Load(secrets.Source{
		Name: "platform token",
		File: tokenFile,
	})
}

// getPostings returns postings from the configured feed.
func getPostings(ctx context.Context, config *Config, client *platform.Client, logger *zap.Logger) (*jobfeed.Postings, error) {
	var feed jobfeed.Feed = client

	if config.Feed != nil && strings.EqualFold(config.Feed.Source, feedSourceFile) {
		if config.Feed.Path == "" {
			return nil, errors.New("feed.path is required when feed.source is file")
		}
		feed = jobfeed.NewFileFeed(config.Feed.Path, logger)
	} else if config.Feed != nil && config.Feed.Source != "" && !strings.EqualFold(config.Feed.Source, feedSourcePlatform) {
		return nil, fmt.Errorf("unsupported feed source: %s", config.Feed.Source)
	}

	postings, err := feed.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	logger.Info("getting postings", zap.Int("count", postings.Len()))
	return postings, nil
}

// rankPostings scores the postings and returns the shortlist in ranked
// order, already cut by the score threshold and the top-N cap.
func rankPostings(config *Config, candidate *profile.Profile, postings *jobfeed.Postings, logger *zap.Logger) (*jobfeed.Postings, error) {
	weights := ranking.DefaultWeights()
	minScore := 0.0
	top := 0

	if config.Ranking != nil {
		if config.Ranking.Weights != nil {
			weights = *config.Ranking.Weights
		}
		minScore = config.Ranking.MinScore
		top = config.Ranking.Top
	}

	engine := ranking.NewEngine(logger)

	result, err := engine.Rank(candidate, postings, weights)
	if err != nil {
		return nil, err
	}

	for _, skipped := range result.Skipped {
		logger.Debug("posting skipped by ranking",
			zap.String("job_id", skipped.JobID),
			zap.String("reason", skipped.Reason),
		)
	}

	shortlist := &jobfeed.Postings{}
	for _, match := range result.Ranked {
		if minScore > 0 && match.Score < minScore {
			break
		}
		if top > 0 && shortlist.Len() >= top {
			break
		}

		posting := postings.FindByID(match.JobID)
		if posting == nil {
			continue
		}

		logger.Info("posting ranked",
			zap.String("job_id", match.JobID),
			zap.String("title", posting.Title),
			zap.String("company", posting.Company),
			zap.Float64("score", match.Score),
			zap.Int("missing_required", match.MissingRequired),
			zap.Any("components", sortedComponents(match)),
		)

		shortlist.Items = append(shortlist.Items, posting)
	}

	logger.Info("ranking finished",
		zap.Int("ranked", len(result.Ranked)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("shortlisted", shortlist.Len()),
		zap.Int("weights_version", weights.Version),
	)

	return shortlist, nil
}

func sortedComponents(match ranking.MatchScore) []string {
	parts := make([]string, 0, len(match.Components))
	for name, value := range match.Components {
		parts = append(parts, fmt.Sprintf("%s=%.3f", name, value))
	}
	sort.Strings(parts)
	return parts
}

func filtersConfig(config *Config) *filtering.Config {
	cfg := config.Filters
	if cfg == nil {
		cfg = &filtering.Config{}
	}

	if config.AI != nil {
		cfg.AI = &filtering.AIConfig{
			Enabled:         config.AI.Enabled,
			Provider:        config.AI.Provider,
			MinimumFitScore: config.AI.MinimumFitScore,
		}
		if config.AI.Gemini != nil {
			cfg.AI.Gemini = &filtering.GeminiConfig{
				Model:        config.AI.Gemini.Model,
				MaxRetries:   config.AI.Gemini.MaxRetries,
				MaxLogLength: config.AI.Gemini.MaxLogLength,
			}
		}
	}

	return cfg
}

func prepareFilters(cmd *cobra.Command, config *Config, matcher ai.Matcher) []filtering.Filter {
	ignoreApplied := false
	if cmd != nil {
		flag := cmd.Flag("do-not-exclude-applied")
		if flag != nil && strings.EqualFold(flag.Value.String(), "true") {
			ignoreApplied = true
		}
	}

	steps := []filtering.Filter{
		filtering.NewCompanies(),
		filtering.NewPostedWithin(),
		filtering.NewKeywords(),
		filtering.NewAppliedHistory(ignoreApplied),
		filtering.NewAIFit(),
	}

	if config.AI == nil || !config.AI.Enabled {
		filtering.DisableByName(steps, "ai_fit", "ai is disabled in config")
	} else if matcher == nil {
		filtering.DisableByName(steps, "ai_fit", "ai matcher could not be built")
	}

	return steps
}

func prepareAIMatcher(ctx context.Context, cfg *AIConfig, logger *zap.Logger) ai.Matcher {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	matcher, err := newAIMatcher(ctx, cfg, logger)
	if err != nil {
		logger.Warn("skipping AI filter", zap.Error(err))
		return nil
	}

	return matcher
}

func newAIMatcher(ctx context.Context, cfg *AIConfig, logger *zap.Logger) (ai.Matcher, error) {
	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	if cfg.Gemini == nil {
		return nil, errors.New("gemini configuration is required when ai filter is enabled")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		Env:  "GEMINI_API_KEY",
		File: cfg.Gemini.APIKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model)
	if err != nil {
		return nil, err
	}

	minScore := cfg.MinimumFitScore
	if minScore < 0 {
		minScore = 0
	}

	matcherLogger := logger.With(
		zap.String("provider", "gemini"),
		zap.String("model", generator.Model()),
		zap.Float64("minimum_fit_score", minScore),
	)

	return gemini.NewMatcher(generator, matcherLogger, minScore, cfg.Gemini.MaxRetries, cfg.Gemini.MaxLogLength), nil
}

func submissionConfig(config *Config) *submit.Config {
	if config.Submission != nil {
		return config.Submission
	}
	return submit.DefaultConfig()
}
