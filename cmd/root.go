package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/jobhunter/internal/filtering"
	"github.com/spigell/jobhunter/internal/profile"
	"github.com/spigell/jobhunter/internal/ranking"
	"github.com/spigell/jobhunter/internal/submit"
)

const (
	app = "jobhunter"

	defaultStorePath = "jobhunter.db"
)

type Config struct {
	Profile    *profile.Profile  `mapstructure:"profile"`
	Feed       *FeedConfig       `mapstructure:"feed"`
	Store      *StoreConfig      `mapstructure:"store"`
	Ranking    *RankingConfig    `mapstructure:"ranking"`
	Filters    *filtering.Config `mapstructure:"filters"`
	Submission *submit.Config    `mapstructure:"submission"`
	Platform   *PlatformConfig   `mapstructure:"platform"`
	AI         *AIConfig         `mapstructure:"ai"`
}

// FeedConfig selects where postings come from: the platform API or a local
// JSON file produced by an external fetcher.
type FeedConfig struct {
	Source string `mapstructure:"source"`
	Path   string `mapstructure:"path"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type RankingConfig struct {
	// MinScore drops ranked postings scoring below it. Zero keeps everything.
	MinScore float64 `mapstructure:"min-score"`
	// Top caps how many ranked postings move on to submission. Zero means no cap.
	Top     int                `mapstructure:"top"`
	Weights *ranking.WeightSet `mapstructure:"weights"`
}

type PlatformConfig struct {
	APIURL    string `mapstructure:"api-url"`
	UserAgent string `mapstructure:"user-agent"`
	TokenFile string `mapstructure:"token-file"`
}

type AIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Provider        string        `mapstructure:"provider"`
	MinimumFitScore float64       `mapstructure:"minimum-fit-score"`
	Gemini          *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "jobhunter is a cli for ranking job postings against a candidate profile and applying to the best matches",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("platform.token-file", "JOBHUNTER_TOKEN_FILE"); err != nil {
		log.Fatalf("binding JOBHUNTER_TOKEN_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is jobhunter.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}

func (c *Config) storePath() string {
	if c != nil && c.Store != nil && c.Store.Path != "" {
		return c.Store.Path
	}
	return defaultStorePath
}
