package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/sentinel/internal/logging"
	"github.com/ppiankov/sentinel/internal/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Version is set at build time via -ldflags
var Version = "v0.1.0"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Sentinel - content curation pipeline",
	Long: `Sentinel pulls posts from Telegram channels, subreddits and RSS/Atom feeds,
collapses near-duplicates across sources and asks an LLM provider chain for a
credibility score. Only unique, scored records reach the feed.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := viper.GetString("log.level")
		if verbose {
			level = "debug"
		}
		// stdout carries command output; logs go to stderr
		logging.SetOutput(os.Stderr)
		return logging.Init(level, viper.GetString("log.format"))
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("sentinel " + Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.sentinel/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if err := registerDefaults(viper.GetViper(), model.DefaultConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "Error registering defaults: %v\n", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(filepath.Join(home, ".sentinel"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// SENTINEL_SCHEDULER_JITTER overrides scheduler.jitter
	viper.SetEnvPrefix("SENTINEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// registerDefaults makes every key of defaults known to v, so env overrides
// apply to keys the config file never mentions
func registerDefaults(v *viper.Viper, defaults model.Config) error {
	data, err := yaml.Marshal(defaults)
	if err != nil {
		return err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return err
	}
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, val := range node {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if child, ok := val.(map[string]any); ok {
				walk(key, child)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)
	return nil
}

// loadConfig overlays the config file and environment onto the defaults
func loadConfig() (model.Config, error) {
	return decodeConfig(viper.GetViper())
}

func decodeConfig(v *viper.Viper) (model.Config, error) {
	cfg := model.DefaultConfig()
	// decoding a shorter list over a default one would keep the default's tail
	if v.IsSet("scoring.providers") {
		cfg.Scoring.Providers = nil
	}
	if v.IsSet("kafka.brokers") {
		cfg.Kafka.Brokers = nil
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return model.Config{}, fmt.Errorf("decode config: %w", err)
	}
	applyEnvKeys(&cfg)
	return cfg, nil
}

// applyEnvKeys fills API keys and endpoints the config leaves empty from the
// conventional provider variables
func applyEnvKeys(cfg *model.Config) {
	for i := range cfg.Scoring.Providers {
		p := &cfg.Scoring.Providers[i]
		if p.APIKey == "" {
			p.APIKey = os.Getenv(apiKeyEnv(p.Name))
		}
		if p.BaseURL == "" && strings.EqualFold(p.Name, "ollama") {
			p.BaseURL = os.Getenv("OLLAMA_BASE_URL")
		}
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = os.Getenv(apiKeyEnv(cfg.Embedding.Provider))
	}
	if cfg.Embedding.BaseURL == "" && strings.EqualFold(cfg.Embedding.Provider, "ollama") {
		cfg.Embedding.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}
}

func apiKeyEnv(provider string) string {
	switch strings.ToLower(provider) {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic", "claude":
		return "ANTHROPIC_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	default:
		return ""
	}
}
