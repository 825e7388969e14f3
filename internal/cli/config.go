package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ppiankov/sentinel/internal/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const configHierarchy = `Configuration hierarchy (highest to lowest priority):
  1. CLI flags
  2. Environment variables (SENTINEL_*, OPENAI_API_KEY, ANTHROPIC_API_KEY, GROQ_API_KEY)
  3. Config file (~/.sentinel/config.yaml)
  4. Defaults`

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Sentinel configuration",
	Long:  "Manage Sentinel configuration files and settings.\n\n" + configHierarchy,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration after defaults, config file and environment are merged. Secrets are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if configFile := viper.ConfigFileUsed(); configFile != "" {
			fmt.Fprintf(os.Stderr, "Configuration file: %s\n\n", configFile)
		} else {
			fmt.Fprintf(os.Stderr, "No configuration file found (using defaults)\n\n")
		}

		if err := writeConfig(cmd.OutOrStdout(), redact(cfg)); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, configHierarchy)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize default configuration file",
	Long:  `Create a default configuration file at ~/.sentinel/config.yaml.`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("error finding home directory: %w", err)
		}

		configDir := filepath.Join(home, ".sentinel")
		configPath := filepath.Join(configDir, "config.yaml")

		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists: %s\nUse 'sentinel config show' to view it, or delete it first to recreate", configPath)
		}

		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}

		f, err := os.Create(configPath)
		if err != nil {
			return fmt.Errorf("error creating config file: %w", err)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("close config file: %w", closeErr)
			}
		}()

		if err := writeConfigFile(f, model.DefaultConfig()); err != nil {
			return err
		}

		fmt.Printf("✓ Created default configuration: %s\n", configPath)
		fmt.Printf("\nTo view the configuration:\n")
		fmt.Printf("  sentinel config show\n")
		return nil
	},
}

// writeConfigFile writes a commented config template
func writeConfigFile(w io.Writer, cfg model.Config) (err error) {
	printf := func(format string, a ...interface{}) {
		if err != nil {
			return
		}
		_, err = fmt.Fprintf(w, format, a...)
	}

	printf("# Sentinel Configuration File\n")
	printf("#\n")
	printf("# Configuration hierarchy (highest to lowest priority):\n")
	printf("#   1. CLI flags\n")
	printf("#   2. Environment variables (SENTINEL_*, e.g. SENTINEL_STORE_DSN)\n")
	printf("#   3. This config file\n")
	printf("#   4. Built-in defaults\n\n")
	if err != nil {
		return err
	}

	if err := writeConfig(w, cfg); err != nil {
		return err
	}

	printf("\n# Sources are seeded into the store on first start, e.g.:\n")
	printf("# sources:\n")
	printf("#   - {id: hn, type: rss, address: https://news.ycombinator.com/rss, name: Hacker News, enabled: true, interval: 15m}\n")
	printf("#\n# API Keys (recommended to use environment variables instead):\n")
	printf("#   export OPENAI_API_KEY=sk-...\n")
	printf("#   export ANTHROPIC_API_KEY=sk-ant-...\n")
	printf("#   export GROQ_API_KEY=gsk_...\n")
	printf("#   export OLLAMA_BASE_URL=http://localhost:11434\n")
	return err
}

func writeConfig(w io.Writer, cfg model.Config) error {
	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if _, err := w.Write(yamlData); err != nil {
		return fmt.Errorf("error writing config: %w", err)
	}
	return nil
}

// redact masks every secret in cfg
func redact(cfg model.Config) model.Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	providers := make([]model.ProviderConfig, len(cfg.Scoring.Providers))
	for i, p := range cfg.Scoring.Providers {
		p.APIKey = mask(p.APIKey)
		providers[i] = p
	}
	cfg.Scoring.Providers = providers
	cfg.Embedding.APIKey = mask(cfg.Embedding.APIKey)
	cfg.Redis.Password = mask(cfg.Redis.Password)
	cfg.Admin.Token = mask(cfg.Admin.Token)
	return cfg
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
