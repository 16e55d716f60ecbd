package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/menta2k/image-captioner"
	"github.com/menta2k/image-captioner/internal/config"
	"github.com/menta2k/image-captioner/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "image-captioner",
	Short: "Generate natural-language captions for images",
	Long: `Generate captions for images and render them above the picture.

Examples:
  # Serve the upload page and API on :5000
  image-captioner serve

  # Caption a single file or URL, writing dog_captioned.png next to it
  image-captioner caption dog.jpg

  # Caption every image under a directory
  image-captioner caption photos/ --out captioned/ --format webp`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	rootCmd.Version = captioner.GetVersion()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().
		StringVar(&cfgFile, "config", "", "config file path (yaml, json or toml)")
	rootCmd.PersistentFlags().
		String("log-level", "info", "logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().
		String("log-style", "terminal", "logging output style (terminal, json, noop)")

	mustBindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("log.style", rootCmd.PersistentFlags().Lookup("log-style"))
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag %q: %v", key, err))
	}
}

// loadConfig merges defaults, the config file, CAPTIONER_* variables and
// bound flags, in increasing precedence.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if def := config.GetConfigPath(); fileExists(def) {
			path = def
		}
	}
	return config.LoadWith(viper.GetViper(), path)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Style)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
