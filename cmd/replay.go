package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/creasty/defaults"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lsst-ts/ts-criopy-sub002/pkg/player"
)

//nolint:gochecknoglobals // Cobra flags are typically global
var (
	replayCfgFile string
)

//nolint:gochecknoglobals // Cobra commands are typically global
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Start the replay service",
	Long:  `The replay service caches topics from the archive and plays them back.`,
	RunE:  runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&replayCfgFile, "config", "replay.yaml", "config file (default is replay.yaml)")
}

func loadReplayConfigFromFile(file string) (*player.Config, error) {
	if file == "" {
		file = "replay.yaml"
	}

	config := &player.Config{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	yamlFile, err := os.ReadFile(file) //nolint:gosec // User-provided config file path
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(yamlFile, config); err != nil {
		return nil, err
	}

	return config, nil
}

func runReplay(cmd *cobra.Command, _ []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	// Load configuration
	config, err := loadReplayConfigFromFile(replayCfgFile)
	if err != nil {
		return err
	}

	// Setup logger
	level, err := logrus.ParseLevel(config.Logging)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	logger.Info("Configuration loaded")

	// Create and start the replay application
	app := player.NewApplication(config, logger)
	if err := app.Start(); err != nil {
		return err
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	return app.Stop()
}
