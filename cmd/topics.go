package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lsst-ts/ts-criopy-sub002/pkg/archive"
	"github.com/lsst-ts/ts-criopy-sub002/pkg/topiccache"
)

//nolint:gochecknoglobals // Cobra flags are typically global
var (
	topicsCfgFile string
)

//nolint:gochecknoglobals // Cobra commands are typically global
var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List configured topics and whether the archive knows them",
	Long: `Checks every configured telemetry and event topic against the archive's
series catalog. Topics the archive does not know were defined but never
published; the replay service removes them automatically.`,
	RunE: runTopics,
}

func init() {
	rootCmd.AddCommand(topicsCmd)
	topicsCmd.Flags().StringVar(&topicsCfgFile, "config", "replay.yaml", "config file (default is replay.yaml)")
}

func runTopics(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	config, err := loadReplayConfigFromFile(topicsCfgFile)
	if err != nil {
		return err
	}

	client, err := archive.NewClient(logger, &config.Archive)
	if err != nil {
		return err
	}

	if err := client.Start(); err != nil {
		return err
	}
	defer func() { _ = client.Stop() }()

	ctx := context.Background()

	printTopic := func(topic string) error {
		series := fmt.Sprintf("lsst.sal.%s.%s", config.Source, topic)

		known, err := client.HasSeries(ctx, series)
		if err != nil {
			return err
		}

		status := "missing"
		if known {
			status = "archived"
		}
		fmt.Printf("%-10s %s\n", status, topic)

		return nil
	}

	for _, topic := range config.Topics.Telemetry {
		if err := printTopic(topic); err != nil {
			return err
		}
	}

	for _, topic := range config.Topics.Events {
		if err := printTopic(topiccache.EventPrefix + topic); err != nil {
			return err
		}
	}

	return nil
}
