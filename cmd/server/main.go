package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "hive-bridge",
	Short: "Bridge between the Hive cloud and Home Assistant",
	Long: `hive-bridge signs in to a Hive account, polls its devices on a timer and
exposes them as Home Assistant style entities over HTTP, websocket and MQTT.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (env: CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error (env: LOG_LEVEL)")
}

func main() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("hive-bridge %s\n", version))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return os.Getenv("CONFIG_PATH")
}
