package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var pollTimeout time.Duration

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Sign in with stored credentials, poll once and print the entities",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), pollTimeout)
		defer cancel()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		ok, err := a.resume(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("no usable credentials; run serve and complete setup first")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(a.registry.Views())
	},
}

func init() {
	pollCmd.Flags().DurationVar(&pollTimeout, "timeout", time.Minute, "Overall deadline for login and the first poll")
	rootCmd.AddCommand(pollCmd)
}
