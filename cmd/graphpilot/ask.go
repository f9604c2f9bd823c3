package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func buildAskCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			prompt := strings.Join(args, " ")
			events, err := app.agent.Execute(ctx, prompt, nil)
			if err != nil {
				return err
			}

			done := renderEvents(cmd.OutOrStdout(), events)
			if done == nil {
				return errors.New("run ended without a result")
			}
			if !done.Success {
				return fmt.Errorf("query failed: %s", done.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	return cmd
}
