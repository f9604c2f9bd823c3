package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/canopyhq/graphpilot/internal/maintenance"
	"github.com/canopyhq/graphpilot/pkg/models"
)

func buildChatCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive session with conversation history",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			scheduler, err := maintenance.New(maintenance.Config{
				AuditRetentionDays: app.cfg.Audit.RetentionDays,
				Logger:             app.logger,
			}, app.limiter, app.auditor)
			if err != nil {
				return err
			}
			scheduler.Start()
			defer scheduler.Stop()

			if app.cfg.Metrics.Enabled {
				startMetricsServer(ctx, app)
			}

			return runChatLoop(ctx, cmd, app)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	return cmd
}

func runChatLoop(ctx context.Context, cmd *cobra.Command, app *app) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "graphpilot chat — /reset clears history, /quit exits")

	var history []models.Message
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit", line == "/exit":
			return nil
		case line == "/reset":
			history = nil
			fmt.Fprintln(out, "history cleared")
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		events, err := app.agent.Execute(ctx, line, history)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			continue
		}
		done := renderEvents(out, events)
		if done == nil {
			continue
		}
		if !done.Success {
			fmt.Fprintln(out, "query failed:", done.Error)
			if done.Error == "cancelled" && ctx.Err() != nil {
				return nil
			}
			continue
		}

		history = append(history,
			models.TextMessage(models.RoleUser, line),
			models.TextMessage(models.RoleAssistant, done.Response),
		)
	}
}

func startMetricsServer(ctx context.Context, app *app) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              app.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		app.logger.Info("metrics listener started", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Error("metrics listener failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
