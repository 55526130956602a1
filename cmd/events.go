/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tasktrack/apiserver/config"
	"github.com/tasktrack/apiserver/internal/logging"
	"github.com/tasktrack/apiserver/internal/mq"
)

var eventsChannel string

// eventsCmd groups commands that read the published event streams.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect published task events and auth audit records",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Subscribe to an event channel and log every message",
	Long: `Subscribes to the task events channel (or the channel given with
--channel) on the configured broker and logs each message until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := logging.New(cfg.Logging)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		backend, err := mq.New(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		if backend == nil {
			return errors.New("MQ_BACKEND is not set")
		}
		defer backend.Close()

		channel := eventsChannel
		if channel == "" {
			channel = cfg.MQ.TaskEventsChannel
		}
		logger.Info(ctx, "tailing events", "backend", cfg.MQ.Backend, "channel", channel)

		err = backend.Subscribe(ctx, channel, func(ctx context.Context, msg mq.Message) error {
			var payload map[string]any
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				logger.Warn(ctx, "undecodable message", "id", msg.ID, "error", err)
				return nil
			}
			logger.Info(ctx, "event", "id", msg.ID, "attributes", msg.Attributes, "payload", payload)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "subscribe failed: %v\n", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
	eventsTailCmd.Flags().StringVar(&eventsChannel, "channel", "", "channel to tail (defaults to MQ_TASK_EVENTS_CHANNEL)")
}
