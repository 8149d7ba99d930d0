package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"ot2-calibration/cmd"
	"ot2-calibration/internal/messaging"
)

func newEventsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Print deployment events from RabbitMQ until interrupted",
		Args:  noArgs,
		RunE: func(c *cobra.Command, args []string) error {
			if a.cfg.RabbitMQURL == "" {
				return &cmd.UsageError{Err: errors.New("RABBITMQ_URL is not set")}
			}

			receiver, err := messaging.NewRabbitMQReceiver(a.cfg.RabbitMQURL)
			if err != nil {
				return err
			}
			defer receiver.Close()

			ctx := c.Context()
			for {
				select {
				case <-ctx.Done():
					return nil
				case event, ok := <-receiver.Events():
					if !ok {
						return nil
					}
					fmt.Fprintln(a.stdout, string(event.Payload()))
					if err := event.Ack(); err != nil {
						slog.Warn("failed to ack deployment event", "error", err)
					}
				}
			}
		},
	}
}
