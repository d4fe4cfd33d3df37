package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/quay/nspmirror/events"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Perform a single mirror run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, l, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			task, err := a.newTask(s, l, logPublisher{})
			if err != nil {
				return err
			}
			return task.Run(ctx)
		},
	}
}

// LogPublisher reports events by logging them. It's used when there's nothing
// downstream to notify.
type logPublisher struct{}

func (logPublisher) Publish(ctx context.Context, ev events.Event) error {
	logCommit(ctx, ev)
	return nil
}

func logCommit(ctx context.Context, ev events.Event) error {
	slog.InfoContext(ctx, "reindex requested", "kind", ev.Kind, "target", ev.Target)
	return nil
}
