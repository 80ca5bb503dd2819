package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sourceplane/fareflow/internal/events"
)

func registerDispatchCommand(root *cobra.Command, a *app) {
	var route string

	cmd := &cobra.Command{
		Use:   "dispatch [event.json]",
		Short: "Deliver one lifecycle event to the handlers",
		Long:  "Read a lifecycle event envelope from a file (or stdin when omitted or -) and deliver it to the notify and deploy handlers, the way the event bus does.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readEvent(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			w, closeAll, err := platformLifecycle(cmd.Context(), a, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer closeAll()

			if err := w.validator.ValidateEvent(data); err != nil {
				return err
			}
			ev, err := events.Decode(data)
			if err != nil {
				return err
			}

			results := map[string]events.Result{}
			switch route {
			case "all":
				results, err = w.dispatcher.Dispatch(cmd.Context(), ev)
			case "notify":
				results["notify"], err = w.notify.Handle(cmd.Context(), ev)
			case "deploy":
				results["deploy"], err = w.trigger.Handle(cmd.Context(), ev)
			default:
				return fmt.Errorf("unknown route %q (want all, notify or deploy)", route)
			}
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(results, "", "  ")
			if err != nil {
				return err
			}
			a.printf("%s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&route, "route", "r", "all", "Handlers to deliver to (all/notify/deploy)")

	root.AddCommand(cmd)
}

func readEvent(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read event from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read event file: %w", err)
	}
	return data, nil
}
