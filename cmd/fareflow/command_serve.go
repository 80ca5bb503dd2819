package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/sourceplane/fareflow/internal/config"
	"github.com/sourceplane/fareflow/internal/metrics"
	"github.com/sourceplane/fareflow/internal/schema"
	"github.com/sourceplane/fareflow/internal/server"
)

func registerServeCommand(root *cobra.Command, a *app) {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the approval links and lifecycle event webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(config.RequireApprovalBase); err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, closeAll, err := newServer(ctx, a)
			if err != nil {
				return err
			}
			defer closeAll()

			a.printf("✓ Listening on %s\n", a.cfg.Server.Addr)
			return srv.Serve(ctx, a.cfg.Server.Addr, a.cfg.Server.ShutdownTimeout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")

	root.AddCommand(cmd)
}

// newServer wires the workflow against the platform the way it runs in
// production: the platform registry (or Postgres), S3 artifacts and the
// deployment pipeline on the platform.
func newServer(ctx context.Context, a *app) (*server.Server, func(), error) {
	l, closeAll, err := platformLifecycle(ctx, a, prometheus.NewRegistry())
	if err != nil {
		return nil, nil, err
	}

	var validator server.EventValidator
	if a.cfg.Server.ValidateEvents {
		validator = l.validator
	}
	return server.New(server.Config{
		Approval:   l.approval,
		Dispatcher: l.dispatcher,
		Notify:     l.notify,
		Deploy:     l.trigger,
		Validator:  validator,
		Gatherer:   l.gatherer,
		Logger:     a.logger,
	}), closeAll, nil
}

type platformWorkflow struct {
	*lifecycle
	validator *schema.Validator
	gatherer  prometheus.Gatherer
}

func platformLifecycle(ctx context.Context, a *app, reg *prometheus.Registry) (*platformWorkflow, func(), error) {
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	stats := metrics.New(reg)

	awsCfg, sm, err := a.aws(ctx)
	if err != nil {
		return nil, nil, err
	}
	packages, closeRegistry, err := a.registry(ctx, sm)
	if err != nil {
		return nil, nil, err
	}
	store, err := a.artifacts()
	if err != nil {
		closeRegistry()
		return nil, nil, err
	}
	validator, err := schema.NewValidator()
	if err != nil {
		closeRegistry()
		return nil, nil, err
	}

	l := a.lifecycle(lifecycleDeps{
		registry:      packages,
		store:         store,
		publisher:     a.publisher(&awsCfg),
		starter:       sm,
		validator:     validator,
		stats:         stats,
		emitDecisions: a.cfg.Registry.DSN != "",
	})
	return &platformWorkflow{lifecycle: l, validator: validator, gatherer: reg}, closeRegistry, nil
}
