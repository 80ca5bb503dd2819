package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/sourceplane/fareflow/internal/config"
	"github.com/sourceplane/fareflow/internal/logging"
)

func newRootCommand(stdout io.Writer) *cobra.Command {
	a := &app{stdout: stdout}

	root := &cobra.Command{
		Use:           "fareflow",
		Short:         "Taxi fare model pipelines: build → gate → approve → deploy",
		Long:          "fareflow builds the fare model training and deployment pipelines, runs them locally or on the managed platform, and drives the approval workflow that promotes registered models to the inference endpoint",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = a.logLevel
			}
			a.cfg = cfg
			a.logger = logging.New("fareflow", cfg.LogLevel, cmd.ErrOrStderr())
			return nil
		},
	}
	root.SetOut(stdout)

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "fareflow.yaml", "Config file (yaml, json or toml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "Log level (debug|info|warn|error|off)")

	registerValidateCommand(root, a)
	registerPlanCommand(root, a)
	registerUpsertCommand(root, a)
	registerRunCommand(root, a)
	registerServeCommand(root, a)
	registerDispatchCommand(root, a)
	registerDeployCommand(root, a)

	return root
}
