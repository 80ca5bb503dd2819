package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sourceplane/fareflow/internal/artifact"
	"github.com/sourceplane/fareflow/internal/deploy"
	"github.com/sourceplane/fareflow/internal/model"
	"github.com/sourceplane/fareflow/internal/notify"
	"github.com/sourceplane/fareflow/internal/registry"
	"github.com/sourceplane/fareflow/internal/runner"
	"github.com/sourceplane/fareflow/internal/schema"
)

type runOptions struct {
	pipeline       string
	definitionFile string
	execute        bool
	workDir        string
	artifactsDir   string
	params         []string
	endpoints      string
	outputFile     string
}

func registerRunCommand(root *cobra.Command, a *app) {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a pipeline on the local engine",
		Long:  "Run the steps of a pipeline in-process: jobs run as local processes, the metric gate reads the evaluation report from the artifact directory and registered models go through the same notify and deploy handlers as on the platform.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, a, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.pipeline, "pipeline", "p", "training", "Pipeline to run (training/deployment)")
	cmd.Flags().StringVarP(&opts.definitionFile, "definition", "d", "", "Run a definition file instead of a built-in pipeline")
	cmd.Flags().BoolVarP(&opts.execute, "execute", "x", false, "Actually execute jobs (default is dry-run)")
	cmd.Flags().StringVar(&opts.workDir, "workdir", ".", "Working directory of job processes")
	cmd.Flags().StringVar(&opts.artifactsDir, "artifacts", ".fareflow/artifacts", "Local directory standing in for the artifact bucket")
	cmd.Flags().StringArrayVar(&opts.params, "param", nil, "Parameter value NAME=VALUE (repeatable)")
	cmd.Flags().StringVar(&opts.endpoints, "endpoints", "local", "Where deploy steps create endpoints (local/sagemaker)")
	cmd.Flags().StringVarP(&opts.outputFile, "output", "o", "", "Write the execution record as JSON to this file")

	root.AddCommand(cmd)
}

func parseParams(raw []string) ([]model.ParameterValue, error) {
	values := make([]model.ParameterValue, 0, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --param %q (want NAME=VALUE)", kv)
		}
		values = append(values, model.ParameterValue{Name: name, Value: value})
	}
	return values, nil
}

func runPipeline(cmd *cobra.Command, a *app, opts runOptions) error {
	ctx := cmd.Context()

	values, err := parseParams(opts.params)
	if err != nil {
		return err
	}

	// Without real jobs there is no evaluation report for the gate to read
	def, err := a.definition(opts.pipeline, opts.definitionFile, opts.execute)
	if err != nil {
		return err
	}
	deployment, err := a.deployment()
	if err != nil {
		return err
	}

	if !opts.execute {
		a.printf("□ Dry-run mode enabled. Use --execute to run jobs.\n")
	}

	artifactsDir := opts.artifactsDir
	if a.cfg.Artifacts.Dir != "" && !cmd.Flags().Changed("artifacts") {
		artifactsDir = a.cfg.Artifacts.Dir
	}
	store := artifact.NewFileStore(artifactsDir)

	reg, closeRegistry, err := a.registry(ctx, registry.NewMemory(""))
	if err != nil {
		return err
	}
	defer closeRegistry()

	var endpoints deploy.Platform = deploy.NewMemoryPlatform()
	if opts.endpoints == "sagemaker" {
		_, sm, err := a.aws(ctx)
		if err != nil {
			return err
		}
		endpoints = sm
	}
	deployer := deploy.NewDeployer(endpoints,
		deploy.WithExecutionRole(a.cfg.RoleARN),
		deploy.WithModelBaseName(a.cfg.Deployment.ModelBaseName),
		deploy.WithLogger(a.logger),
	)

	var jobs runner.JobRunner = runner.DryRun{Stdout: a.stdout}
	if opts.execute {
		jobs = runner.Router{
			Kinds: map[model.StepKind]runner.JobRunner{
				model.StepDeploy: runner.DeployJob{Deployer: deployer, Stdout: a.stdout},
			},
			Default: runner.Exec{WorkDir: opts.workDir, Stdout: a.stdout, Stderr: cmd.ErrOrStderr(), LocalPath: store.Path},
		}
	}

	engine := &runner.Engine{
		Jobs:     jobs,
		Store:    store,
		Registry: reg,
		Stdout:   a.stdout,
		Logger:   a.logger,
	}
	starter := &runner.Starter{Engine: engine}
	starter.Add(deployment)

	validator, err := schema.NewValidator()
	if err != nil {
		return err
	}
	l := a.lifecycle(lifecycleDeps{
		registry:  reg,
		store:     store,
		publisher: notify.Log{Logger: a.logger},
		starter:   starter,
		validator: validator,
	})
	engine.Sink = l.dispatcher

	exec, runErr := engine.Run(ctx, def, values)
	if exec != nil && opts.outputFile != "" {
		data, err := json.MarshalIndent(exec, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.outputFile, data, 0644); err != nil {
			return fmt.Errorf("failed to write execution to %s: %w", opts.outputFile, err)
		}
	}
	if runErr != nil {
		return runErr
	}

	if exec.ModelPackage != nil {
		a.printf("✓ Registered %s (%s)\n", exec.ModelPackage.ARN, exec.ModelPackage.Status)
	}
	if opts.execute {
		a.printf("✓ Run complete: %s\n", exec.ARN)
	} else {
		a.printf("✓ Dry-run complete\n")
	}
	return nil
}
