package main

import (
	"github.com/spf13/cobra"

	"github.com/sourceplane/fareflow/internal/artifact"
	"github.com/sourceplane/fareflow/internal/config"
	"github.com/sourceplane/fareflow/internal/model"
	"github.com/sourceplane/fareflow/internal/render"
)

func registerUpsertCommand(root *cobra.Command, a *app) {
	var (
		start     bool
		sourceDir string
	)

	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or update both pipelines on the platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(config.RequireRole, config.RequireBucket, config.RequireDeployImage); err != nil {
				return err
			}

			ctx := cmd.Context()
			_, sm, err := a.aws(ctx)
			if err != nil {
				return err
			}

			training, err := a.training(true)
			if err != nil {
				return err
			}
			deployment, err := a.deployment()
			if err != nil {
				return err
			}

			if sourceDir != "" {
				a.printf("□ Staging job code from %s...\n", sourceDir)
				store, err := a.artifacts()
				if err != nil {
					return err
				}
				staged, err := artifact.StageCode(ctx, store, sourceDir, training)
				if err != nil {
					return err
				}
				for _, uri := range staged {
					a.printf("✓ Staged %s\n", uri)
				}
			}

			for _, def := range []*model.Definition{training, deployment} {
				a.printf("□ Upserting %s...\n", def.Name)
				data, err := render.PlatformJSON(def, a.cfg.RoleARN)
				if err != nil {
					return err
				}
				arn, created, err := sm.UpsertPipeline(ctx, def.Name, string(data), a.cfg.RoleARN)
				if err != nil {
					return err
				}
				verb := "Updated"
				if created {
					verb = "Created"
				}
				a.printf("✓ %s %s\n", verb, arn)
			}

			if start {
				a.printf("□ Starting %s...\n", training.Name)
				execution, err := sm.StartPipelineExecution(ctx, training.Name, nil)
				if err != nil {
					return err
				}
				a.printf("✓ Started %s\n", execution)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&start, "start", false, "Start a training execution after upserting")
	cmd.Flags().StringVar(&sourceDir, "stage-code", "", "Upload job scripts from this source tree to their code locations before upserting")

	root.AddCommand(cmd)
}
