package main

import (
	"github.com/spf13/cobra"

	"github.com/sourceplane/fareflow/internal/config"
	"github.com/sourceplane/fareflow/internal/deploy"
)

func registerDeployCommand(root *cobra.Command, a *app) {
	var req deploy.Request

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Serve a model package behind the inference endpoint",
		Long:  "Create a model and endpoint config for the package, then create the endpoint or point the existing one at the new config. This is the job the deployment pipeline runs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(config.RequireRole); err != nil {
				return err
			}
			if !cmd.Flags().Changed("endpoint-name") {
				req.EndpointName = a.cfg.Deployment.EndpointName
			}
			if err := req.Validate(); err != nil {
				return err
			}

			_, sm, err := a.aws(cmd.Context())
			if err != nil {
				return err
			}
			deployer := deploy.NewDeployer(sm,
				deploy.WithExecutionRole(a.cfg.RoleARN),
				deploy.WithModelBaseName(a.cfg.Deployment.ModelBaseName),
				deploy.WithLogger(a.logger),
			)

			a.printf("□ Deploying %s to %s...\n", req.ModelPackageARN, req.EndpointName)
			res, err := deployer.Deploy(cmd.Context(), req)
			if err != nil {
				return err
			}
			verb := "Created"
			if res.Updated {
				verb = "Updated"
			}
			a.printf("✓ %s endpoint %s (model %s, config %s)\n", verb, res.EndpointName, res.ModelName, res.EndpointConfigName)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.ModelPackageARN, "model-package-arn", "", "Model package to deploy")
	cmd.Flags().StringVar(&req.EndpointName, "endpoint-name", "", "Endpoint to create or update (default from config)")
	cmd.Flags().StringVar(&req.InstanceType, "instance-type", deploy.DefaultInstanceType, "Instance type")
	cmd.Flags().IntVar(&req.InstanceCount, "initial-instance-count", 1, "Instance count")
	cmd.MarkFlagRequired("model-package-arn")

	root.AddCommand(cmd)
}
