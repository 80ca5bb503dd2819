package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sourceplane/fareflow/internal/loader"
	"github.com/sourceplane/fareflow/internal/model"
	"github.com/sourceplane/fareflow/internal/render"
	"github.com/sourceplane/fareflow/internal/schema"
)

func registerValidateCommand(root *cobra.Command, a *app) {
	var (
		skipSchema     bool
		definitionsDir string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Build and validate pipelines without touching the platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := validationTargets(a, definitionsDir)
			if err != nil {
				return err
			}
			return validatePipelines(a, defs, !skipSchema)
		},
	}
	cmd.Flags().BoolVar(&skipSchema, "skip-schema", false, "Skip checking the rendered definitions against the definition schema")
	cmd.Flags().StringVarP(&definitionsDir, "definitions", "d", "", "Validate the definition files in this directory (use * for recursive scanning)")

	root.AddCommand(cmd)
}

// validationTargets loads the definitions under dir, or builds the training
// pipeline without its gate plus the deployment pipeline
func validationTargets(a *app, dir string) ([]*model.Definition, error) {
	if dir != "" {
		a.printf("□ Loading definitions from %s...\n", dir)
		loaded, err := loader.LoadDefinitionsFromDir(dir)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(loaded))
		for name := range loaded {
			names = append(names, name)
		}
		sort.Strings(names)
		defs := make([]*model.Definition, 0, len(names))
		for _, name := range names {
			defs = append(defs, loaded[name])
		}
		return defs, nil
	}

	a.printf("□ Building training pipeline...\n")
	training, err := a.training(false)
	if err != nil {
		return nil, err
	}
	a.printf("□ Building deployment pipeline...\n")
	deployment, err := a.deployment()
	if err != nil {
		return nil, err
	}
	return []*model.Definition{training, deployment}, nil
}

func validatePipelines(a *app, defs []*model.Definition, checkSchema bool) error {
	for _, def := range defs {
		a.printf("✓ %s: %d steps\n", def.Name, len(def.AllSteps()))
	}

	if checkSchema {
		a.printf("□ Checking rendered definitions against schema...\n")
		v, err := schema.NewValidator()
		if err != nil {
			return err
		}
		for _, def := range defs {
			data, err := render.PlatformJSON(def, a.cfg.RoleARN)
			if err != nil {
				return fmt.Errorf("failed to render %s: %w", def.Name, err)
			}
			if err := v.ValidateDefinition(data); err != nil {
				return fmt.Errorf("%s: %w", def.Name, err)
			}
		}
	}

	a.printf("✓ Pipelines are valid\n")
	return nil
}
