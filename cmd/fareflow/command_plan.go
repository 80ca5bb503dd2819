package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sourceplane/fareflow/internal/planner"
	"github.com/sourceplane/fareflow/internal/render"
)

func registerPlanCommand(root *cobra.Command, a *app) {
	var (
		pipelineName   string
		definitionFile string
		outputFile     string
		view           string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Render a pipeline to the platform definition format",
		RunE: func(cmd *cobra.Command, args []string) error {
			return planPipeline(a, pipelineName, definitionFile, outputFile, view)
		},
	}
	cmd.Flags().StringVarP(&pipelineName, "pipeline", "p", "training", "Pipeline to render (training/deployment)")
	cmd.Flags().StringVarP(&definitionFile, "definition", "d", "", "Render a definition file instead of a built-in pipeline")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "pipeline.json", "Output definition file path (.json/.yaml)")
	cmd.Flags().StringVarP(&view, "view", "v", "", "View plan (tree/dependencies/dot)")

	root.AddCommand(cmd)
}

func planPipeline(a *app, pipelineName, definitionFile, outputFile, view string) error {
	if definitionFile != "" {
		a.printf("□ Loading %s...\n", definitionFile)
	} else {
		a.printf("□ Building %s pipeline...\n", pipelineName)
	}
	def, err := a.definition(pipelineName, definitionFile, true)
	if err != nil {
		return err
	}

	plan, err := planner.NewPlan(def)
	if err != nil {
		return err
	}

	if outputFile != "" {
		a.printf("□ Rendering definition...\n")
		if err := render.NewRenderer(a.cfg.RoleARN).WriteDefinition(def, outputFile); err != nil {
			return err
		}
		a.printf("✓ Definition written to %s\n", outputFile)
	}

	viewer := render.NewPlanViewer(plan)
	switch view {
	case "":
	case "tree", "dag":
		a.printf("\n%s", viewer.ViewDAG())
	case "dependencies":
		a.printf("\n%s", viewer.ViewDependencies())
	case "dot":
		return viewer.DOT(a.stdout)
	default:
		return fmt.Errorf("unknown view %q (want tree, dependencies or dot)", view)
	}
	return nil
}
