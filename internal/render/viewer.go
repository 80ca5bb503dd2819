package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
	"github.com/pkg/errors"
	"gopkg.in/go-playground/colors.v1"

	"github.com/sourceplane/fareflow/internal/model"
	"github.com/sourceplane/fareflow/internal/planner"
)

// PlanViewer provides human-readable views of a validated plan
type PlanViewer struct {
	plan *planner.Plan
}

func NewPlanViewer(plan *planner.Plan) *PlanViewer {
	return &PlanViewer{plan: plan}
}

// ViewDAG returns a tree of the steps in declaration order, with condition
// branches nested under their condition
func (pv *PlanViewer) ViewDAG() string {
	def := pv.plan.Definition
	if len(def.Steps) == 0 {
		return "No steps in definition"
	}

	var sb strings.Builder
	sb.WriteString(def.Name + "\n")
	pv.writeSteps(&sb, def.Steps, "")

	total := len(def.AllSteps())
	sb.WriteString("═══════════════════════════════════════════════════════════\n")
	sb.WriteString(fmt.Sprintf("Summary: %d parameters, %d steps\n", len(def.Parameters), total))
	return sb.String()
}

func (pv *PlanViewer) writeSteps(sb *strings.Builder, steps []model.Step, indent string) {
	for i := range steps {
		step := &steps[i]
		last := i == len(steps)-1

		prefix, connector := indent+"├─ ", indent+"│  "
		if last {
			prefix, connector = indent+"└─ ", indent+"   "
		}

		line := fmt.Sprintf("%s%s [%s]", prefix, step.Name, step.Kind)
		if step.Job != nil && step.Job.InstanceType != "" {
			line += fmt.Sprintf(" (%dx %s)", step.Job.InstanceCount, step.Job.InstanceType)
		}
		sb.WriteString(line + "\n")

		for _, dep := range pv.plan.DependsOn[step.Name] {
			sb.WriteString(fmt.Sprintf("%s(depends on) %s\n", connector, dep))
		}

		if step.Condition != nil {
			p := step.Condition.Predicate
			sb.WriteString(fmt.Sprintf("%sif %s %s %s\n", connector, p.Left, p.Operator, p.Right))
			sb.WriteString(connector + "├─ then\n")
			pv.writeSteps(sb, step.Condition.IfSteps, connector+"│  ")
			sb.WriteString(connector + "└─ else\n")
			if len(step.Condition.ElseSteps) == 0 {
				sb.WriteString(connector + "   (no steps)\n")
			}
			pv.writeSteps(sb, step.Condition.ElseSteps, connector+"   ")
		}
	}
}

// ViewDependencies lists each step with its direct upstream steps
func (pv *PlanViewer) ViewDependencies() string {
	var sb strings.Builder
	sb.WriteString("Step Dependencies\n")
	sb.WriteString("═══════════════════════════════════════════════════════════\n\n")

	for i, name := range pv.plan.Order {
		prefix := "├─ "
		if i == len(pv.plan.Order)-1 {
			prefix = "└─ "
		}
		sb.WriteString(prefix + name + "\n")

		deps := pv.plan.DependsOn[name]
		if len(deps) == 0 {
			sb.WriteString("   (no dependencies)\n")
		}
		for j, dep := range deps {
			depPrefix := "  ├─ "
			if j == len(deps)-1 {
				depPrefix = "  └─ "
			}
			sb.WriteString(fmt.Sprintf("%s(depends on) %s\n", depPrefix, dep))
		}
	}
	return sb.String()
}

var kindColors = map[model.StepKind][3]uint8{
	model.StepProcessing:    {70, 130, 180},
	model.StepTraining:      {46, 139, 87},
	model.StepCondition:     {218, 165, 32},
	model.StepRegisterModel: {147, 112, 219},
	model.StepDeploy:        {205, 92, 92},
}

// DOT writes the plan graph in Graphviz format, one colour per step kind
func (pv *PlanViewer) DOT(w io.Writer) error {
	g := graph.New(graph.StringHash, graph.Directed())

	for _, name := range pv.plan.Order {
		step := pv.plan.Definition.Step(name)
		rgb := kindColors[step.Kind]
		c, err := colors.RGB(rgb[0], rgb[1], rgb[2])
		if err != nil {
			return errors.Wrap(err, "unable to get colour")
		}
		shape := "box"
		if step.Kind == model.StepCondition {
			shape = "diamond"
		}
		err = g.AddVertex(name,
			graph.VertexAttribute("color", c.ToHEX().String()),
			graph.VertexAttribute("shape", shape),
			graph.VertexAttribute("xlabel", string(step.Kind)),
		)
		if err != nil {
			return errors.Wrap(err, "unable to add vertex")
		}
	}
	for _, name := range pv.plan.Order {
		for _, dep := range pv.plan.DependsOn[name] {
			if err := g.AddEdge(dep, name); err != nil {
				return errors.Wrapf(err, "unable to add edge from %s to %s", dep, name)
			}
		}
	}

	if err := draw.DOT(g, w); err != nil {
		return errors.Wrap(err, "unable to draw graph")
	}
	return nil
}
