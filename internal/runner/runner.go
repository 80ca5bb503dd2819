package runner

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"github.com/sourceplane/fareflow/internal/artifact"
	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/events"
	"github.com/sourceplane/fareflow/internal/gate"
	"github.com/sourceplane/fareflow/internal/logging"
	"github.com/sourceplane/fareflow/internal/model"
	"github.com/sourceplane/fareflow/internal/planner"
	"github.com/sourceplane/fareflow/internal/registry"
)

// Step outcomes
const (
	StepSucceeded = "Succeeded"
	StepFailed    = "Failed"
)

// Sink receives the lifecycle events an execution produces
type Sink interface {
	Emit(ctx context.Context, ev events.Event) error
}

// StepResult is what happened to one step
type StepResult struct {
	Name   string         `json:"name"`
	Kind   model.StepKind `json:"kind"`
	Status string         `json:"status"`
	// Branch is "if" or "else" for condition steps
	Branch string `json:"branch,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Execution is one run of a definition
type Execution struct {
	ARN          string              `json:"arn"`
	Pipeline     string              `json:"pipeline"`
	Status       string              `json:"status"`
	Steps        []StepResult        `json:"steps"`
	ModelPackage *model.ModelPackage `json:"modelPackage,omitempty"`
	StartedAt    time.Time           `json:"startedAt"`
	EndedAt      time.Time           `json:"endedAt"`
}

// Engine executes definitions in-process: jobs go to a JobRunner, property
// files are read from the artifact store and registrations go to the registry.
// Steps run one at a time in declaration order and the first failure ends the
// run.
type Engine struct {
	Jobs     JobRunner
	Store    artifact.Store
	Registry registry.Registry
	Sink     Sink
	Stdout   io.Writer
	Logger   *log.Logger

	// ARNPrefix is prepended to execution ARNs
	ARNPrefix string
	Now       func() time.Time
}

type execution struct {
	def    *model.Definition
	params map[string]string
	result *Execution
}

func (e *Engine) logger() *log.Logger {
	if e.Logger == nil {
		return logging.Discard()
	}
	return e.Logger
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Engine) printf(format string, args ...any) {
	if e.Stdout != nil {
		fmt.Fprintf(e.Stdout, format, args...)
	}
}

// Run executes def with the given parameter values. Invalid definitions or
// parameters are rejected before anything runs. A failed step ends the run
// with a Failed execution and a JobFailure or platform error.
func (e *Engine) Run(ctx context.Context, def *model.Definition, values []model.ParameterValue) (*Execution, error) {
	if err := planner.Validate(def); err != nil {
		return nil, err
	}
	params, err := bindParameters(def, values)
	if err != nil {
		return nil, err
	}

	prefix := e.ARNPrefix
	if prefix == "" {
		prefix = "arn:aws:sagemaker:local:000000000000"
	}
	x := &execution{
		def:    def,
		params: params,
		result: &Execution{
			ARN:       fmt.Sprintf("%s:pipeline/%s/execution/%s", prefix, strings.ToLower(def.Name), uuid.NewString()),
			Pipeline:  def.Name,
			Status:    events.ExecutionExecuting,
			StartedAt: e.now().UTC(),
		},
	}

	e.logger().Infoj(log.JSON{"pipeline": def.Name, "execution": x.result.ARN, "status": x.result.Status})
	runErr := e.runSteps(ctx, x, def.Steps)
	x.result.EndedAt = e.now().UTC()

	status := events.PipelineExecutionStatusChange{
		PipelineARN:          strings.SplitN(x.result.ARN, "/execution/", 2)[0],
		PipelineExecutionARN: x.result.ARN,
		PreviousStatus:       events.ExecutionExecuting,
	}
	if runErr != nil {
		x.result.Status = events.ExecutionFailed
		status.CurrentStatus = events.ExecutionFailed
		e.logger().Errorj(log.JSON{"pipeline": def.Name, "execution": x.result.ARN, "error": runErr.Error()})
	} else {
		x.result.Status = events.ExecutionSucceeded
		status.CurrentStatus = events.ExecutionSucceeded
		e.logger().Infoj(log.JSON{"pipeline": def.Name, "execution": x.result.ARN, "status": x.result.Status})
	}

	if err := e.emit(ctx, status); err != nil && runErr == nil {
		return x.result, err
	}
	return x.result, runErr
}

func (e *Engine) emit(ctx context.Context, ev events.Event) error {
	if e.Sink == nil {
		return nil
	}
	if err := e.Sink.Emit(ctx, ev); err != nil {
		return fmt.Errorf("failed to deliver %s: %w", ev.DetailType(), err)
	}
	return nil
}

func (e *Engine) runSteps(ctx context.Context, x *execution, steps []model.Step) error {
	for i := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.runStep(ctx, x, &steps[i]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runStep(ctx context.Context, x *execution, step *model.Step) error {
	res := StepResult{Name: step.Name, Kind: step.Kind, Status: StepSucceeded}
	e.printf("□ %s (%s)\n", step.Name, step.Kind)

	var err error
	var branch []model.Step
	switch step.Kind {
	case model.StepCondition:
		var taken bool
		taken, err = e.evaluate(ctx, x, step.Condition.Predicate)
		if err == nil {
			res.Branch = "else"
			branch = step.Condition.ElseSteps
			if taken {
				res.Branch = "if"
				branch = step.Condition.IfSteps
			}
		}
	case model.StepRegisterModel:
		err = e.register(ctx, x, step)
	default:
		err = e.runJob(ctx, x, step)
	}

	if err != nil {
		res.Status = StepFailed
		res.Error = err.Error()
		x.result.Steps = append(x.result.Steps, res)
		e.printf("✗ %s: %v\n", step.Name, err)
		return err
	}
	x.result.Steps = append(x.result.Steps, res)
	if res.Branch != "" {
		e.printf("✓ %s took the %s branch\n", step.Name, res.Branch)
	} else {
		e.printf("✓ %s\n", step.Name)
	}
	return e.runSteps(ctx, x, branch)
}

func (e *Engine) runJob(ctx context.Context, x *execution, step *model.Step) error {
	req, err := e.jobRequest(ctx, x, step)
	if err != nil {
		return err
	}
	if err := e.Jobs.Run(ctx, req); err != nil {
		return &errs.JobFailure{Step: step.Name, Err: err}
	}
	return nil
}

func (e *Engine) jobRequest(ctx context.Context, x *execution, step *model.Step) (JobRequest, error) {
	req := JobRequest{
		Step: step.Name,
		Kind: step.Kind,
	}
	if step.Job != nil {
		req.Image = step.Job.Image
		req.Command = step.Job.Command
		req.Code = step.Job.Code
		req.InstanceType = step.Job.InstanceType
		req.InstanceCount = step.Job.InstanceCount
	}
	for _, in := range step.Inputs {
		loc, err := e.resolve(ctx, x, in.Source)
		if err != nil {
			return req, err
		}
		req.Inputs = append(req.Inputs, Channel{Name: in.Name, Location: loc, Path: in.Destination})
	}
	for _, out := range step.Outputs {
		loc, err := e.resolve(ctx, x, out.Destination)
		if err != nil {
			return req, err
		}
		req.Outputs = append(req.Outputs, Channel{Name: out.Name, Location: loc, Path: out.Source})
	}
	for _, arg := range step.Arguments {
		v, err := e.resolve(ctx, x, arg.Value)
		if err != nil {
			return req, err
		}
		key := arg.Key
		if !strings.HasPrefix(key, "-") {
			key = "--" + key
		}
		req.Arguments = append(req.Arguments, key, v)
	}
	return req, nil
}

func (e *Engine) register(ctx context.Context, x *execution, step *model.Step) error {
	spec := step.Register
	modelData, err := e.resolve(ctx, x, spec.ModelData)
	if err != nil {
		return err
	}
	metricsURL, err := e.resolve(ctx, x, spec.Metrics)
	if err != nil {
		return err
	}

	pkg, err := e.Registry.Register(ctx, registry.RegisterInput{
		Group:              spec.Group,
		Image:              spec.Image,
		ModelDataURL:       modelData,
		MetricsURL:         metricsURL,
		ContentTypes:       spec.ContentTypes,
		ResponseTypes:      spec.ResponseTypes,
		InferenceInstances: spec.InferenceInstances,
		TransformInstances: spec.TransformInstances,
		Description:        spec.Description,
	})
	if err != nil {
		return err
	}
	x.result.ModelPackage = pkg
	e.printf("  registered %s (%s)\n", pkg.ARN, pkg.Status)

	return e.emit(ctx, events.ModelPackageStateChange{
		ModelPackageARN:       pkg.ARN,
		ModelPackageGroupName: pkg.Group,
		ModelPackageVersion:   pkg.Version,
		ApprovalStatus:        pkg.Status,
	})
}

func (e *Engine) evaluate(ctx context.Context, x *execution, pred model.Predicate) (bool, error) {
	if pred.Left.Kind != model.ValueJsonGet || pred.Left.JsonGet == nil {
		return false, errs.NewValidationError("condition", "left side is not a property file lookup")
	}
	doc, err := e.propertyFile(ctx, x, *pred.Left.JsonGet)
	if err != nil {
		return false, err
	}
	return gate.Evaluate(pred, doc)
}

func (e *Engine) propertyFile(ctx context.Context, x *execution, jg model.JsonGet) ([]byte, error) {
	producer := x.def.Step(jg.Step)
	if producer == nil {
		return nil, errs.Platform("read property file", fmt.Errorf("step %s: %w", jg.Step, errs.ErrNotFound))
	}
	pf := producer.PropertyFile(jg.PropertyFile)
	if pf == nil {
		return nil, errs.Platform("read property file", fmt.Errorf("property file %s.%s: %w", jg.Step, jg.PropertyFile, errs.ErrNotFound))
	}
	out := producer.Output(pf.Output)
	if out == nil {
		return nil, errs.Platform("read property file", fmt.Errorf("output %s.%s: %w", jg.Step, pf.Output, errs.ErrNotFound))
	}
	base, err := e.resolve(ctx, x, out.Destination)
	if err != nil {
		return nil, err
	}
	doc, err := e.Store.Get(ctx, artifact.JoinURI(base, pf.Path))
	if err != nil {
		return nil, errs.Platform("read property file", err)
	}
	return doc, nil
}

// resolve turns a value into the string a job or the registry receives
func (e *Engine) resolve(ctx context.Context, x *execution, v model.Value) (string, error) {
	switch v.Kind {
	case model.ValueLiteral:
		return model.FormatLiteral(v.Literal), nil

	case model.ValueParameter:
		val, ok := x.params[v.Parameter]
		if !ok {
			return "", errs.NewValidationError("parameters", fmt.Sprintf("no value for %q", v.Parameter))
		}
		return val, nil

	case model.ValueOutput:
		producer := x.def.Step(v.Output.Step)
		if producer == nil {
			return "", errs.NewValidationError("reference", fmt.Sprintf("unknown step %q", v.Output.Step))
		}
		out := producer.Output(v.Output.Output)
		if out == nil {
			return "", errs.NewValidationError("reference", fmt.Sprintf("unknown output %s", v.Output))
		}
		return e.resolve(ctx, x, out.Destination)

	case model.ValueJoin:
		parts := make([]string, len(v.Join.Values))
		for i, inner := range v.Join.Values {
			s, err := e.resolve(ctx, x, inner)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, v.Join.On), nil

	case model.ValueJsonGet:
		doc, err := e.propertyFile(ctx, x, *v.JsonGet)
		if err != nil {
			return "", err
		}
		f, err := gate.Extract(doc, v.JsonGet.Path)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return "", errs.NewValidationError("value", fmt.Sprintf("unknown kind %q", v.Kind))
}

// bindParameters merges defaults with the supplied values and checks types
func bindParameters(def *model.Definition, values []model.ParameterValue) (map[string]string, error) {
	params := make(map[string]string, len(def.Parameters))
	for _, p := range def.Parameters {
		if p.Default != nil {
			params[p.Name] = model.FormatLiteral(p.Default)
		}
	}

	var problems []string
	for _, v := range values {
		p := def.Parameter(v.Name)
		if p == nil {
			problems = append(problems, fmt.Sprintf("unknown parameter %q", v.Name))
			continue
		}
		switch p.Type {
		case model.ParameterInteger:
			if _, err := strconv.Atoi(v.Value); err != nil {
				problems = append(problems, fmt.Sprintf("parameter %s wants an integer, got %q", v.Name, v.Value))
				continue
			}
		case model.ParameterFloat:
			if _, err := strconv.ParseFloat(v.Value, 64); err != nil {
				problems = append(problems, fmt.Sprintf("parameter %s wants a number, got %q", v.Name, v.Value))
				continue
			}
		}
		params[v.Name] = v.Value
	}
	for _, p := range def.Parameters {
		if _, ok := params[p.Name]; !ok {
			problems = append(problems, fmt.Sprintf("parameter %s has no default and no value", p.Name))
		}
	}
	if len(problems) > 0 {
		return nil, errs.NewValidationError("parameters", problems...)
	}
	return params, nil
}
