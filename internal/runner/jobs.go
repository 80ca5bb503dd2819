package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/sourceplane/fareflow/internal/deploy"
	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/model"
)

// Channel is one resolved input or output location of a job
type Channel struct {
	Name string
	// Location is the artifact URI
	Location string
	// Path is where the job sees it, if it declares one
	Path string
}

// JobRequest is a fully resolved job submission
type JobRequest struct {
	Step          string
	Kind          model.StepKind
	Image         string
	Command       []string
	Code          string
	InstanceType  string
	InstanceCount int
	Inputs        []Channel
	Outputs       []Channel
	Arguments     []string
}

// CommandLine is the process the job runs
func (r JobRequest) CommandLine() []string {
	cmd := append([]string(nil), r.Command...)
	if len(cmd) == 0 {
		cmd = []string{"python3"}
	}
	if r.Code != "" {
		cmd = append(cmd, r.Code)
	}
	return append(cmd, r.Arguments...)
}

// JobRunner runs one job to completion
type JobRunner interface {
	Run(ctx context.Context, req JobRequest) error
}

type JobRunnerFunc func(ctx context.Context, req JobRequest) error

func (f JobRunnerFunc) Run(ctx context.Context, req JobRequest) error {
	return f(ctx, req)
}

// Router picks a runner by step kind, falling back to Default
type Router struct {
	Kinds   map[model.StepKind]JobRunner
	Default JobRunner
}

func (r Router) Run(ctx context.Context, req JobRequest) error {
	if jr, ok := r.Kinds[req.Kind]; ok {
		return jr.Run(ctx, req)
	}
	if r.Default == nil {
		return fmt.Errorf("no runner for %s step %s", req.Kind, req.Step)
	}
	return r.Default.Run(ctx, req)
}

// DryRun prints each job instead of running it
type DryRun struct {
	Stdout io.Writer
}

func (d DryRun) Run(_ context.Context, req JobRequest) error {
	fmt.Fprintf(d.Stdout, "  - Step %s (%s)\n", req.Step, req.Kind)
	for _, in := range req.Inputs {
		fmt.Fprintf(d.Stdout, "    in  %s: %s\n", in.Name, in.Location)
	}
	for _, out := range req.Outputs {
		fmt.Fprintf(d.Stdout, "    out %s: %s\n", out.Name, out.Location)
	}
	fmt.Fprintf(d.Stdout, "    %s\n", strings.Join(req.CommandLine(), " "))
	return nil
}

// Exec runs each job as a local process in WorkDir. Channel locations are
// passed as FAREFLOW_INPUT_<NAME> and FAREFLOW_OUTPUT_<NAME>, mapped through
// LocalPath when it is set.
type Exec struct {
	WorkDir   string
	Stdout    io.Writer
	Stderr    io.Writer
	LocalPath func(uri string) (string, error)
}

func (e Exec) Run(ctx context.Context, req JobRequest) error {
	argv := req.CommandLine()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = e.WorkDir
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr
	cmd.Env = append(os.Environ(), "FAREFLOW_STEP="+req.Step)

	for _, ch := range req.Inputs {
		loc, err := e.local(ch.Location)
		if err != nil {
			return err
		}
		cmd.Env = append(cmd.Env, channelEnv("INPUT", ch.Name, loc))
	}
	for _, ch := range req.Outputs {
		loc, err := e.local(ch.Location)
		if err != nil {
			return err
		}
		if e.LocalPath != nil {
			if err := os.MkdirAll(loc, 0o755); err != nil {
				return fmt.Errorf("failed to create output %s: %w", ch.Name, err)
			}
		}
		cmd.Env = append(cmd.Env, channelEnv("OUTPUT", ch.Name, loc))
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", strings.Join(argv, " "), err)
	}
	return nil
}

func (e Exec) local(uri string) (string, error) {
	if e.LocalPath == nil {
		return uri, nil
	}
	p, err := e.LocalPath(uri)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) && e.WorkDir != "" {
		p = filepath.Join(e.WorkDir, p)
	}
	return p, nil
}

func channelEnv(kind, name, loc string) string {
	key := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
	return fmt.Sprintf("FAREFLOW_%s_%s=%s", kind, key, loc)
}

// DeployJob runs deploy steps in-process against a Deployer, reading the
// same flags the deploy job entry point takes
type DeployJob struct {
	Deployer *deploy.Deployer
	Stdout   io.Writer
}

func (d DeployJob) Run(ctx context.Context, req JobRequest) error {
	dreq, err := ParseDeployArgs(req.Arguments)
	if err != nil {
		return err
	}
	res, err := d.Deployer.Deploy(ctx, dreq)
	if err != nil {
		return err
	}
	if d.Stdout != nil {
		verb := "Created"
		if res.Updated {
			verb = "Updated"
		}
		fmt.Fprintf(d.Stdout, "    %s endpoint %s with config %s\n", verb, res.EndpointName, res.EndpointConfigName)
	}
	return nil
}

// ParseDeployArgs reads --model-package-arn, --endpoint-name, --instance-type
// and --initial-instance-count
func ParseDeployArgs(args []string) (deploy.Request, error) {
	fs := pflag.NewFlagSet("deploy", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var req deploy.Request
	fs.StringVar(&req.ModelPackageARN, "model-package-arn", "", "model package to deploy")
	fs.StringVar(&req.EndpointName, "endpoint-name", "", "endpoint to create or update")
	fs.StringVar(&req.InstanceType, "instance-type", deploy.DefaultInstanceType, "instance type")
	fs.IntVar(&req.InstanceCount, "initial-instance-count", 1, "instance count")

	if err := fs.Parse(args); err != nil {
		return deploy.Request{}, errs.NewValidationError("deploy arguments", err.Error())
	}
	return req, req.Validate()
}
