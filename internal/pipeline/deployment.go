package pipeline

import (
	"fmt"
	"strconv"

	"github.com/sourceplane/fareflow/internal/model"
	"github.com/sourceplane/fareflow/internal/planner"
)

const (
	StepDeployEndpoint = "DeployEndpoint"

	ParamModelPackageArn = "ModelPackageArn"
	ParamEndpointName    = "EndpointName"

	DefaultEndpointName = "nyc-taxi-fare-endpoint"

	// DefaultFareflowImage is the local tag of the fareflow container. Platform
	// runs need the pushed image URI.
	DefaultFareflowImage = "fareflow:latest"
)

// DeploymentParams configures the deployment pipeline
type DeploymentParams struct {
	Name          string
	EndpointName  string
	Image         string
	InstanceType  string
	InstanceCount int
}

// DefaultDeploymentParams returns the production settings of the deployment pipeline
func DefaultDeploymentParams() DeploymentParams {
	return DeploymentParams{
		Name:          "NYCTaxiDeployPipeline",
		EndpointName:  DefaultEndpointName,
		Image:         DefaultFareflowImage,
		InstanceType:  "ml.t3.xlarge",
		InstanceCount: 1,
	}
}

// BuildDeployment assembles the one-step deployment definition. The step runs
// `fareflow deploy` in the fareflow image; the model package and endpoint
// arrive as parameters when an execution starts.
func BuildDeployment(params DeploymentParams) (*model.Definition, error) {
	p := params
	d := DefaultDeploymentParams()
	fillString(&p.Name, d.Name)
	fillString(&p.EndpointName, d.EndpointName)
	fillString(&p.Image, d.Image)
	fillString(&p.InstanceType, d.InstanceType)
	fillInt(&p.InstanceCount, d.InstanceCount)

	def := &model.Definition{
		Name: p.Name,
		Parameters: []model.Parameter{
			{Name: ParamModelPackageArn, Type: model.ParameterString},
			{Name: ParamEndpointName, Type: model.ParameterString, Default: p.EndpointName},
		},
		Steps: []model.Step{{
			Name: StepDeployEndpoint,
			Kind: model.StepDeploy,
			Job: &model.JobSpec{
				Image:         p.Image,
				Command:       []string{"fareflow", "deploy"},
				InstanceType:  p.InstanceType,
				InstanceCount: 1,
			},
			Arguments: []model.Argument{
				{Key: "--model-package-arn", Value: model.Param(ParamModelPackageArn)},
				{Key: "--endpoint-name", Value: model.Param(ParamEndpointName)},
				{Key: "--instance-type", Value: model.Lit(p.InstanceType)},
				{Key: "--initial-instance-count", Value: model.Lit(strconv.Itoa(p.InstanceCount))},
			},
		}},
	}

	if err := planner.Validate(def); err != nil {
		return nil, fmt.Errorf("failed to build %s: %w", p.Name, err)
	}
	return def, nil
}
