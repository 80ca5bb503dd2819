package platform_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourceplane/fareflow/internal/deploy"
	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/model"
	"github.com/sourceplane/fareflow/internal/platform"
	"github.com/sourceplane/fareflow/internal/registry"
)

// fakeAPI keeps just enough platform state to exercise the adapter
type fakeAPI struct {
	platform.API

	packages  map[string]*sagemaker.DescribeModelPackageOutput
	updates   int
	endpoints map[string]string
	pipelines map[string]string
	started   []*sagemaker.StartPipelineExecutionInput
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		packages:  map[string]*sagemaker.DescribeModelPackageOutput{},
		endpoints: map[string]string{},
		pipelines: map[string]string{},
	}
}

func notFound(msg string) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: msg}
}

func (f *fakeAPI) CreateModelPackage(_ context.Context, in *sagemaker.CreateModelPackageInput, _ ...func(*sagemaker.Options)) (*sagemaker.CreateModelPackageOutput, error) {
	version := int32(len(f.packages) + 1)
	arn := fmt.Sprintf("arn:aws:sagemaker:us-east-1:123456789012:model-package/%s/%d", aws.ToString(in.ModelPackageGroupName), version)
	f.packages[arn] = &sagemaker.DescribeModelPackageOutput{
		ModelPackageArn:        aws.String(arn),
		ModelPackageGroupName:  in.ModelPackageGroupName,
		ModelPackageVersion:    aws.Int32(version),
		ModelApprovalStatus:    in.ModelApprovalStatus,
		InferenceSpecification: in.InferenceSpecification,
		ModelMetrics:           in.ModelMetrics,
		CreationTime:           aws.Time(time.Unix(1700000000, 0)),
	}
	return &sagemaker.CreateModelPackageOutput{ModelPackageArn: aws.String(arn)}, nil
}

func (f *fakeAPI) DescribeModelPackage(_ context.Context, in *sagemaker.DescribeModelPackageInput, _ ...func(*sagemaker.Options)) (*sagemaker.DescribeModelPackageOutput, error) {
	out, ok := f.packages[aws.ToString(in.ModelPackageName)]
	if !ok {
		return nil, notFound("Model package does not exist.")
	}
	c := *out
	return &c, nil
}

func (f *fakeAPI) UpdateModelPackage(_ context.Context, in *sagemaker.UpdateModelPackageInput, _ ...func(*sagemaker.Options)) (*sagemaker.UpdateModelPackageOutput, error) {
	f.updates++
	f.packages[aws.ToString(in.ModelPackageArn)].ModelApprovalStatus = in.ModelApprovalStatus
	f.packages[aws.ToString(in.ModelPackageArn)].LastModifiedTime = aws.Time(time.Unix(1700000100, 0))
	return &sagemaker.UpdateModelPackageOutput{ModelPackageArn: in.ModelPackageArn}, nil
}

func (f *fakeAPI) CreateModel(context.Context, *sagemaker.CreateModelInput, ...func(*sagemaker.Options)) (*sagemaker.CreateModelOutput, error) {
	return &sagemaker.CreateModelOutput{}, nil
}

func (f *fakeAPI) CreateEndpointConfig(context.Context, *sagemaker.CreateEndpointConfigInput, ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointConfigOutput, error) {
	return &sagemaker.CreateEndpointConfigOutput{}, nil
}

func (f *fakeAPI) DescribeEndpoint(_ context.Context, in *sagemaker.DescribeEndpointInput, _ ...func(*sagemaker.Options)) (*sagemaker.DescribeEndpointOutput, error) {
	cfg, ok := f.endpoints[aws.ToString(in.EndpointName)]
	if !ok {
		return nil, notFound(fmt.Sprintf("Could not find endpoint %q.", aws.ToString(in.EndpointName)))
	}
	return &sagemaker.DescribeEndpointOutput{
		EndpointName:       in.EndpointName,
		EndpointConfigName: aws.String(cfg),
		EndpointStatus:     types.EndpointStatusInService,
	}, nil
}

func (f *fakeAPI) CreateEndpoint(_ context.Context, in *sagemaker.CreateEndpointInput, _ ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointOutput, error) {
	f.endpoints[aws.ToString(in.EndpointName)] = aws.ToString(in.EndpointConfigName)
	return &sagemaker.CreateEndpointOutput{}, nil
}

func (f *fakeAPI) UpdateEndpoint(_ context.Context, in *sagemaker.UpdateEndpointInput, _ ...func(*sagemaker.Options)) (*sagemaker.UpdateEndpointOutput, error) {
	f.endpoints[aws.ToString(in.EndpointName)] = aws.ToString(in.EndpointConfigName)
	return &sagemaker.UpdateEndpointOutput{}, nil
}

func (f *fakeAPI) DescribePipeline(_ context.Context, in *sagemaker.DescribePipelineInput, _ ...func(*sagemaker.Options)) (*sagemaker.DescribePipelineOutput, error) {
	if _, ok := f.pipelines[aws.ToString(in.PipelineName)]; !ok {
		return nil, &types.ResourceNotFound{Message: aws.String("Pipeline not found")}
	}
	return &sagemaker.DescribePipelineOutput{PipelineName: in.PipelineName}, nil
}

func (f *fakeAPI) CreatePipeline(_ context.Context, in *sagemaker.CreatePipelineInput, _ ...func(*sagemaker.Options)) (*sagemaker.CreatePipelineOutput, error) {
	f.pipelines[aws.ToString(in.PipelineName)] = aws.ToString(in.PipelineDefinition)
	return &sagemaker.CreatePipelineOutput{PipelineArn: aws.String("arn:pipeline/" + aws.ToString(in.PipelineName))}, nil
}

func (f *fakeAPI) UpdatePipeline(_ context.Context, in *sagemaker.UpdatePipelineInput, _ ...func(*sagemaker.Options)) (*sagemaker.UpdatePipelineOutput, error) {
	f.pipelines[aws.ToString(in.PipelineName)] = aws.ToString(in.PipelineDefinition)
	return &sagemaker.UpdatePipelineOutput{PipelineArn: aws.String("arn:pipeline/" + aws.ToString(in.PipelineName))}, nil
}

func (f *fakeAPI) StartPipelineExecution(_ context.Context, in *sagemaker.StartPipelineExecutionInput, _ ...func(*sagemaker.Options)) (*sagemaker.StartPipelineExecutionOutput, error) {
	f.started = append(f.started, in)
	return &sagemaker.StartPipelineExecutionOutput{PipelineExecutionArn: aws.String("arn:execution/1")}, nil
}

func TestRegistryLifecycle(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	sm := platform.NewSageMaker(api)
	ctx := context.Background()

	pkg, err := sm.Register(ctx, registry.RegisterInput{
		Group:              "NYCTaxiFareModels",
		Image:              "sklearn:1.2-1",
		ModelDataURL:       "s3://bucket/model.tar.gz",
		MetricsURL:         "s3://bucket/evaluation.json",
		InferenceInstances: []string{"ml.m5.large"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.PendingManualApproval, pkg.Status)
	assert.Equal(t, "s3://bucket/evaluation.json", pkg.MetricsURL)
	assert.Equal(t, "s3://bucket/model.tar.gz", pkg.ModelDataURL)
	assert.Equal(t, 1, pkg.Version)

	got, err := sm.UpdateApprovalStatus(ctx, pkg.ARN, model.Approved)
	require.NoError(t, err)
	assert.Equal(t, model.Approved, got.Status)
	assert.NotNil(t, got.DecidedAt)

	got, err = sm.UpdateApprovalStatus(ctx, pkg.ARN, model.Rejected)
	require.NoError(t, err)
	assert.Equal(t, model.Approved, got.Status)
	assert.Equal(t, 1, api.updates)

	_, err = sm.Describe(ctx, "arn:missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = sm.UpdateApprovalStatus(ctx, "arn:missing", model.Approved)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDeployerOnSageMaker(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	d := deploy.NewDeployer(platform.NewSageMaker(api), deploy.WithClock(func() time.Time { return time.Unix(1700000000, 0) }))

	first, err := d.Deploy(context.Background(), deploy.Request{ModelPackageARN: "arn:pkg/1", EndpointName: "ep", InstanceCount: 1})
	require.NoError(t, err)
	assert.False(t, first.Updated)

	second, err := d.Deploy(context.Background(), deploy.Request{ModelPackageARN: "arn:pkg/2", EndpointName: "ep", InstanceCount: 1})
	require.NoError(t, err)
	assert.True(t, second.Updated)
	assert.Equal(t, map[string]string{"ep": second.EndpointConfigName}, api.endpoints)
}

func TestUpsertPipeline(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	sm := platform.NewSageMaker(api)

	arn, created, err := sm.UpsertPipeline(context.Background(), "NYCTaxiDeployPipeline", `{"Version":"2020-12-01"}`, "arn:role")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "arn:pipeline/NYCTaxiDeployPipeline", arn)

	_, created, err = sm.UpsertPipeline(context.Background(), "NYCTaxiDeployPipeline", `{"Version":"2020-12-01","Steps":[]}`, "arn:role")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, `{"Version":"2020-12-01","Steps":[]}`, api.pipelines["NYCTaxiDeployPipeline"])
}

func TestStartPipelineExecution(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	sm := platform.NewSageMaker(api)

	arn, err := sm.StartPipelineExecution(context.Background(), "NYCTaxiDeployPipeline", []model.ParameterValue{
		{Name: "ModelPackageArn", Value: "arn:pkg/1"},
		{Name: "EndpointName", Value: "nyc-taxi-fare-endpoint"},
	})
	require.NoError(t, err)
	assert.Equal(t, "arn:execution/1", arn)

	require.Len(t, api.started, 1)
	in := api.started[0]
	assert.Equal(t, "NYCTaxiDeployPipeline", aws.ToString(in.PipelineName))
	assert.NotEmpty(t, aws.ToString(in.ClientRequestToken))
	require.Len(t, in.PipelineParameters, 2)
	assert.Equal(t, "ModelPackageArn", aws.ToString(in.PipelineParameters[0].Name))
	assert.Equal(t, "arn:pkg/1", aws.ToString(in.PipelineParameters[0].Value))
}
