// Package platform adapts the managed ML platform to the ports the rest of
// fareflow works against: the model registry, the endpoint host and the
// pipeline engine.
package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/model"
	"github.com/sourceplane/fareflow/internal/registry"
)

// API is the part of the SageMaker client fareflow calls
type API interface {
	CreateModelPackage(ctx context.Context, params *sagemaker.CreateModelPackageInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateModelPackageOutput, error)
	DescribeModelPackage(ctx context.Context, params *sagemaker.DescribeModelPackageInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeModelPackageOutput, error)
	UpdateModelPackage(ctx context.Context, params *sagemaker.UpdateModelPackageInput, optFns ...func(*sagemaker.Options)) (*sagemaker.UpdateModelPackageOutput, error)

	CreateModel(ctx context.Context, params *sagemaker.CreateModelInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateModelOutput, error)
	CreateEndpointConfig(ctx context.Context, params *sagemaker.CreateEndpointConfigInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointConfigOutput, error)
	DescribeEndpoint(ctx context.Context, params *sagemaker.DescribeEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeEndpointOutput, error)
	CreateEndpoint(ctx context.Context, params *sagemaker.CreateEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointOutput, error)
	UpdateEndpoint(ctx context.Context, params *sagemaker.UpdateEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.UpdateEndpointOutput, error)

	DescribePipeline(ctx context.Context, params *sagemaker.DescribePipelineInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribePipelineOutput, error)
	CreatePipeline(ctx context.Context, params *sagemaker.CreatePipelineInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreatePipelineOutput, error)
	UpdatePipeline(ctx context.Context, params *sagemaker.UpdatePipelineInput, optFns ...func(*sagemaker.Options)) (*sagemaker.UpdatePipelineOutput, error)
	StartPipelineExecution(ctx context.Context, params *sagemaker.StartPipelineExecutionInput, optFns ...func(*sagemaker.Options)) (*sagemaker.StartPipelineExecutionOutput, error)
}

// SageMaker implements the registry, the endpoint host and the pipeline
// starter on one client
type SageMaker struct {
	api API
}

func NewSageMaker(api API) *SageMaker {
	return &SageMaker{api: api}
}

// LoadAWSConfig resolves credentials and region the usual SDK way
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	return cfg, nil
}

func (s *SageMaker) Register(ctx context.Context, in registry.RegisterInput) (*model.ModelPackage, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	inference := &types.InferenceSpecification{
		Containers: []types.ModelPackageContainerDefinition{{
			Image:        aws.String(in.Image),
			ModelDataUrl: aws.String(in.ModelDataURL),
		}},
		SupportedContentTypes:      in.ContentTypes,
		SupportedResponseMIMETypes: in.ResponseTypes,
	}
	for _, it := range in.InferenceInstances {
		inference.SupportedRealtimeInferenceInstanceTypes = append(inference.SupportedRealtimeInferenceInstanceTypes, types.ProductionVariantInstanceType(it))
	}
	for _, it := range in.TransformInstances {
		inference.SupportedTransformInstanceTypes = append(inference.SupportedTransformInstanceTypes, types.TransformInstanceType(it))
	}

	input := &sagemaker.CreateModelPackageInput{
		ModelPackageGroupName:  aws.String(in.Group),
		ModelApprovalStatus:    types.ModelApprovalStatusPendingManualApproval,
		InferenceSpecification: inference,
	}
	if in.Description != "" {
		input.ModelPackageDescription = aws.String(in.Description)
	}
	if in.MetricsURL != "" {
		input.ModelMetrics = &types.ModelMetrics{
			ModelQuality: &types.ModelQuality{
				Statistics: &types.MetricsSource{
					ContentType: aws.String("application/json"),
					S3Uri:       aws.String(in.MetricsURL),
				},
			},
		}
	}

	out, err := s.api.CreateModelPackage(ctx, input)
	if err != nil {
		return nil, errs.Platform("create model package", classify(err))
	}
	return s.Describe(ctx, aws.ToString(out.ModelPackageArn))
}

func (s *SageMaker) Describe(ctx context.Context, arn string) (*model.ModelPackage, error) {
	out, err := s.api.DescribeModelPackage(ctx, &sagemaker.DescribeModelPackageInput{
		ModelPackageName: aws.String(arn),
	})
	if err != nil {
		err = classify(err)
		if errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("model package %s: %w", arn, err)
		}
		return nil, errs.Platform("describe model package", err)
	}

	pkg := &model.ModelPackage{
		ARN:         aws.ToString(out.ModelPackageArn),
		Group:       aws.ToString(out.ModelPackageGroupName),
		Version:     int(aws.ToInt32(out.ModelPackageVersion)),
		Description: aws.ToString(out.ModelPackageDescription),
		Status:      model.ApprovalStatus(out.ModelApprovalStatus),
		CreatedAt:   aws.ToTime(out.CreationTime),
	}
	if out.InferenceSpecification != nil && len(out.InferenceSpecification.Containers) > 0 {
		pkg.ModelDataURL = aws.ToString(out.InferenceSpecification.Containers[0].ModelDataUrl)
	}
	if out.ModelMetrics != nil && out.ModelMetrics.ModelQuality != nil && out.ModelMetrics.ModelQuality.Statistics != nil {
		pkg.MetricsURL = aws.ToString(out.ModelMetrics.ModelQuality.Statistics.S3Uri)
	}
	if pkg.Status.Decided() && out.LastModifiedTime != nil {
		t := aws.ToTime(out.LastModifiedTime)
		pkg.DecidedAt = &t
	}
	return pkg, nil
}

// UpdateApprovalStatus moves a pending package to status. The platform itself
// allows any transition, so the current state is read first and a decided
// package is returned untouched.
func (s *SageMaker) UpdateApprovalStatus(ctx context.Context, arn string, status model.ApprovalStatus) (*model.ModelPackage, error) {
	if err := registry.CheckDecision(arn, status); err != nil {
		return nil, err
	}

	pkg, err := s.Describe(ctx, arn)
	if err != nil {
		return nil, err
	}
	if !pkg.Status.CanTransition(status) {
		return pkg, nil
	}

	_, err = s.api.UpdateModelPackage(ctx, &sagemaker.UpdateModelPackageInput{
		ModelPackageArn:     aws.String(arn),
		ModelApprovalStatus: types.ModelApprovalStatus(status),
	})
	if err != nil {
		return nil, errs.Platform("update model package", classify(err))
	}
	return s.Describe(ctx, arn)
}

func (s *SageMaker) CreateModel(ctx context.Context, m model.Model) error {
	input := &sagemaker.CreateModelInput{
		ModelName:  aws.String(m.Name),
		Containers: []types.ContainerDefinition{{ModelPackageName: aws.String(m.ModelPackageARN)}},
	}
	if m.ExecutionRole != "" {
		input.ExecutionRoleArn = aws.String(m.ExecutionRole)
	}
	_, err := s.api.CreateModel(ctx, input)
	return errs.Platform("create model", classify(err))
}

func (s *SageMaker) CreateEndpointConfig(ctx context.Context, c model.EndpointConfig) error {
	_, err := s.api.CreateEndpointConfig(ctx, &sagemaker.CreateEndpointConfigInput{
		EndpointConfigName: aws.String(c.Name),
		ProductionVariants: []types.ProductionVariant{{
			VariantName:          aws.String(c.VariantName),
			ModelName:            aws.String(c.ModelName),
			InstanceType:         types.ProductionVariantInstanceType(c.InstanceType),
			InitialInstanceCount: aws.Int32(int32(c.InstanceCount)),
		}},
	})
	return errs.Platform("create endpoint config", classify(err))
}

func (s *SageMaker) DescribeEndpoint(ctx context.Context, name string) (*model.Endpoint, error) {
	out, err := s.api.DescribeEndpoint(ctx, &sagemaker.DescribeEndpointInput{EndpointName: aws.String(name)})
	if err != nil {
		err = classify(err)
		if errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("endpoint %s: %w", name, err)
		}
		return nil, errs.Platform("describe endpoint", err)
	}
	return &model.Endpoint{
		Name:       aws.ToString(out.EndpointName),
		ConfigName: aws.ToString(out.EndpointConfigName),
		Status:     string(out.EndpointStatus),
	}, nil
}

func (s *SageMaker) CreateEndpoint(ctx context.Context, name, configName string) error {
	_, err := s.api.CreateEndpoint(ctx, &sagemaker.CreateEndpointInput{
		EndpointName:       aws.String(name),
		EndpointConfigName: aws.String(configName),
	})
	return errs.Platform("create endpoint", classify(err))
}

func (s *SageMaker) UpdateEndpoint(ctx context.Context, name, configName string) error {
	_, err := s.api.UpdateEndpoint(ctx, &sagemaker.UpdateEndpointInput{
		EndpointName:       aws.String(name),
		EndpointConfigName: aws.String(configName),
	})
	return errs.Platform("update endpoint", classify(err))
}

func (s *SageMaker) StartPipelineExecution(ctx context.Context, pipeline string, params []model.ParameterValue) (string, error) {
	input := &sagemaker.StartPipelineExecutionInput{
		PipelineName:       aws.String(pipeline),
		ClientRequestToken: aws.String(uuid.NewString()),
	}
	for _, p := range params {
		input.PipelineParameters = append(input.PipelineParameters, types.Parameter{
			Name:  aws.String(p.Name),
			Value: aws.String(p.Value),
		})
	}
	out, err := s.api.StartPipelineExecution(ctx, input)
	if err != nil {
		return "", errs.Platform("start pipeline execution", classify(err))
	}
	return aws.ToString(out.PipelineExecutionArn), nil
}

// UpsertPipeline creates the pipeline, or replaces its definition when it
// already exists
func (s *SageMaker) UpsertPipeline(ctx context.Context, name, definition, roleARN string) (arn string, created bool, err error) {
	_, err = s.api.DescribePipeline(ctx, &sagemaker.DescribePipelineInput{PipelineName: aws.String(name)})
	err = classify(err)
	switch {
	case err == nil:
		out, err := s.api.UpdatePipeline(ctx, &sagemaker.UpdatePipelineInput{
			PipelineName:       aws.String(name),
			PipelineDefinition: aws.String(definition),
			RoleArn:            aws.String(roleARN),
		})
		if err != nil {
			return "", false, errs.Platform("update pipeline", classify(err))
		}
		return aws.ToString(out.PipelineArn), false, nil

	case errors.Is(err, errs.ErrNotFound):
		out, err := s.api.CreatePipeline(ctx, &sagemaker.CreatePipelineInput{
			PipelineName:       aws.String(name),
			PipelineDefinition: aws.String(definition),
			RoleArn:            aws.String(roleARN),
			ClientRequestToken: aws.String(uuid.NewString()),
		})
		if err != nil {
			return "", false, errs.Platform("create pipeline", classify(err))
		}
		return aws.ToString(out.PipelineArn), true, nil
	}
	return "", false, errs.Platform("describe pipeline", err)
}

// classify maps platform "does not exist" answers onto errs.ErrNotFound and
// "already exists" answers onto errs.ErrAlreadyExists
func classify(err error) error {
	if err == nil {
		return nil
	}
	var missing *types.ResourceNotFound
	if errors.As(err, &missing) {
		return fmt.Errorf("%w: %w", errs.ErrNotFound, err)
	}
	var inUse *types.ResourceInUse
	if errors.As(err, &inUse) {
		return fmt.Errorf("%w: %w", errs.ErrAlreadyExists, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.ErrorMessage())
		switch {
		case apiErr.ErrorCode() == "ResourceNotFound",
			strings.Contains(msg, "could not find"),
			strings.Contains(msg, "does not exist"):
			return fmt.Errorf("%w: %w", errs.ErrNotFound, err)
		case strings.Contains(msg, "already exist"):
			return fmt.Errorf("%w: %w", errs.ErrAlreadyExists, err)
		}
	}
	return err
}
