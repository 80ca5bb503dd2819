package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/pipeline"
	"github.com/sourceplane/fareflow/internal/retry"
)

// TrainingConfig holds the settings of the training pipeline
type TrainingConfig struct {
	PipelineName           string   `yaml:"pipelineName" toml:"pipeline_name"`
	Bucket                 string   `yaml:"bucket" toml:"bucket"`
	NEstimators            int      `yaml:"nEstimators" toml:"n_estimators"`
	MetricPath             string   `yaml:"metricPath" toml:"metric_path"`
	Threshold              *float64 `yaml:"threshold" toml:"threshold"`
	ModelPackageGroup      string   `yaml:"modelPackageGroup" toml:"model_package_group"`
	Image                  string   `yaml:"image" toml:"image"`
	ProcessingInstanceType string   `yaml:"processingInstanceType" toml:"processing_instance_type"`
	TrainingInstanceType   string   `yaml:"trainingInstanceType" toml:"training_instance_type"`
	InferenceInstanceType  string   `yaml:"inferenceInstanceType" toml:"inference_instance_type"`
	TransformInstanceType  string   `yaml:"transformInstanceType" toml:"transform_instance_type"`
}

// DeploymentConfig holds the settings of the deployment pipeline and job
type DeploymentConfig struct {
	PipelineName  string `yaml:"pipelineName" toml:"pipeline_name"`
	EndpointName  string `yaml:"endpointName" toml:"endpoint_name"`
	Image         string `yaml:"image" toml:"image"`
	InstanceType  string `yaml:"instanceType" toml:"instance_type"`
	InstanceCount int    `yaml:"instanceCount" toml:"instance_count"`
	ModelBaseName string `yaml:"modelBaseName" toml:"model_base_name"`
}

// RetryConfig bounds the metrics fetch of the notify handler
type RetryConfig struct {
	Attempts int           `yaml:"attempts" toml:"attempts"`
	Delay    time.Duration `yaml:"delay" toml:"delay"`
}

// NotifyConfig configures notifications and the approval links inside them
type NotifyConfig struct {
	TopicARN     string        `yaml:"topicArn" toml:"topic_arn"`
	ApprovalBase string        `yaml:"approvalBase" toml:"approval_base"`
	SigningKey   string        `yaml:"signingKey" toml:"signing_key"`
	LinkTTL      time.Duration `yaml:"linkTTL" toml:"link_ttl"`
	Retry        RetryConfig   `yaml:"retry" toml:"retry"`
}

// ArtifactConfig selects where evaluation artifacts are read from.
// With Dir set, s3:// URIs are mapped onto the local directory.
type ArtifactConfig struct {
	Dir      string `yaml:"dir" toml:"dir"`
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	UseSSL   bool   `yaml:"useSSL" toml:"use_ssl"`
}

// RegistryConfig selects the model registry backend. An empty DSN means the
// platform registry.
type RegistryConfig struct {
	DSN string `yaml:"dsn" toml:"dsn"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" toml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" toml:"shutdown_timeout"`
	ValidateEvents  bool          `yaml:"validateEvents" toml:"validate_events"`
}

// Config is the whole fareflow configuration. It is loaded once in main and
// passed down.
type Config struct {
	Region   string `yaml:"region" toml:"region"`
	RoleARN  string `yaml:"roleArn" toml:"role_arn"`
	LogLevel string `yaml:"logLevel" toml:"log_level"`

	Training   TrainingConfig   `yaml:"training" toml:"training"`
	Deployment DeploymentConfig `yaml:"deployment" toml:"deployment"`
	Notify     NotifyConfig     `yaml:"notify" toml:"notify"`
	Artifacts  ArtifactConfig   `yaml:"artifacts" toml:"artifacts"`
	Registry   RegistryConfig   `yaml:"registry" toml:"registry"`
	Server     ServerConfig     `yaml:"server" toml:"server"`
}

// Load reads the configuration file at path, applies environment overrides
// and fills defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg, os.Getenv)
	cfg.Normalize()
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse TOML config %s: %w", path, err)
		}
	case ".yaml", ".yml", ".json":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Notify.TopicARN, "SNS_TOPIC_ARN")
	set(&cfg.Deployment.PipelineName, "DEPLOY_PIPELINE_NAME")
	set(&cfg.Deployment.EndpointName, "ENDPOINT_NAME")
	set(&cfg.Notify.ApprovalBase, "APPROVAL_API_BASE")
	set(&cfg.Region, "AWS_REGION")
	set(&cfg.RoleARN, "FAREFLOW_ROLE_ARN")
	set(&cfg.Registry.DSN, "FAREFLOW_REGISTRY_DSN")
	set(&cfg.Notify.SigningKey, "FAREFLOW_LINK_SIGNING_KEY")
	set(&cfg.Training.Bucket, "FAREFLOW_BUCKET")
	set(&cfg.LogLevel, "FAREFLOW_LOG_LEVEL")
	set(&cfg.Deployment.Image, "FAREFLOW_IMAGE")
}

// Normalize fills every unset field with its production default
func (c *Config) Normalize() {
	train := pipeline.DefaultTrainingParams()
	dep := pipeline.DefaultDeploymentParams()

	fill(&c.Region, "us-east-1")
	fill(&c.LogLevel, "info")

	t := &c.Training
	fill(&t.PipelineName, train.Name)
	if t.NEstimators == 0 {
		t.NEstimators = train.NEstimators
	}
	fill(&t.MetricPath, train.MetricPath)
	if t.Threshold == nil {
		t.Threshold = pipeline.Float64(*train.Threshold)
	}
	fill(&t.ModelPackageGroup, train.ModelPackageGroup)
	fill(&t.Image, pipeline.DefaultSKLearnImage)
	fill(&t.ProcessingInstanceType, train.ProcessingInstanceType)
	fill(&t.TrainingInstanceType, train.TrainingInstanceType)
	fill(&t.InferenceInstanceType, train.InferenceInstanceType)
	fill(&t.TransformInstanceType, train.TransformInstanceType)

	d := &c.Deployment
	fill(&d.PipelineName, dep.Name)
	fill(&d.EndpointName, dep.EndpointName)
	fill(&d.InstanceType, dep.InstanceType)
	if d.InstanceCount == 0 {
		d.InstanceCount = dep.InstanceCount
	}

	n := &c.Notify
	if n.LinkTTL == 0 {
		n.LinkTTL = 7 * 24 * time.Hour
	}
	if n.Retry.Attempts == 0 {
		n.Retry.Attempts = 5
	}
	if n.Retry.Delay == 0 {
		n.Retry.Delay = 3 * time.Second
	}

	fill(&c.Server.Addr, ":8080")
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
}

func fill(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

// Requirement names a setting a command cannot run without
type Requirement string

const (
	RequireRole         Requirement = "roleArn"
	RequireBucket       Requirement = "training.bucket"
	RequireTopic        Requirement = "notify.topicArn"
	RequireApprovalBase Requirement = "notify.approvalBase"
	RequireDeployImage  Requirement = "deployment.image"
)

// Validate reports malformed settings and every requirement that is unset
func (c *Config) Validate(reqs ...Requirement) error {
	var problems []string
	for _, r := range reqs {
		var v string
		switch r {
		case RequireRole:
			v = c.RoleARN
		case RequireBucket:
			v = c.Training.Bucket
		case RequireTopic:
			v = c.Notify.TopicARN
		case RequireApprovalBase:
			v = c.Notify.ApprovalBase
		case RequireDeployImage:
			v = c.Deployment.Image
		}
		if v == "" {
			problems = append(problems, fmt.Sprintf("%s is required", r))
		}
	}

	if c.Training.NEstimators < 0 {
		problems = append(problems, "training.nEstimators must be positive")
	}
	if c.Deployment.InstanceCount < 0 {
		problems = append(problems, "deployment.instanceCount must be positive")
	}
	if c.Notify.Retry.Attempts < 0 || c.Notify.Retry.Delay < 0 {
		problems = append(problems, "notify.retry must not be negative")
	}
	if base := c.Notify.ApprovalBase; base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		problems = append(problems, "notify.approvalBase must be an http(s) URL")
	}

	if len(problems) > 0 {
		return errs.NewValidationError("config", problems...)
	}
	return nil
}

// TrainingParams converts the training settings into builder parameters
func (c *Config) TrainingParams() pipeline.TrainingParams {
	t := c.Training
	var threshold *float64
	if t.Threshold != nil {
		threshold = pipeline.Float64(*t.Threshold)
	}
	return pipeline.TrainingParams{
		Name:                   t.PipelineName,
		Bucket:                 t.Bucket,
		NEstimators:            t.NEstimators,
		MetricPath:             t.MetricPath,
		Threshold:              threshold,
		ModelPackageGroup:      t.ModelPackageGroup,
		ProcessingImage:        t.Image,
		TrainingImage:          t.Image,
		InferenceImage:         t.Image,
		ProcessingInstanceType: t.ProcessingInstanceType,
		TrainingInstanceType:   t.TrainingInstanceType,
		InferenceInstanceType:  t.InferenceInstanceType,
		TransformInstanceType:  t.TransformInstanceType,
	}
}

// DeploymentParams converts the deployment settings into builder parameters
func (c *Config) DeploymentParams() pipeline.DeploymentParams {
	d := c.Deployment
	return pipeline.DeploymentParams{
		Name:          d.PipelineName,
		EndpointName:  d.EndpointName,
		Image:         d.Image,
		InstanceType:  d.InstanceType,
		InstanceCount: d.InstanceCount,
	}
}

// MetricsRetry is the retry policy of the notify metrics fetch
func (c *Config) MetricsRetry() retry.Policy {
	return retry.Fixed(c.Notify.Retry.Attempts, c.Notify.Retry.Delay)
}
