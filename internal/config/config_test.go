package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourceplane/fareflow/internal/config"
	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/model"
	"github.com/sourceplane/fareflow/internal/pipeline"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	require.NotNil(t, cfg.Training.Threshold)
	assert.Equal(t, 3000.0, *cfg.Training.Threshold)
	assert.Equal(t, 200, cfg.Training.NEstimators)
	assert.Equal(t, "nyc-taxi-fare-endpoint", cfg.Deployment.EndpointName)
	assert.Equal(t, "NYCTaxiDeployPipeline", cfg.Deployment.PipelineName)
	assert.Equal(t, "ml.t3.xlarge", cfg.Training.ProcessingInstanceType)
	assert.Equal(t, "ml.m5.xlarge", cfg.Training.TrainingInstanceType)
	assert.Equal(t, 5, cfg.MetricsRetry().Attempts)
	assert.Equal(t, 3*time.Second, cfg.MetricsRetry().Delay)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "fareflow.yaml", `
region: eu-west-1
roleArn: arn:aws:iam::1:role/x
training:
  bucket: fares
  threshold: 2500
notify:
  topicArn: arn:aws:sns:eu-west-1:1:mlops
  retry:
    attempts: 2
    delay: 500ms
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, "fares", cfg.Training.Bucket)
	assert.Equal(t, 2500.0, *cfg.TrainingParams().Threshold)
	assert.Equal(t, 2, cfg.Notify.Retry.Attempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Notify.Retry.Delay)
	assert.NoError(t, cfg.Validate(config.RequireRole, config.RequireBucket, config.RequireTopic))
}

func TestLoadKeepsZeroThreshold(t *testing.T) {
	path := writeFile(t, "fareflow.yaml", `
training:
  threshold: 0
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.Training.Threshold)
	assert.Equal(t, 0.0, *cfg.Training.Threshold)
	assert.Equal(t, 0.0, *cfg.TrainingParams().Threshold)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "fareflow.toml", `
role_arn = "arn:aws:iam::1:role/x"

[deployment]
endpoint_name = "fares-staging"
instance_count = 2

[notify]
approval_base = "https://approvals.example.com"
link_ttl = "1h"
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "fares-staging", cfg.DeploymentParams().EndpointName)
	assert.Equal(t, 2, cfg.DeploymentParams().InstanceCount)
	assert.Equal(t, time.Hour, cfg.Notify.LinkTTL)
	assert.Equal(t, "https://approvals.example.com", cfg.Notify.ApprovalBase)
}

func TestDeployImageIsRequiredForUpsert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	t.Setenv("FAREFLOW_IMAGE", "")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(config.RequireDeployImage), "deployment.image is required")
	assert.Equal(t, pipeline.DefaultFareflowImage, mustDeployment(t, cfg).Steps[0].Job.Image)

	image := "123456789012.dkr.ecr.us-east-1.amazonaws.com/fareflow:1"
	t.Setenv("FAREFLOW_IMAGE", image)
	cfg, err = config.Load(path)
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate(config.RequireDeployImage))
	assert.Equal(t, image, mustDeployment(t, cfg).Steps[0].Job.Image)
}

func mustDeployment(t *testing.T, cfg *config.Config) *model.Definition {
	t.Helper()
	def, err := pipeline.BuildDeployment(cfg.DeploymentParams())
	require.NoError(t, err)
	return def
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "fareflow.json", `{"deployment": {"endpointName": "from-file"}, "notify": {"topicArn": "from-file"}}`)

	t.Setenv("SNS_TOPIC_ARN", "arn:aws:sns:us-east-1:1:env")
	t.Setenv("DEPLOY_PIPELINE_NAME", "EnvDeploy")
	t.Setenv("ENDPOINT_NAME", "env-endpoint")
	t.Setenv("APPROVAL_API_BASE", "https://env.example.com")
	t.Setenv("FAREFLOW_REGISTRY_DSN", "postgres://localhost/fareflow")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "arn:aws:sns:us-east-1:1:env", cfg.Notify.TopicARN)
	assert.Equal(t, "EnvDeploy", cfg.Deployment.PipelineName)
	assert.Equal(t, "env-endpoint", cfg.Deployment.EndpointName)
	assert.Equal(t, "https://env.example.com", cfg.Notify.ApprovalBase)
	assert.Equal(t, "postgres://localhost/fareflow", cfg.Registry.DSN)
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	path := writeFile(t, "fareflow.ini", "x=1")
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := &config.Config{Notify: config.NotifyConfig{ApprovalBase: "approvals.example.com"}}
	cfg.Normalize()

	err := cfg.Validate(config.RequireRole, config.RequireTopic)
	require.ErrorIs(t, err, errs.ErrValidation)

	var verr *errs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 3)
}
