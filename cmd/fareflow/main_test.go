package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml"), "--log-level", "off"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ NYCTaxiFarePredictionPipeline: 3 steps")
	assert.Contains(t, out, "✓ NYCTaxiDeployPipeline: 1 steps")
	assert.Contains(t, out, "✓ Pipelines are valid")
}

func TestPlanCommandWritesDefinition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "training.json")

	out, err := execute(t, "plan", "-o", path, "--view", "tree")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Definition written to "+path)
	assert.Contains(t, out, "RMSECheck [Condition]")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Version": "2020-12-01"`)
}

func TestPlanCommandRejectsUnknownPipeline(t *testing.T) {
	_, err := execute(t, "plan", "--pipeline", "inference", "-o", "")
	assert.ErrorContains(t, err, "unknown pipeline")
}

func TestRunCommandDryRun(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "run", "--artifacts", dir, "--param", "UnifiedBucket=fares")
	require.NoError(t, err)

	assert.Contains(t, out, "□ Dry-run mode enabled")
	assert.Contains(t, out, "  - Step NYCTaxiPreprocessing (Processing)")
	assert.Contains(t, out, "s3://fares/data/raw/v1")
	assert.Contains(t, out, "✓ Dry-run complete")
}

func TestRunCommandRejectsMalformedParams(t *testing.T) {
	_, err := execute(t, "run", "--param", "UnifiedBucket")
	assert.ErrorContains(t, err, "NAME=VALUE")
}

func TestDeployCommandRequiresRole(t *testing.T) {
	t.Setenv("FAREFLOW_ROLE_ARN", "")
	_, err := execute(t, "deploy", "--model-package-arn", "arn:aws:sagemaker:us-east-1:1:model-package/g/1")
	assert.ErrorContains(t, err, "roleArn is required")
}
