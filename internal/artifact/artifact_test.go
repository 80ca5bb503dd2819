package artifact_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourceplane/fareflow/internal/artifact"
	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/pipeline"
	"github.com/sourceplane/fareflow/internal/schema"
)

const metricsJSON = `{
	"train_score": {"MAE": 1.234, "MSE": 4.5, "RMSE": 2.1213, "R2": 0.912345},
	"test_score": {"MAE": 1.5, "MSE": 5.0, "RMSE": 3.2, "R2": 0.87654}
}`

func TestParseURI(t *testing.T) {
	t.Parallel()

	bucket, key, err := artifact.ParseURI("s3://fares/evaluation/evaluation.json")
	require.NoError(t, err)
	assert.Equal(t, "fares", bucket)
	assert.Equal(t, "evaluation/evaluation.json", key)

	for _, bad := range []string{"fares/evaluation.json", "s3://fares", "s3:///key", "gs://fares/key"} {
		_, _, err := artifact.ParseURI(bad)
		assert.ErrorIs(t, err, errs.ErrValidation, bad)
	}
}

func TestJoinURI(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "s3://fares/evaluation/evaluation.json", artifact.JoinURI("s3://fares/evaluation/", "evaluation.json"))
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := artifact.NewFileStore(root)
	ctx := context.Background()

	_, err := store.Get(ctx, "s3://fares/evaluation/evaluation.json")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, store.Put(ctx, "s3://fares/evaluation/evaluation.json", []byte(metricsJSON)))
	assert.FileExists(t, filepath.Join(root, "fares", "evaluation", "evaluation.json"))

	got, err := store.Get(ctx, "s3://fares/evaluation/evaluation.json")
	require.NoError(t, err)
	assert.JSONEq(t, metricsJSON, string(got))
}

func TestMetricsReader(t *testing.T) {
	t.Parallel()

	v, err := schema.NewValidator()
	require.NoError(t, err)
	store := artifact.NewMemoryStore()
	reader := artifact.NewMetricsReader(store, v)
	ctx := context.Background()

	t.Run("absent", func(t *testing.T) {
		_, err := reader.Read(ctx, "s3://fares/missing.json")
		assert.ErrorIs(t, err, errs.ErrMetricsUnavailable)
	})

	t.Run("no location yet", func(t *testing.T) {
		_, err := reader.Read(ctx, "")
		assert.ErrorIs(t, err, errs.ErrMetricsUnavailable)
	})

	t.Run("partial document", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "s3://fares/partial.json", []byte(`{"train_score": {`)))
		_, err := reader.Read(ctx, "s3://fares/partial.json")
		assert.ErrorIs(t, err, errs.ErrMetricsUnavailable)
	})

	t.Run("present", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "s3://fares/evaluation.json", []byte(metricsJSON)))
		m, err := reader.Read(ctx, "s3://fares/evaluation.json")
		require.NoError(t, err)
		assert.Equal(t, 3.2, m.TestScore.RMSE)
		assert.Equal(t, 0.912345, m.TrainScore.R2)
	})
}

func TestMetricsReaderRequiresEveryMetric(t *testing.T) {
	t.Parallel()

	store := artifact.NewMemoryStore()
	reader := artifact.NewMetricsReader(store, nil)
	ctx := context.Background()

	for name, doc := range map[string]string{
		"empty splits":  `{"train_score":{},"test_score":{}}`,
		"missing split": `{"train_score":{"MAE":1,"MSE":1,"RMSE":1,"R2":1}}`,
		"missing rmse":  `{"train_score":{"MAE":1,"MSE":1,"RMSE":1,"R2":1},"test_score":{"MAE":1,"MSE":1,"R2":1}}`,
	} {
		uri := "s3://fares/" + name + ".json"
		require.NoError(t, store.Put(ctx, uri, []byte(doc)))
		_, err := reader.Read(ctx, uri)
		assert.ErrorIs(t, err, errs.ErrMetricsUnavailable, name)
	}
}

func TestStageCode(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, script := range []string{"src/preprocessing/load_data.py", "src/training/train_model.py", "src/evaluation/evaluate.py"} {
		path := filepath.Join(root, filepath.FromSlash(script))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("print('"+script+"')\n"), 0o644))
	}

	params := pipeline.DefaultTrainingParams()
	params.Bucket = "fares"
	def, err := pipeline.BuildTraining(params, true)
	require.NoError(t, err)

	store := artifact.NewMemoryStore()
	ctx := context.Background()
	staged, err := artifact.StageCode(ctx, store, root, def)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"s3://fares/code/preprocessing/load_data.py",
		"s3://fares/code/training/" + pipeline.SourceArchive,
		"s3://fares/code/evaluation/evaluate.py",
	}, staged)

	script, err := store.Get(ctx, "s3://fares/code/evaluation/evaluate.py")
	require.NoError(t, err)
	assert.Equal(t, "print('src/evaluation/evaluate.py')\n", string(script))

	archive, err := store.Get(ctx, "s3://fares/code/training/"+pipeline.SourceArchive)
	require.NoError(t, err)
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "train_model.py", hdr.Name)
	body, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, "print('src/training/train_model.py')\n", string(body))
}

func TestStageCodeMissingScript(t *testing.T) {
	t.Parallel()

	params := pipeline.DefaultTrainingParams()
	params.Bucket = "fares"
	def, err := pipeline.BuildTraining(params, false)
	require.NoError(t, err)

	_, err = artifact.StageCode(context.Background(), artifact.NewMemoryStore(), t.TempDir(), def)
	assert.ErrorContains(t, err, pipeline.StepPreprocessing)
}
