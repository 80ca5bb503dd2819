package registry_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/model"
	"github.com/sourceplane/fareflow/internal/registry"
)

func input(group string) registry.RegisterInput {
	return registry.RegisterInput{
		Group:        group,
		ModelDataURL: "s3://fares/models/model.tar.gz",
		MetricsURL:   "s3://fares/evaluation/evaluation.json",
		ContentTypes: []string{"text/csv"},
		Description:  "NYC Taxi Fare Prediction model",
	}
}

// registryContract runs the lifecycle rules every backend must honour
func registryContract(t *testing.T, reg registry.Registry, group string) {
	ctx := context.Background()

	t.Run("register creates a pending package", func(t *testing.T) {
		pkg, err := reg.Register(ctx, input(group))
		require.NoError(t, err)
		assert.Equal(t, model.PendingManualApproval, pkg.Status)
		assert.Equal(t, "s3://fares/evaluation/evaluation.json", pkg.MetricsURL)
		assert.Nil(t, pkg.DecidedAt)

		got, err := reg.Describe(ctx, pkg.ARN)
		require.NoError(t, err)
		assert.Equal(t, pkg.ARN, got.ARN)
	})

	t.Run("register never overwrites", func(t *testing.T) {
		a, err := reg.Register(ctx, input(group))
		require.NoError(t, err)
		b, err := reg.Register(ctx, input(group))
		require.NoError(t, err)
		assert.NotEqual(t, a.ARN, b.ARN)
		assert.Equal(t, a.Version+1, b.Version)
	})

	t.Run("groups differing in case share one version sequence", func(t *testing.T) {
		a, err := reg.Register(ctx, input(group))
		require.NoError(t, err)
		b, err := reg.Register(ctx, input(strings.ToUpper(group)))
		require.NoError(t, err)
		assert.NotEqual(t, a.ARN, b.ARN)
		assert.Equal(t, a.Version+1, b.Version)

		c, err := reg.Register(ctx, input(group))
		require.NoError(t, err)
		assert.Equal(t, b.Version+1, c.Version)
	})

	t.Run("approve twice stays approved", func(t *testing.T) {
		pkg, err := reg.Register(ctx, input(group))
		require.NoError(t, err)

		first, err := reg.UpdateApprovalStatus(ctx, pkg.ARN, model.Approved)
		require.NoError(t, err)
		assert.Equal(t, model.Approved, first.Status)
		require.NotNil(t, first.DecidedAt)

		second, err := reg.UpdateApprovalStatus(ctx, pkg.ARN, model.Approved)
		require.NoError(t, err)
		assert.Equal(t, model.Approved, second.Status)
		assert.True(t, first.DecidedAt.Equal(*second.DecidedAt))
	})

	t.Run("decided package never flips", func(t *testing.T) {
		pkg, err := reg.Register(ctx, input(group))
		require.NoError(t, err)

		_, err = reg.UpdateApprovalStatus(ctx, pkg.ARN, model.Rejected)
		require.NoError(t, err)
		got, err := reg.UpdateApprovalStatus(ctx, pkg.ARN, model.Approved)
		require.NoError(t, err)
		assert.Equal(t, model.Rejected, got.Status)
	})

	t.Run("cannot move back to pending", func(t *testing.T) {
		pkg, err := reg.Register(ctx, input(group))
		require.NoError(t, err)

		_, err = reg.UpdateApprovalStatus(ctx, pkg.ARN, model.PendingManualApproval)
		assert.ErrorIs(t, err, errs.ErrValidation)
	})

	t.Run("unknown package", func(t *testing.T) {
		_, err := reg.UpdateApprovalStatus(ctx, "arn:missing", model.Approved)
		assert.ErrorIs(t, err, errs.ErrNotFound)
		_, err = reg.Describe(ctx, "arn:missing")
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("register requires group and model data", func(t *testing.T) {
		_, err := reg.Register(ctx, registry.RegisterInput{})
		assert.ErrorIs(t, err, errs.ErrValidation)
	})
}

func TestMemory(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	reg := registry.NewMemory("").WithClock(func() time.Time { return now })
	registryContract(t, reg, "NYCTaxiFareModels")

	pkg, err := reg.Register(context.Background(), input("NYCTaxiFareModels"))
	require.NoError(t, err)
	assert.Regexp(t, `^arn:aws:sagemaker:local:000000000000:model-package/nyctaxifaremodels/\d+$`, pkg.ARN)
	assert.Equal(t, now, pkg.CreatedAt)
}

func TestMemoryConcurrentDecisions(t *testing.T) {
	t.Parallel()

	reg := registry.NewMemory("")
	ctx := context.Background()
	pkg, err := reg.Register(ctx, input("g"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		status := model.Approved
		if i%2 == 1 {
			status = model.Rejected
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = reg.UpdateApprovalStatus(ctx, pkg.ARN, status)
		}()
	}
	wg.Wait()

	final, err := reg.Describe(ctx, pkg.ARN)
	require.NoError(t, err)
	assert.True(t, final.Status.Decided())
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("FAREFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FAREFLOW_TEST_POSTGRES_DSN is not set")
	}

	ctx := context.Background()
	require.NoError(t, registry.Migrate(ctx, dsn))
	pool, err := registry.OpenPool(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	group := fmt.Sprintf("Test%d", time.Now().UnixNano())
	registryContract(t, registry.NewPostgres(pool, ""), group)
}
