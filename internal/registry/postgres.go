package registry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Queryer is the part of a pgx pool or transaction the registry needs
type Queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres keeps model packages in a PostgreSQL table. Decisions are a single
// conditional UPDATE, so concurrent approve and reject calls cannot both win.
type Postgres struct {
	db     Queryer
	prefix string
}

// NewPostgres wraps db. prefix starts every ARN the registry assigns.
func NewPostgres(db Queryer, prefix string) *Postgres {
	if prefix == "" {
		prefix = "arn:aws:sagemaker:local:000000000000"
	}
	return &Postgres{db: db, prefix: prefix}
}

// OpenPool connects to dsn and checks the connection
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping registry database: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema migrations to dsn
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

const packageColumns = `arn, group_name, version, model_data_url, metrics_url, description, status, created_at, decided_at`

func scanPackage(row pgx.Row) (*model.ModelPackage, error) {
	var (
		pkg    model.ModelPackage
		status string
	)
	if err := row.Scan(
		&pkg.ARN, &pkg.Group, &pkg.Version, &pkg.ModelDataURL, &pkg.MetricsURL,
		&pkg.Description, &status, &pkg.CreatedAt, &pkg.DecidedAt,
	); err != nil {
		return nil, err
	}
	pkg.Status = model.ApprovalStatus(status)
	return &pkg, nil
}

func (p *Postgres) Register(ctx context.Context, in RegisterInput) (*model.ModelPackage, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	row := p.db.QueryRow(ctx, `
		INSERT INTO model_packages (
			arn, group_name, version, image, model_data_url, metrics_url, description,
			content_types, response_types, inference_instances, transform_instances, status
		)
		SELECT $1 || ':model-package/' || lower($2) || '/' || n.v, $2, n.v, $3, $4, $5, $6, $7, $8, $9, $10, $11
		FROM (SELECT COALESCE(MAX(version), 0) + 1 AS v FROM model_packages WHERE lower(group_name) = lower($2)) n
		RETURNING `+packageColumns,
		p.prefix, in.Group, in.Image, in.ModelDataURL, in.MetricsURL, in.Description,
		nonNil(in.ContentTypes), nonNil(in.ResponseTypes), nonNil(in.InferenceInstances), nonNil(in.TransformInstances),
		string(model.PendingManualApproval),
	)

	pkg, err := scanPackage(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, errs.Platform("create model package", fmt.Errorf("group %s: %w", in.Group, errs.ErrAlreadyExists))
		}
		return nil, errs.Platform("create model package", err)
	}
	return pkg, nil
}

func (p *Postgres) Describe(ctx context.Context, arn string) (*model.ModelPackage, error) {
	row := p.db.QueryRow(ctx, `SELECT `+packageColumns+` FROM model_packages WHERE arn = $1`, arn)
	pkg, err := scanPackage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("model package %s: %w", arn, errs.ErrNotFound)
	}
	if err != nil {
		return nil, errs.Platform("describe model package", err)
	}
	return pkg, nil
}

func (p *Postgres) UpdateApprovalStatus(ctx context.Context, arn string, status model.ApprovalStatus) (*model.ModelPackage, error) {
	if err := CheckDecision(arn, status); err != nil {
		return nil, err
	}

	row := p.db.QueryRow(ctx, `
		UPDATE model_packages
		SET status = $2, decided_at = now()
		WHERE arn = $1 AND status = $3
		RETURNING `+packageColumns,
		arn, string(status), string(model.PendingManualApproval),
	)
	pkg, err := scanPackage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// either unknown or already decided
		return p.Describe(ctx, arn)
	}
	if err != nil {
		return nil, errs.Platform("update model package", err)
	}
	return pkg, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
