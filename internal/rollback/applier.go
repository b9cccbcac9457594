package rollback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"opsgate/pkg/cmdutil"
)

// Applier executes rollback statements for one environment and checks the
// result afterwards.
type Applier interface {
	Apply(ctx context.Context, statements []string) error
	Validate(ctx context.Context) error
}

// DryRunApplier logs statements without executing them.
type DryRunApplier struct {
	Logger *slog.Logger
}

func (a *DryRunApplier) Apply(_ context.Context, statements []string) error {
	if len(statements) == 0 {
		return errors.New("script contains no statements")
	}
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for i, stmt := range statements {
		logger.Info("dry-run statement", "index", i+1, "statement", truncate(stmt, 200))
	}
	return nil
}

func (a *DryRunApplier) Validate(context.Context) error {
	return nil
}

// PgApplier applies statements in a single transaction.
type PgApplier struct {
	DatabaseURL string
	Logger      *slog.Logger
}

func (a *PgApplier) connect(ctx context.Context) (*pgx.Conn, error) {
	if a.DatabaseURL == "" {
		return nil, errors.New("database rollback requested but no database url configured")
	}
	conn, err := pgx.Connect(ctx, a.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %s", cmdutil.Redact(err.Error(), a.DatabaseURL))
	}
	return conn, nil
}

func (a *PgApplier) Apply(ctx context.Context, statements []string) error {
	if len(statements) == 0 {
		return errors.New("script contains no statements")
	}
	conn, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		rollbackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rbErr := tx.Rollback(rollbackCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) && a.Logger != nil {
			a.Logger.Warn("failed to roll back transaction", "error", rbErr)
		}
	}()

	for i, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d failed: %w", i+1, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Validate checks that the database still answers queries.
func (a *PgApplier) Validate(ctx context.Context) error {
	conn, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	var one int
	if err := conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("post-rollback query failed: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
