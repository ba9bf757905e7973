package testutil

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/soundlease/payrail/internal/config"
)

const postgresImage = "postgres:16-alpine"

// StartPostgres runs a throwaway postgres container, applies the service
// migrations, and returns a connected pool. Cleanup is registered on t.
func StartPostgres(t *testing.T, log *slog.Logger) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	// Retry container start for transient docker failures.
	var container *tcpostgres.PostgresContainer
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		container, err = tcpostgres.Run(ctx,
			postgresImage,
			tcpostgres.WithDatabase("payrail_test"),
			tcpostgres.WithUsername("payrail"),
			tcpostgres.WithPassword("payrail"),
			tcpostgres.BasicWaitStrategies(),
			tcpostgres.WithSQLDriver("pgx"),
		)
		if err == nil {
			break
		}
		if !isRetryableContainerStartErr(err) || attempt == 3 {
			require.NoError(t, err, "failed to start postgres container")
		}
		time.Sleep(time.Duration(attempt) * 750 * time.Millisecond)
	}
	t.Cleanup(func() {
		terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(terminateCtx); err != nil {
			log.Error("failed to terminate postgres container", "error", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, config.RunMigrations(connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pool.Ping(ctx))
	return pool
}

func isRetryableContainerStartErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "port is already allocated") ||
		strings.Contains(msg, "container name") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused")
}
