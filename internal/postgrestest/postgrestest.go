// Package postgrestest runs a throwaway Postgres for integration tests.
package postgrestest

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/statichq/pages/internal/postgresutil"
)

// Setup starts a Postgres container, applies the schema migrations and
// returns its connection string together with a teardown function.
func Setup(ctx context.Context) (connectionString string, teardown func() error, err error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_DB":       "postgres",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", nil, err
	}
	teardown = func() error {
		return container.Terminate(context.Background())
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = teardown()
		return "", nil, err
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = teardown()
		return "", nil, err
	}

	connectionString = fmt.Sprintf("postgres://postgres:postgres@%s:%s/postgres?sslmode=disable", host, port.Port())

	if err = postgresutil.Setup(connectionString); err != nil {
		_ = teardown()
		return "", nil, err
	}

	return connectionString, teardown, nil
}
