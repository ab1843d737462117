package mysql

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/procflow/repository/internal/repotest"
)

// PROCFLOW_MYSQL_DSN enables the integration test, for example
// "root:secret@tcp(127.0.0.1:3306)/procflow".
const dsnEnv = "PROCFLOW_MYSQL_DSN"

func TestStore(t *testing.T) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}

	ctx := context.Background()
	db, err := Open(dsn)
	require.NoError(t, err)
	defer db.Close()

	store, err := New(db, "procflow_rides_test", repotest.Identity)
	require.NoError(t, err)
	require.NoError(t, store.DropSchema(ctx))
	require.NoError(t, store.CreateSchema(ctx))
	require.NoError(t, store.CreateSchema(ctx), "creating twice must be tolerated")
	defer store.DropSchema(ctx)

	repotest.Run(t, store)
}

func TestNewRejectsInvalidTableNames(t *testing.T) {
	for _, name := range []string{"", "rides; DROP TABLE x", "1rides", "ri-des"} {
		_, err := New[*repotest.Ride](nil, name, repotest.Identity)
		assert.ErrorIs(t, err, ErrInvalidTableName, name)
	}

	_, err := New[*repotest.Ride](nil, "ride_aggregates", repotest.Identity)
	assert.NoError(t, err)
}

func TestOpenRejectsInvalidDSN(t *testing.T) {
	_, err := Open("not a dsn")
	assert.Error(t, err)
}

func TestOpenAcceptsDSN(t *testing.T) {
	db, err := Open("user:pass@tcp(127.0.0.1:3306)/procflow")
	require.NoError(t, err)
	assert.NoError(t, db.Close())
}
