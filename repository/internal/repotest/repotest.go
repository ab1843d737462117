// Package repotest holds the aggregate fixture and the behaviour every store
// has to show.
package repotest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/procflow/repository"
)

// Ride is the aggregate used by store tests.
type Ride struct {
	ID     string   `json:"id"`
	Driver string   `json:"driver"`
	Stops  []string `json:"stops"`
}

// Identity assigns ids to rides on first save.
var Identity = repository.Identity[*Ride]{
	Get: func(r *Ride) string { return r.ID },
	Set: func(r *Ride, id string) *Ride {
		r.ID = id
		return r
	},
}

// Run exercises the Typed contract against store.
func Run(t *testing.T, store repository.Typed[*Ride]) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing id is absent", func(t *testing.T) {
		got, ok, err := store.FindByID(ctx, "does-not-exist")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, got)
	})

	t.Run("save assigns id and find returns a copy", func(t *testing.T) {
		saved, err := store.Save(ctx, &Ride{Driver: "ada", Stops: []string{"a"}})
		require.NoError(t, err)
		require.NotEmpty(t, saved.ID)

		loaded, ok, err := store.FindByID(ctx, saved.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, saved, loaded)
		assert.NotSame(t, saved, loaded)

		loaded.Stops[0] = "changed"
		again, _, err := store.FindByID(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, "a", again.Stops[0])
	})

	t.Run("save overwrites existing id", func(t *testing.T) {
		_, err := store.Save(ctx, &Ride{ID: "fixed", Driver: "ada"})
		require.NoError(t, err)
		_, err = store.Save(ctx, &Ride{ID: "fixed", Driver: "grace"})
		require.NoError(t, err)

		loaded, ok, err := store.FindByID(ctx, "fixed")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "grace", loaded.Driver)
	})

	t.Run("id requires an assigned id", func(t *testing.T) {
		id, err := store.ID(&Ride{ID: "r1"})
		require.NoError(t, err)
		assert.Equal(t, "r1", id)

		_, err = store.ID(&Ride{})
		assert.ErrorIs(t, err, repository.ErrMissingID)
	})
}
