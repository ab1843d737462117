package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drblury/procflow/repository/internal/repotest"
)

func TestStore(t *testing.T) {
	store := New(repotest.Identity)
	repotest.Run(t, store)
	assert.Equal(t, 2, store.Len())
}
