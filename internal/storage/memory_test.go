package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	type doc struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, s.Put(ctx, KindAgents, "a1", doc{Name: "alpha", Count: 3}))

	var got doc
	require.NoError(t, s.Get(ctx, KindAgents, "a1", &got))
	require.Equal(t, doc{Name: "alpha", Count: 3}, got)

	// Same id under a different kind is a different document.
	var miss doc
	require.ErrorIs(t, s.Get(ctx, KindGames, "a1", &miss), ErrNotFound)

	require.NoError(t, s.Delete(ctx, KindAgents, "a1"))
	require.ErrorIs(t, s.Get(ctx, KindAgents, "a1", &got), ErrNotFound)
}
