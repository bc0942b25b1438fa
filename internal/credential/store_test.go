package credential

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/vendor-presence/internal/types"
)

func TestStores(t *testing.T) {
	ctx := context.Background()

	sqliteStore, err := OpenSQLite(filepath.Join(t.TempDir(), "state", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	stores := map[string]Store{
		"memory": NewMemoryStore(types.Session{}),
		"sqlite": sqliteStore,
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			_, err := store.Load(ctx)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Save(ctx, types.Session{Token: "t1", VendorID: "v1"}))
			got, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, types.Session{Token: "t1", VendorID: "v1"}, got)

			require.NoError(t, store.Save(ctx, types.Session{Token: "t2", VendorID: "v1"}))
			got, err = store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, "t2", got.Token)

			assert.Error(t, store.Save(ctx, types.Session{Token: "only-token"}))

			require.NoError(t, store.Clear(ctx))
			_, err = store.Load(ctx)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s1, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s1.Save(ctx, types.Session{Token: "persisted", VendorID: "v9"}))
	require.NoError(t, s1.Close())

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Token)
	assert.Equal(t, "v9", got.VendorID)
}
