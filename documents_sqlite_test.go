package sopflow

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteDocumentStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteDocumentStore(filepath.Join(t.TempDir(), "sops.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	t.Run("empty store", func(t *testing.T) {
		docs, err := store.GetAllActive(ctx)
		require.NoError(t, err)
		require.Empty(t, docs)
	})

	t.Run("put and retrieve", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, Document{ID: "sop-1", Title: "Restart", Content: "Drain first."}))
		require.NoError(t, store.Put(ctx, Document{ID: "sop-2", Title: "Rollback", Content: "Revert the release."}))

		docs, err := store.GetAllActive(ctx)
		require.NoError(t, err)
		require.Len(t, docs, 2)

		doc, err := store.FindByID(ctx, "sop-1")
		require.NoError(t, err)
		require.NotNil(t, doc)
		require.Equal(t, "Restart", doc.Title)
	})

	t.Run("put replaces by id", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, Document{ID: "sop-1", Title: "Restart v2", Content: "Drain, then restart."}))

		doc, err := store.FindByID(ctx, "sop-1")
		require.NoError(t, err)
		require.Equal(t, "Restart v2", doc.Title)

		docs, err := store.GetAllActive(ctx)
		require.NoError(t, err)
		require.Len(t, docs, 2)
	})

	t.Run("deactivate hides the document", func(t *testing.T) {
		require.NoError(t, store.Deactivate(ctx, "sop-2"))

		doc, err := store.FindByID(ctx, "sop-2")
		require.NoError(t, err)
		require.Nil(t, doc)

		docs, err := store.GetAllActive(ctx)
		require.NoError(t, err)
		require.Len(t, docs, 1)
	})

	t.Run("missing id returns nil", func(t *testing.T) {
		doc, err := store.FindByID(ctx, "missing")
		require.NoError(t, err)
		require.Nil(t, doc)
	})
}
