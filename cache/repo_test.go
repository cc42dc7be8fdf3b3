package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func repos(t *testing.T) map[string]Repo {
	t.Helper()
	sqlite, err := OpenSQLiteRepo(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Repo{
		"inmemory": NewInMemoryRepo(),
		"sqlite":   sqlite,
	}
}

func TestRepoGetSetDelete(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repos(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := repo.Get(ctx, "forum.auth.session")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, repo.Set(ctx, "forum.auth.session", []byte("one")))
			require.NoError(t, repo.Set(ctx, "forum.auth.session", []byte("two")))

			value, ok, err := repo.Get(ctx, "forum.auth.session")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "two", string(value))

			require.NoError(t, repo.Delete(ctx, "forum.auth.session"))
			require.NoError(t, repo.Delete(ctx, "forum.auth.session"))
			_, ok, err = repo.Get(ctx, "forum.auth.session")
			require.NoError(t, err)
			require.False(t, ok)

			require.Error(t, repo.Set(ctx, "", nil))
		})
	}
}

func TestRepoKeysByPrefix(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repos(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, repo.Set(ctx, "forum.auth.tab", []byte("a")))
			require.NoError(t, repo.Set(ctx, "forum.auth.profile.u1", []byte("b")))
			require.NoError(t, repo.Set(ctx, "forum.theme", []byte("dark")))

			keys, err := repo.Keys(ctx, Namespace)
			require.NoError(t, err)
			require.Equal(t, []string{"forum.auth.profile.u1", "forum.auth.tab"}, keys)
		})
	}
}

func TestSQLiteRepoSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "cache.db")

	repo, err := OpenSQLiteRepo(ctx, path)
	require.NoError(t, err)
	require.NoError(t, repo.Set(ctx, SessionKey, []byte("kept")))
	require.NoError(t, repo.Close())

	reopened, err := OpenSQLiteRepo(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	value, ok, err := reopened.Get(ctx, SessionKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "kept", string(value))
}
