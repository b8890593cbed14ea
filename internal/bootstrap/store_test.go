package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/teamdash/internal/config"
	"example.com/teamdash/internal/domain"
)

func TestOpenStoreMemory(t *testing.T) {
	store, err := OpenStore(context.Background(), config.Config{StoreDriver: config.DriverMemory}, nil)
	require.NoError(t, err)
	defer store.Close()

	require.Nil(t, store.Pool)
	require.Equal(t, config.DriverMemory, store.Driver)
	members, err := store.Repo.ListMembers(context.Background())
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestOpenStoreSQLitePersistsAcrossOpens(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{StoreDriver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "data", "teamdash.db")}

	store, err := OpenStore(ctx, cfg, nil)
	require.NoError(t, err)
	svc := domain.NewService(store.Repo)
	_, err = svc.ResolveMember(ctx, "Ana")
	require.NoError(t, err)
	store.Close()

	reopened, err := OpenStore(ctx, cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()

	members, err := reopened.Repo.ListMembers(ctx)
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, "Ana", members[0].Name)
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), config.Config{StoreDriver: "mongo"}, nil)
	require.ErrorContains(t, err, `unknown store driver "mongo"`)
}
