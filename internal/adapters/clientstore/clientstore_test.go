package clientstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/dicom-portal/internal/ports"
	"github.com/target/dicom-portal/internal/testutil"
)

// exerciseStorage runs the behaviour every ClientStorage must share.
func exerciseStorage(t *testing.T, s ports.ClientStorage) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "portal.view")
	require.ErrorIs(t, err, ports.ErrStorageKeyNotFound)

	require.NoError(t, s.Set(ctx, "portal.view", "ADMIN_DASHBOARD"))
	v, err := s.Get(ctx, "portal.view")
	require.NoError(t, err)
	assert.Equal(t, "ADMIN_DASHBOARD", v)

	require.NoError(t, s.Set(ctx, "portal.view", "USER_DASHBOARD"))
	v, err = s.Get(ctx, "portal.view")
	require.NoError(t, err)
	assert.Equal(t, "USER_DASHBOARD", v)

	require.NoError(t, s.Set(ctx, "portal.cookies", `[{"name":"csrf_token"}]`))
	require.NoError(t, s.Delete(ctx, "portal.view"))
	_, err = s.Get(ctx, "portal.view")
	require.ErrorIs(t, err, ports.ErrStorageKeyNotFound)
	require.NoError(t, s.Delete(ctx, "portal.view"), "deleting a missing key is not an error")

	v, err = s.Get(ctx, "portal.cookies")
	require.NoError(t, err)
	assert.Equal(t, `[{"name":"csrf_token"}]`, v)
}

func TestMemory(t *testing.T) {
	exerciseStorage(t, NewMemory())
}

func TestMemory_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemory()

	require.ErrorIs(t, m.Set(ctx, "k", "v"), context.Canceled)
	_, err := m.Get(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
}

func TestSQLite(t *testing.T) {
	s, err := OpenSQLite(context.Background(), testutil.TempSQLitePath(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	exerciseStorage(t, s)
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := testutil.TempSQLitePath(t.TempDir())

	first, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "portal.view", "USER_DASHBOARD"))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer second.Close()
	v, err := second.Get(ctx, "portal.view")
	require.NoError(t, err)
	assert.Equal(t, "USER_DASHBOARD", v)
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "  ")
	require.Error(t, err)
}

func TestRedis(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	defer client.Close()

	exerciseStorage(t, NewRedis(client, "test:portal:", time.Hour))
}

func TestRedis_PrefixAndTTL(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	defer client.Close()
	ctx := context.Background()
	s := NewRedis(client, "", time.Minute)

	require.NoError(t, s.Set(ctx, "portal.view", "LOGIN"))

	ttl, err := client.TTL(ctx, DefaultRedisPrefix+"portal.view").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestRedis_NoTTL(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	defer client.Close()
	ctx := context.Background()
	s := NewRedis(client, "p:", 0)

	require.NoError(t, s.Set(ctx, "k", "v"))

	ttl, err := client.TTL(ctx, "p:k").Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)
}
