package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m := NewManagerFromClient(client, nil)
	t.Cleanup(func() { m.Close() })
	return m, mr
}

func TestGetSetRoundTrip(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))
	val, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
}

func TestGetMiss(t *testing.T) {
	m, _ := testManager(t)
	_, err := m.Get(context.Background(), "absent")
	assert.True(t, IsCacheMiss(err))
}

func TestJSONRoundTrip(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	type payload struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}
	require.NoError(t, m.SetJSON(ctx, "j", payload{Name: "x", N: 7}, 0))

	var got payload
	require.NoError(t, m.GetJSON(ctx, "j", &got))
	assert.Equal(t, payload{Name: "x", N: 7}, got)
}

func TestSetNXAndConditionalDelete(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "lease", "token-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.SetNX(ctx, "lease", "token-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lease must not be re-acquired")

	deleted, err := m.DeleteIfEquals(ctx, "lease", "wrong-token")
	require.NoError(t, err)
	assert.False(t, deleted, "wrong token must not release the lease")

	deleted, err = m.DeleteIfEquals(ctx, "lease", "token-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	ok, err = m.SetNX(ctx, "lease", "token-3", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "released lease is acquirable again")
}

func TestSetTTLExpires(t *testing.T) {
	m, mr := testManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Second))
	mr.FastForward(2 * time.Second)

	_, err := m.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}

func TestListOperations(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	require.NoError(t, m.RPush(ctx, "turns", "a", "b", "c", "d"))
	require.NoError(t, m.LTrim(ctx, "turns", -3, -1))

	vals, err := m.LRange(ctx, "turns", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, vals)
}

func TestDelete(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k1", "v", 0))
	require.NoError(t, m.Set(ctx, "k2", "v", 0))
	require.NoError(t, m.Delete(ctx, "k1", "k2"))
	require.NoError(t, m.Delete(ctx))

	_, err := m.Get(ctx, "k1")
	assert.True(t, IsCacheMiss(err))
}
