package lock

import (
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalTryLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	ok, err := l.TryLock(ctx, "job")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.TryLock(ctx, "job")
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	ok, err = l.TryLock(ctx, "other")
	require.NoError(t, err)
	assert.True(t, ok, "names are independent")

	require.NoError(t, l.Unlock(ctx, "job"))
	ok, err = l.TryLock(ctx, "job")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalUnlockUnknownName(t *testing.T) {
	assert.NoError(t, NewLocal().Unlock(context.Background(), "never-held"))
}

func TestLocalConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.TryLock(ctx, "job"); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestNewEtcdRequiresEndpoints(t *testing.T) {
	_, err := NewEtcd(EtcdConfig{})
	assert.Error(t, err)
}

func TestEtcdLockAgainstCluster(t *testing.T) {
	endpoints := os.Getenv("CAMPUSVOTE_TEST_ETCD")
	if endpoints == "" {
		t.Skip("CAMPUSVOTE_TEST_ETCD not set")
	}
	cfg := EtcdConfig{Endpoints: strings.Split(endpoints, ","), DialTimeout: 2 * time.Second, TTL: 5}

	a, err := NewEtcd(cfg)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewEtcd(cfg)
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	name := "test-" + time.Now().Format("150405.000000")
	ok, err := a.TryLock(ctx, name)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.TryLock(ctx, name)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Unlock(ctx, name))
	ok, err = b.TryLock(ctx, name)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Unlock(ctx, name))
}
