package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"

	"campusvote.org/internal/obs"
)

const (
	defaultTTL    = 10 // seconds
	keyPrefix     = "/campusvote/locks/"
	defaultDialTO = 5 * time.Second
)

// EtcdConfig describes the etcd cluster holding the locks.
type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
	TTL         int64
}

// Etcd holds leased keys in etcd. A key is created only when absent, and the
// lease is kept alive until Unlock or Close. If the process dies the lease
// expires and another instance may take over.
type Etcd struct {
	client *clientv3.Client
	ttl    int64

	mu    sync.Mutex
	locks map[string]*lease
}

type lease struct {
	id     clientv3.LeaseID
	key    string
	cancel context.CancelFunc
}

func NewEtcd(cfg EtcdConfig) (*Etcd, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd: no endpoints configured")
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTO
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd client: %w", err)
	}
	return newEtcd(cli, cfg.TTL), nil
}

func newEtcd(cli *clientv3.Client, ttl int64) *Etcd {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Etcd{client: cli, ttl: ttl, locks: make(map[string]*lease)}
}

func lockKey(name string) string { return keyPrefix + name }

// TryLock returns false without error when another holder owns name.
func (e *Etcd) TryLock(ctx context.Context, name string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.locks[name]; ok {
		return false, nil
	}

	key := lockKey(name)
	grant, err := e.client.Grant(ctx, e.ttl)
	if err != nil {
		return false, fmt.Errorf("etcd grant: %w", err)
	}

	resp, err := e.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, "", clientv3.WithLease(grant.ID))).
		Commit()
	if err != nil {
		e.revoke(grant.ID)
		return false, fmt.Errorf("etcd txn: %w", err)
	}
	if !resp.Succeeded {
		e.revoke(grant.ID)
		return false, nil
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	go e.keepAlive(kaCtx, grant.ID)
	e.locks[name] = &lease{id: grant.ID, key: key, cancel: cancel}
	return true, nil
}

func (e *Etcd) Unlock(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.release(ctx, name)
}

// Close releases every held lock and closes the client.
func (e *Etcd) Close() error {
	e.mu.Lock()
	for name := range e.locks {
		if err := e.release(context.Background(), name); err != nil {
			obs.Logger().WithError(err).WithField("lock", name).Warn("release lock on close")
		}
	}
	e.mu.Unlock()
	return e.client.Close()
}

func (e *Etcd) keepAlive(ctx context.Context, id clientv3.LeaseID) {
	ticker := time.NewTicker(time.Duration(e.ttl) * time.Second / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.client.KeepAliveOnce(ctx, id); err != nil {
				if !errors.Is(err, context.Canceled) {
					obs.Logger().WithError(err).Warn("etcd lease keepalive stopped")
				}
				return
			}
		}
	}
}

func (e *Etcd) release(ctx context.Context, name string) error {
	l, ok := e.locks[name]
	if !ok {
		return nil
	}
	l.cancel()
	delete(e.locks, name)

	if _, err := e.client.Delete(ctx, l.key); err != nil {
		return fmt.Errorf("etcd delete %s: %w", l.key, err)
	}
	if _, err := e.client.Revoke(ctx, l.id); err != nil && !errors.Is(err, rpctypes.ErrLeaseNotFound) {
		return fmt.Errorf("etcd revoke: %w", err)
	}
	return nil
}

func (e *Etcd) revoke(id clientv3.LeaseID) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = e.client.Revoke(ctx, id)
}
