// internal/service/order/infrastructure/adapter/lock_zk_adapter.go
package adapter

import (
	"context"
	"time"

	"fulfillment/internal/zookeeper"
)

// ZookeeperLocker 基于 ZooKeeper 临时顺序节点的分布式锁，适用于多实例部署。
type ZookeeperLocker struct {
	conn    *zookeeper.Conn
	timeout time.Duration
}

func NewZookeeperLocker(conn *zookeeper.Conn, timeout time.Duration) *ZookeeperLocker {
	return &ZookeeperLocker{conn: conn, timeout: timeout}
}

// Lock 最多等待 timeout，防止死等。
func (l *ZookeeperLocker) Lock(ctx context.Context, key string) (func() error, error) {
	lock, err := zookeeper.NewDistributedLock(l.conn, key)
	if err != nil {
		return nil, err
	}
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	if err := lock.Lock(ctx); err != nil {
		return nil, err
	}
	return lock.Unlock, nil
}
