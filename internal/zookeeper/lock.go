// internal/zookeeper/lock.go
package zookeeper

import (
	"context"
	"sort"
	"strings"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
)

const (
	lockRoot = "/distributed_locks" // 所有分布式锁的根节点
)

var ErrNotLocked = errors.New("no lock to unlock")

// nodeStore 是锁用到的 ZooKeeper 操作，*Conn 直接满足。
type nodeStore interface {
	Exists(path string) (bool, *zk.Stat, error)
	ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	CreateProtectedEphemeralSequential(path string, data []byte, acl []zk.ACL) (string, error)
	Children(path string) ([]string, *zk.Stat, error)
	Delete(path string, version int32) error
}

// DistributedLock 定义了一个分布式锁对象
type DistributedLock struct {
	conn     nodeStore // ZooKeeper连接
	path     string // 锁的路径，例如 /distributed_locks/order-123
	lockNode string // 成功获取锁后，自己创建的节点路径
}

// NewDistributedLock 创建一个新的分布式锁实例，必要时创建父节点。
func NewDistributedLock(conn *Conn, resourceID string) (*DistributedLock, error) {
	return newDistributedLock(conn, resourceID)
}

func newDistributedLock(conn nodeStore, resourceID string) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + resourceID
	for _, p := range []string{lockRoot, lockPath} {
		if err := ensureNode(conn, p); err != nil {
			return nil, err
		}
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

func ensureNode(conn nodeStore, path string) error {
	exists, _, err := conn.Exists(path)
	if err != nil {
		return errors.Wrapf(err, "check node %s", path)
	}
	if exists {
		return nil
	}
	_, err = conn.Create(path, []byte(""), 0, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return errors.Wrapf(err, "create node %s", path)
	}
	return nil
}

// Lock 尝试获取锁，获取不到则阻塞等待，直到 ctx 结束。
func (l *DistributedLock) Lock(ctx context.Context) error {
	// 1. 在锁路径下创建一个临时顺序节点
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if errors.Is(err, zk.ErrNoNode) {
		// 资源节点刚被上一个持有者清理掉，重建后再试一次
		if err = ensureNode(l.conn, l.path); err == nil {
			nodePath, err = l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
		}
	}
	if err != nil {
		return errors.Wrap(err, "failed to create sequential node")
	}
	l.lockNode = nodePath
	myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")

	for {
		// 2. 获取锁路径下的所有子节点，按序号排序
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			l.abandon()
			return errors.Wrap(err, "failed to get children nodes")
		}
		sort.Slice(children, func(i, j int) bool { return sequence(children[i]) < sequence(children[j]) })

		// 3. 判断自己是否是最小的节点
		idx := -1
		for i, child := range children {
			if child == myNodeName {
				idx = i
				break
			}
		}
		switch {
		case idx == 0:
			return nil
		case idx < 0:
			l.lockNode = ""
			return errors.New("lock node vanished, session probably expired")
		}

		// 4. 不是最小节点，监听前一个节点
		prevNodePath := l.path + "/" + children[idx-1]
		exists, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			l.abandon()
			return errors.Wrap(err, "failed to watch previous node")
		}
		if !exists {
			continue
		}

		select {
		case <-eventChan:
		case <-ctx.Done():
			l.abandon()
			return errors.Wrap(ctx.Err(), "waiting for lock")
		}
	}
}

// Unlock 释放锁
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return ErrNotLocked
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return errors.Wrap(err, "failed to delete lock node")
	}
	l.lockNode = ""
	return l.removeResourceNode()
}

func (l *DistributedLock) abandon() {
	if l.lockNode != "" {
		_ = l.conn.Delete(l.lockNode, -1)
		l.lockNode = ""
		_ = l.removeResourceNode()
	}
}

// removeResourceNode 在没有等待者时删除资源节点，还有子节点时保留。
func (l *DistributedLock) removeResourceNode() error {
	err := l.conn.Delete(l.path, -1)
	if err != nil && !errors.Is(err, zk.ErrNotEmpty) && !errors.Is(err, zk.ErrNoNode) {
		return errors.Wrapf(err, "failed to delete lock path %s", l.path)
	}
	return nil
}

// sequence 取出节点名末尾的 10 位序号；protected 节点带有 GUID 前缀，不能直接按字符串排序。
func sequence(node string) string {
	if len(node) < 10 {
		return node
	}
	return node[len(node)-10:]
}
