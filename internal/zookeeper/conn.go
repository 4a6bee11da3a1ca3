// internal/zookeeper/conn.go
package zookeeper

import (
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Conn 是对 zk.Conn 的薄封装，统一连接参数和日志。
type Conn struct {
	*zk.Conn
}

// Connect 连接 ZooKeeper 集群，sessionTimeout 决定临时节点在断连后多久被清理。
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	if len(servers) == 0 {
		return nil, errors.New("zookeeper: no servers configured")
	}
	c, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, errors.Wrap(err, "zookeeper connect")
	}
	go func() {
		for ev := range events {
			if ev.State == zk.StateExpired || ev.State == zk.StateDisconnected {
				log.Warn().Str("state", ev.State.String()).Msg("zookeeper session state changed")
			}
		}
	}()
	return &Conn{Conn: c}, nil
}
