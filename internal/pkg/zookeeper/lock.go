// internal/pkg/zookeeper/lock.go
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-zookeeper/zk"
)

const lockRoot = "/circuitbay/locks" // 所有分布式锁的根节点

// ResourceLock 是基于临时顺序节点的分布式锁。
// 库存台账用它来串行化同一个元器件上的预占操作。
type ResourceLock struct {
	conn     *Conn
	path     string // 锁的路径，例如 /circuitbay/locks/component-123
	lockNode string // 成功获取锁后，自己创建的节点路径
}

// NewResourceLock 为某个资源 ID 创建一把锁，并确保锁路径存在。
func NewResourceLock(conn *Conn, resourceID string) (*ResourceLock, error) {
	// 逐级创建父路径，节点已存在不算错误
	parts := strings.Split(strings.TrimPrefix(lockRoot, "/"), "/")
	path := ""
	for _, p := range parts {
		path += "/" + p
		if _, err := conn.Create(path, []byte(""), 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
			return nil, fmt.Errorf("failed to create lock root %s: %w", path, err)
		}
	}

	lockPath := lockRoot + "/" + resourceID
	if _, err := conn.Create(lockPath, []byte(""), 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
		return nil, fmt.Errorf("failed to create lock path %s: %w", lockPath, err)
	}

	return &ResourceLock{conn: conn, path: lockPath}, nil
}

// Lock 尝试获取锁，拿不到时阻塞等待，直到 ctx 被取消。
func (l *ResourceLock) Lock(ctx context.Context) error {
	// 1. 在锁路径下创建一个临时顺序节点
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath

	for {
		// 2. 获取锁路径下的所有子节点并排序
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			return fmt.Errorf("failed to get children nodes: %w", err)
		}
		sort.Strings(children)

		// 3. 自己是最小节点则获得锁
		myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")
		if myNodeName == children[0] {
			return nil
		}

		// 4. 否则监听排在自己前面的那个节点
		prevNodeIndex := -1
		for i, child := range children {
			if child == myNodeName {
				prevNodeIndex = i - 1
				break
			}
		}
		if prevNodeIndex < 0 {
			return errors.New("cannot find previous node, something is wrong")
		}
		prevNodePath := l.path + "/" + children[prevNodeIndex]

		_, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			// 前一个节点在检查时刚好被删除，重新竞争
			if err == zk.ErrNoNode {
				continue
			}
			return fmt.Errorf("failed to watch previous node: %w", err)
		}

		select {
		case event := <-eventChan:
			if event.Type == zk.EventNodeDeleted {
				continue
			}
		case <-ctx.Done():
			// 放弃排队，清掉自己的节点
			_ = l.conn.Delete(l.lockNode, -1)
			l.lockNode = ""
			return ctx.Err()
		}
	}
}

// Unlock 释放锁。
func (l *ResourceLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	l.lockNode = ""
	return nil
}
