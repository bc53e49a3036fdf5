package h2conn

import (
	"net"
	"sync"
)

import (
	"go.uber.org/atomic"
)

// ConnectionRegistry maps transport conns to their logical connection. It is shared by every
// handler of a server or client and must be safe for concurrent use.
type ConnectionRegistry interface {
	Load(conn net.Conn) (Connection, bool)
	Store(conn net.Conn, c Connection)
	Delete(conn net.Conn)
}

// ConnectionMap is the sync.Map backed ConnectionRegistry
type ConnectionMap struct {
	m    sync.Map
	size atomic.Int32
}

func NewConnectionMap() *ConnectionMap {
	return &ConnectionMap{}
}

func (cm *ConnectionMap) Load(conn net.Conn) (Connection, bool) {
	v, ok := cm.m.Load(conn)
	if !ok {
		return nil, false
	}
	return v.(Connection), true
}

func (cm *ConnectionMap) Store(conn net.Conn, c Connection) {
	if _, loaded := cm.m.LoadOrStore(conn, c); loaded {
		cm.m.Store(conn, c)
		return
	}
	cm.size.Inc()
}

func (cm *ConnectionMap) Delete(conn net.Conn) {
	if _, loaded := cm.m.LoadAndDelete(conn); loaded {
		cm.size.Dec()
	}
}

func (cm *ConnectionMap) Len() int {
	return int(cm.size.Load())
}

func (cm *ConnectionMap) Range(f func(conn net.Conn, c Connection) bool) {
	cm.m.Range(func(k, v interface{}) bool {
		return f(k.(net.Conn), v.(Connection))
	})
}
