package redis

import (
	"context"

	redigo "github.com/gomodule/redigo/redis"
)

// connManager adapts redigo's dial/close/ping primitives to the pool
// package's generic Manager[T] contract, so every redis connection this
// driver uses is bounded by the same pool that spec §4.5 describes.
type connManager struct {
	cfg Config
}

func (m *connManager) Connect(ctx context.Context) (redigo.Conn, error) {
	opts := []redigo.DialOption{
		redigo.DialConnectTimeout(m.cfg.MaxConnectionWaitTime),
		redigo.DialReadTimeout(m.cfg.MaxConnectionWaitTime),
		redigo.DialWriteTimeout(m.cfg.MaxConnectionWaitTime),
	}
	if m.cfg.Password != "" {
		opts = append(opts, redigo.DialPassword(m.cfg.Password))
	}
	return redigo.DialContext(ctx, "tcp", m.cfg.Addr, opts...)
}

func (m *connManager) IsValid(conn redigo.Conn) error {
	_, err := conn.Do("PING")
	return err
}

func (m *connManager) HasBroken(conn redigo.Conn) bool {
	return conn.Err() != nil
}

func (m *connManager) Close(conn redigo.Conn) {
	conn.Close()
}
