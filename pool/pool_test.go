package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeConn struct{ id int32 }

type fakeManager struct {
	created int32
	closed  int32
	broken  int32
}

func (m *fakeManager) Connect(ctx context.Context) (*fakeConn, error) {
	id := atomic.AddInt32(&m.created, 1)
	return &fakeConn{id: id}, nil
}

func (m *fakeManager) IsValid(conn *fakeConn) error { return nil }

func (m *fakeManager) HasBroken(conn *fakeConn) bool { return atomic.LoadInt32(&m.broken) != 0 }

func (m *fakeManager) Close(conn *fakeConn) { atomic.AddInt32(&m.closed, 1) }

func TestGetPutReuse(t *testing.T) {
	m := &fakeManager{}
	p := New[*fakeConn](Config{MaxSize: 2, ConnectionTimeout: time.Second}, m)
	defer func() { <-p.Stop() }()

	c1, err := p.Get(context.Background())
	require.NoError(t, err)
	c1.Release()

	c2, err := p.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, c1.Conn(), c2.Conn())
	c2.Release()

	require.EqualValues(t, 1, atomic.LoadInt32(&m.created))
}

func TestGetAtCapacityTimesOut(t *testing.T) {
	m := &fakeManager{}
	p := New[*fakeConn](Config{MaxSize: 1, ConnectionTimeout: 50 * time.Millisecond}, m)
	defer func() { <-p.Stop() }()

	c1, err := p.Get(context.Background())
	require.NoError(t, err)

	_, err = p.Get(context.Background())
	require.ErrorIs(t, err, ErrTimeout)

	c1.Release()
}

func TestReleaseDiscardsBroken(t *testing.T) {
	m := &fakeManager{}
	p := New[*fakeConn](Config{MaxSize: 1, ConnectionTimeout: time.Second}, m)
	defer func() { <-p.Stop() }()

	c1, err := p.Get(context.Background())
	require.NoError(t, err)
	atomic.StoreInt32(&m.broken, 1)
	c1.Release()

	atomic.StoreInt32(&m.broken, 0)
	c2, err := p.Get(context.Background())
	require.NoError(t, err)
	c2.Release()

	require.EqualValues(t, 2, atomic.LoadInt32(&m.created))
	require.EqualValues(t, 1, atomic.LoadInt32(&m.closed))
}
