package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	calls int32
	value int
	ok    bool
}

func (f *fakeLoader) Load(ctx context.Context, key string) (int, bool) {
	atomic.AddInt32(&f.calls, 1)
	return f.value, f.ok
}

func (f *fakeLoader) LoadAll(ctx context.Context, keys []string) map[string]int {
	out := make(map[string]int, len(keys))
	for _, k := range keys {
		atomic.AddInt32(&f.calls, 1)
		if f.ok {
			out[k] = f.value
		}
	}
	return out
}

func TestGetLoadsOnMiss(t *testing.T) {
	l := &fakeLoader{value: 42, ok: true}
	c := New[string, int](l, time.Minute, RefreshAfterAccess)

	v, ok := c.Get(context.Background(), "a")
	require.True(t, ok)
	require.Equal(t, 42, v)
	require.EqualValues(t, 1, atomic.LoadInt32(&l.calls))

	v, ok = c.Get(context.Background(), "a")
	require.True(t, ok)
	require.Equal(t, 42, v)
	require.EqualValues(t, 1, atomic.LoadInt32(&l.calls))
}

func TestFailedLoadNotCachedLongTerm(t *testing.T) {
	l := &fakeLoader{ok: false}
	c := New[string, int](l, time.Minute, RefreshAfterAccess)

	_, ok := c.Get(context.Background(), "a")
	require.False(t, ok)

	_, ok = c.Get(context.Background(), "a")
	require.False(t, ok)
	require.EqualValues(t, 2, atomic.LoadInt32(&l.calls))
}

func TestRefreshBeforeAccessBlocksForFreshValue(t *testing.T) {
	l := &fakeLoader{value: 7, ok: true}
	c := New[string, int](l, -time.Second, RefreshBeforeAccess)

	v, ok := c.Get(context.Background(), "a")
	require.True(t, ok)
	require.Equal(t, 7, v)

	l.value = 8
	v, ok = c.Get(context.Background(), "a")
	require.True(t, ok)
	require.Equal(t, 8, v)
}

func TestGetAllBatchesMisses(t *testing.T) {
	l := &fakeLoader{value: 1, ok: true}
	c := New[string, int](l, time.Minute, RefreshAfterAccess)

	out := c.GetAll(context.Background(), []string{"a", "b", "c"})
	require.Len(t, out, 3)
	require.EqualValues(t, 3, atomic.LoadInt32(&l.calls))
}
