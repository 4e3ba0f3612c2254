package results

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appfoundry/publisher/pkg/task"
)

func TestMemStorePutGet(t *testing.T) {
	s := NewMemStore()

	res := task.Result{CommitSHA: "abc123", Task: "demo", Round: 1, Message: "ok"}
	s.Put("a@x.com:demo:n1", res)

	got, ok := s.Get("a@x.com:demo:n1")
	require.True(t, ok)
	assert.Equal(t, res, got)

	_, ok = s.Get("a@x.com:demo:n2")
	assert.False(t, ok)
}

func TestMemStoreOverwrite(t *testing.T) {
	s := NewMemStore()

	s.Put("a@x.com:demo:n1", task.Result{CommitSHA: "old"})
	s.Put("a@x.com:demo:n1", task.Result{CommitSHA: "new"})

	got, ok := s.Get("a@x.com:demo:n1")
	require.True(t, ok)
	assert.Equal(t, "new", got.CommitSHA)
	assert.Equal(t, 1, s.Len())
}

func TestMemStoreLatestUsesInsertionOrder(t *testing.T) {
	s := NewMemStore()

	s.Put("a@x.com:demo:n1", task.Result{CommitSHA: "first"})
	s.Put("a@x.com:other:n1", task.Result{CommitSHA: "unrelated"})
	s.Put("a@x.com:demo:n2", task.Result{CommitSHA: "second"})

	got, ok := s.Latest("a@x.com", "demo")
	require.True(t, ok)
	assert.Equal(t, "second", got.CommitSHA)

	_, ok = s.Latest("b@x.com", "demo")
	assert.False(t, ok)
}

func TestMemStoreConcurrentAccess(t *testing.T) {
	s := NewMemStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("a@x.com:demo:n%d", n)
			s.Put(key, task.Result{CommitSHA: key})
			if _, ok := s.Get(key); !ok {
				t.Errorf("missing %s right after put", key)
			}
			s.Latest("a@x.com", "demo")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, s.Len())
}

func TestCacheWithoutMirror(t *testing.T) {
	c := NewCache(nil)
	ctx := context.Background()

	rec := task.Record{Email: "a@x.com", Task: "demo", Round: 1, Nonce: "n1", CommitSHA: "abc"}
	c.Put(ctx, rec, task.Result{CommitSHA: "abc", Round: 1, Task: "demo"})

	got, ok := c.Get(ctx, "a@x.com", "demo", "n1")
	require.True(t, ok)
	assert.Equal(t, "abc", got.CommitSHA)

	got, ok = c.Get(ctx, "a@x.com", "demo", "")
	require.True(t, ok)
	assert.Equal(t, "abc", got.CommitSHA)

	_, ok = c.Get(ctx, "a@x.com", "demo", "missing")
	assert.False(t, ok)
}

func TestCacheFailedEntry(t *testing.T) {
	c := NewCache(nil)
	ctx := context.Background()

	c.PutFailed("a@x.com:demo:n1", task.Result{
		Status:  task.StatusFailed,
		Message: "generation failed",
		Task:    "demo",
		Round:   1,
	})

	got, ok := c.Get(ctx, "a@x.com", "demo", "n1")
	require.True(t, ok)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, "generation failed", got.Message)
	assert.Empty(t, got.CommitSHA)
}
