package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopFIFO(t *testing.T) {
	q := New[int]()
	for i := 0; i < 100; i++ {
		require.True(t, q.Push(Item[int]{Object: i, Size: 1}))
	}
	assert.Equal(t, 100, q.Len())
	assert.Equal(t, uint64(100), q.Bytes())

	for i := 0; i < 100; i++ {
		item, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, item.Object)
	}
	assert.Zero(t, q.Len())
	assert.Zero(t, q.Bytes())
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New[string]()
	got := make(chan string, 1)
	go func() {
		item, ok := q.Pop()
		if ok {
			got <- item.Object
		}
	}()

	select {
	case <-got:
		t.Fatal("Pop returned on an empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	require.True(t, q.Push(Item[string]{Object: "frame"}))
	select {
	case v := <-got:
		assert.Equal(t, "frame", v)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake on Push")
	}
}

func TestSetFlushingWakesWaiters(t *testing.T) {
	q := New[int]()
	const waiters = 4

	var wg sync.WaitGroup
	results := make(chan bool, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := q.Pop()
			results <- ok
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.SetFlushing()
	q.SetFlushing()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiters not released by SetFlushing")
	}
	close(results)
	for ok := range results {
		assert.False(t, ok)
	}

	assert.True(t, q.Flushing())
	assert.False(t, q.Push(Item[int]{Object: 1}))
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestDrainAfterFlushing(t *testing.T) {
	q := New[int]()
	q.Push(Item[int]{Object: 1, Size: 4})
	q.Push(Item[int]{Object: 2, Size: 4})
	q.SetFlushing()

	_, ok := q.Pop()
	assert.False(t, ok)

	left := q.Drain()
	require.Len(t, left, 2)
	assert.Equal(t, 1, left[0].Object)
	assert.Equal(t, 2, left[1].Object)
	assert.Empty(t, q.Drain())
	assert.Zero(t, q.Bytes())
}

func TestWithLimits(t *testing.T) {
	q := New(WithLimits[int](2, 0))
	assert.True(t, q.Push(Item[int]{Object: 1}))
	assert.True(t, q.Push(Item[int]{Object: 2}))
	assert.False(t, q.Push(Item[int]{Object: 3}))

	q.Pop()
	assert.True(t, q.Push(Item[int]{Object: 3}))

	qb := New(WithLimits[int](0, 10))
	assert.True(t, qb.Push(Item[int]{Object: 1, Size: 8}))
	assert.True(t, qb.Push(Item[int]{Object: 2, Size: 8}))
	assert.False(t, qb.Push(Item[int]{Object: 3, Size: 1}))
}

func TestWithCheckFull(t *testing.T) {
	calls := 0
	q := New(WithCheckFull[int](func(visible int, bytes uint64) bool {
		calls++
		return visible >= 1
	}))
	assert.True(t, q.Push(Item[int]{Object: 1}))
	assert.False(t, q.Push(Item[int]{Object: 2}))
	assert.Equal(t, 2, calls)
}

func TestConcurrentProducers(t *testing.T) {
	q := New[int]()
	const producers, perProducer = 8, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(Item[int]{Object: p*perProducer + i, Size: 1})
			}
		}(p)
	}

	seen := make(map[int]bool)
	lastPerProducer := make(map[int]int)
	for len(seen) < producers*perProducer {
		item, ok := q.Pop()
		require.True(t, ok)
		p := item.Object / perProducer
		if last, found := lastPerProducer[p]; found {
			require.Greater(t, item.Object, last, "per-producer order broken")
		}
		lastPerProducer[p] = item.Object
		seen[item.Object] = true
	}
	wg.Wait()
	assert.Zero(t, q.Len())
}
