package workpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSubmitRunsTask(t *testing.T) {
	p := New(2)
	defer p.Stop()

	var ran int32
	done := make(chan struct{})
	ok := p.Submit(func(ctx context.Context) {
		atomic.StoreInt32(&ran, 1)
		close(done)
	})
	if !ok {
		t.Fatal("Submit returned false on a live pool")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run in time")
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatal("task body did not execute")
	}
}

func TestSubmitBoundsConcurrency(t *testing.T) {
	p := New(1)
	defer p.Stop()

	var concurrent int32
	var maxConcurrent int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Submit(func(ctx context.Context) {
				n := atomic.AddInt32(&concurrent, 1)
				for {
					m := atomic.LoadInt32(&maxConcurrent)
					if n <= m || atomic.CompareAndSwapInt32(&maxConcurrent, m, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&concurrent, -1)
			})
		}()
	}
	wg.Wait()
	if atomic.LoadInt32(&maxConcurrent) != 1 {
		t.Fatalf("max concurrent tasks = %d, want 1 for a size-1 pool", maxConcurrent)
	}
}

func TestStopRejectsFurtherSubmits(t *testing.T) {
	p := New(1)
	p.Stop()
	if p.Submit(func(ctx context.Context) {}) {
		t.Fatal("Submit returned true after Stop")
	}
}

func TestPanickingTaskDoesNotKillWorker(t *testing.T) {
	p := New(1)
	defer p.Stop()

	p.Submit(func(ctx context.Context) { panic("boom") })

	done := make(chan struct{})
	p.Submit(func(ctx context.Context) { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not recover from a panicking task")
	}
}
