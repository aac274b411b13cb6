package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pkt.systems/rshell/schema"
)

func TestExecutorQueueDepthOne(t *testing.T) {
	e := NewExecutor(context.Background(), nil)
	defer e.Close()

	started := make(chan int, 3)
	frames := []chan struct{}{make(chan struct{}), make(chan struct{})}
	job := func(i int) Job {
		return func(context.Context) <-chan struct{} {
			started <- i
			return frames[i]
		}
	}
	if err := e.Submit(job(0)); err != nil {
		t.Fatalf("submit 0: %v", err)
	}
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatalf("first job did not start")
	}
	if err := e.Submit(job(1)); err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	if err := e.Submit(job(0)); !errors.Is(err, schema.ErrChannelBusy) {
		t.Fatalf("expected busy for a third command, got %v", err)
	}
	select {
	case i := <-started:
		t.Fatalf("job %d started before the first frame completed", i)
	case <-time.After(50 * time.Millisecond):
	}
	close(frames[0])
	select {
	case i := <-started:
		if i != 1 {
			t.Fatalf("expected queued job 1, got %d", i)
		}
	case <-time.After(time.Second):
		t.Fatalf("queued job did not start")
	}
	close(frames[1])
}

func TestExecutorRunsInOrder(t *testing.T) {
	e := NewExecutor(context.Background(), nil)
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		for {
			err := e.Submit(func(context.Context) <-chan struct{} {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				wg.Done()
				return nil
			})
			if err == nil {
				break
			}
			time.Sleep(time.Millisecond)
		}
	}
	wg.Wait()
	e.Close()
	for i, v := range order {
		if v != i {
			t.Fatalf("expected in-order execution, got %v", order)
		}
	}
	if err := e.Submit(func(context.Context) <-chan struct{} { return nil }); err == nil {
		t.Fatalf("expected submit after close to fail")
	}
}

func TestExecutorStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := NewExecutor(ctx, nil)
	blocked := make(chan struct{})
	if err := e.Submit(func(context.Context) <-chan struct{} { return blocked }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	cancel()
	finished := make(chan struct{})
	go func() {
		e.Close()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatalf("executor did not stop while waiting on an open frame")
	}
}

func TestExecutorStopDropsQueuedJob(t *testing.T) {
	e := NewExecutor(context.Background(), nil)
	running := make(chan struct{})
	frame := make(chan struct{})
	if err := e.Submit(func(context.Context) <-chan struct{} {
		close(running)
		return frame
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-running
	ran := make(chan struct{}, 1)
	if err := e.Submit(func(context.Context) <-chan struct{} {
		ran <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("submit queued: %v", err)
	}
	e.Stop()
	close(frame)
	e.Close()
	select {
	case <-ran:
		t.Fatalf("queued job started after stop")
	default:
	}
}
