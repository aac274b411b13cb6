package core

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/rshell/schema"
)

// Job runs one command. It returns a channel that is closed when the
// command's frame completes; the executor does not start the next job
// before that.
type Job func(ctx context.Context) <-chan struct{}

// Executor is a single worker with a queue of depth one, owned by one
// connection. Reads keep flowing while a command runs.
type Executor struct {
	queue  chan Job
	ctx    context.Context
	cancel context.CancelFunc
	logger pslog.Logger
	wg     sync.WaitGroup
	once   sync.Once
}

// NewExecutor starts the worker. It stops when ctx is done or Close is
// called.
func NewExecutor(ctx context.Context, logger pslog.Logger) *Executor {
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	ctx, cancel := context.WithCancel(ctx)
	e := &Executor{
		queue:  make(chan Job, 1),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	e.wg.Add(1)
	go e.run()
	return e
}

// Submit queues job. It fails with ErrChannelBusy when a command is already
// waiting behind the running one.
func (e *Executor) Submit(job Job) error {
	if e.ctx.Err() != nil {
		return e.ctx.Err()
	}
	select {
	case e.queue <- job:
		return nil
	default:
		return schema.ErrChannelBusy
	}
}

// Stop cancels the worker's context without waiting.
func (e *Executor) Stop() {
	e.once.Do(e.cancel)
}

// Close stops the worker and waits for it. A job blocked in a command body
// is not preempted; Close returns once the body returns.
func (e *Executor) Close() {
	e.Stop()
	e.wg.Wait()
}

func (e *Executor) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			e.drain()
			return
		case job := <-e.queue:
			if e.ctx.Err() != nil {
				e.drain()
				return
			}
			done := job(e.ctx)
			if done == nil {
				continue
			}
			select {
			case <-done:
			case <-e.ctx.Done():
				e.logger.Debug("executor stopped with frame open")
				e.drain()
				return
			}
		}
	}
}

// drain drops a job still waiting once the worker stopped.
func (e *Executor) drain() {
	select {
	case <-e.queue:
		e.logger.Debug("executor dropped queued command")
	default:
	}
}
