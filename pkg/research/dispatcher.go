package research

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

// ProgressCallback receives a snapshot after every state transition.
type ProgressCallback func(models.ProgressSnapshot)

// dispatcher delivers snapshots for one execution to its callbacks in the
// order they were published. publish never blocks the executor.
type dispatcher struct {
	callbacks []ProgressCallback
	logger    *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []models.ProgressSnapshot
	closed bool
	done   chan struct{}
}

func newDispatcher(callbacks []ProgressCallback, logger *zap.Logger) *dispatcher {
	d := &dispatcher{
		callbacks: callbacks,
		logger:    logger,
		done:      make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *dispatcher) publish(s models.ProgressSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, s)
	d.cond.Signal()
}

// close stops accepting snapshots and waits for the queue to drain.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	<-d.done
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		s := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		for _, cb := range d.callbacks {
			d.deliver(cb, s)
		}
	}
}

func (d *dispatcher) deliver(cb ProgressCallback, s models.ProgressSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Progress callback panicked",
				zap.String("execution_id", s.ExecutionID),
				zap.Any("panic", r))
		}
	}()
	cb(s)
}
