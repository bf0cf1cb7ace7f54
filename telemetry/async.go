package telemetry

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	viamutils "go.viam.com/utils"

	"mecanum/drivetrain"
)

// DefaultQueueSize is the number of records an Async sink buffers.
const DefaultQueueSize = 64

var errAsyncClosed = errors.New("telemetry sink closed")

// Async hands records to a wrapped sink from a background worker. Report
// never blocks: when the queue is full the record is dropped.
type Async struct {
	sink   drivetrain.TelemetrySink
	logger logging.Logger
	queue  chan drivetrain.Progress

	dropped  atomic.Int64
	dropping atomic.Bool

	cancelCtx               context.Context
	cancel                  func()
	closeOnce               sync.Once
	activeBackgroundWorkers sync.WaitGroup
}

// NewAsync starts a worker delivering to sink. A queueSize below one uses
// DefaultQueueSize.
func NewAsync(sink drivetrain.TelemetrySink, queueSize int, logger logging.Logger) *Async {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	cancelCtx, cancel := context.WithCancel(context.Background())
	a := &Async{
		sink:      sink,
		logger:    logger,
		queue:     make(chan drivetrain.Progress, queueSize),
		cancelCtx: cancelCtx,
		cancel:    cancel,
	}
	a.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(a.deliver, a.activeBackgroundWorkers.Done)
	return a
}

func (a *Async) deliver() {
	for {
		select {
		case <-a.cancelCtx.Done():
			return
		case p := <-a.queue:
			if err := a.sink.Report(p); err != nil {
				a.logger.Debugw("telemetry delivery failed", "error", err)
			}
		}
	}
}

// Report queues p.
func (a *Async) Report(p drivetrain.Progress) error {
	if a.cancelCtx.Err() != nil {
		return errAsyncClosed
	}
	select {
	case a.queue <- p:
		a.dropping.Store(false)
	default:
		a.dropped.Add(1)
		if !a.dropping.Swap(true) {
			a.logger.Warnw("telemetry sink is behind, dropping records", "queue", cap(a.queue))
		}
	}
	return nil
}

// Dropped is the number of records discarded because the queue was full.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops the worker, then closes the wrapped sink if it is an io.Closer.
// Records still queued are discarded.
func (a *Async) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.cancel()
		a.activeBackgroundWorkers.Wait()
		if c, ok := a.sink.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}
