package mail

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"scholars-backend/metrics"
	"scholars-backend/results"
)

// Dispatcher queues notifications and sends them from a fixed worker pool.
// Dispatch never blocks; a full queue drops the overflow.
type Dispatcher struct {
	sender   Sender
	renderer *Renderer
	logger   *zap.Logger
	workers  int

	mu     sync.Mutex
	closed bool
	queue  chan results.Notification
	group  *errgroup.Group
}

type DispatcherOption func(*Dispatcher)

func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan results.Notification, n)
		}
	}
}

func WithLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

func NewDispatcher(sender Sender, renderer *Renderer, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sender:   sender,
		renderer: renderer,
		logger:   zap.NewNop(),
		workers:  4,
		queue:    make(chan results.Notification, 1024),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("mail")
	return d
}

// Start launches the workers. They stop when ctx is done or after Close.
func (d *Dispatcher) Start(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			d.work(ctx)
			return nil
		})
	}
	d.mu.Lock()
	d.group = g
	d.mu.Unlock()
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-d.queue:
			if !ok {
				return
			}
			metrics.UpdateNotifyQueueDepth(len(d.queue))
			d.deliver(ctx, n)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n results.Notification) {
	msg, err := d.renderer.Render(n.To, n.Template, n.Payload)
	if err != nil {
		metrics.RecordNotification("failed")
		d.logger.Error("render notification", zap.String("template", n.Template), zap.Error(err))
		return
	}
	if err := d.sender.Send(ctx, msg); err != nil {
		metrics.RecordNotification("failed")
		d.logger.Warn("send notification", zap.String("to", n.To), zap.Error(err))
		return
	}
	metrics.RecordNotification("sent")
}

// Dispatch implements results.NotificationDispatcher.
func (d *Dispatcher) Dispatch(_ context.Context, notifications []results.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()

	dropped := 0
	for _, n := range notifications {
		if d.closed {
			dropped++
			continue
		}
		select {
		case d.queue <- n:
		default:
			dropped++
		}
	}
	metrics.UpdateNotifyQueueDepth(len(d.queue))
	if dropped > 0 {
		metrics.RecordAsyncDropped("notification", dropped)
		d.logger.Warn("notification queue full, dropped messages",
			zap.Int("dropped", dropped),
			zap.Int("queued", len(notifications)-dropped),
		)
	}
}

// Close stops accepting notifications, drains the queue and waits for the
// workers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	g := d.group
	d.mu.Unlock()

	if g == nil {
		return nil
	}
	return g.Wait()
}

var _ results.NotificationDispatcher = (*Dispatcher)(nil)
