package fraud

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultBusQueueSize = 1000
	DefaultBusWorkers   = 4
)

// Handler consumes one message from a Bus.
type Handler[T any] func(ctx context.Context, msg T) error

type busMetrics struct {
	published prometheus.Counter
	dropped   prometheus.Counter
	delivered prometheus.Counter
	failed    prometheus.Counter
	queued    prometheus.Gauge
}

// Bus fans messages out to subscribed handlers. Publish delivers inline;
// PublishAsync hands the message to a fixed worker pool and drops it when the
// queue is full. A handler error or panic is logged and counted, and never
// reaches the publisher.
type Bus[T any] struct {
	name     string
	mu       sync.RWMutex
	handlers []Handler[T]
	metrics  *busMetrics
	logger   *slog.Logger

	queue   chan T
	wg      sync.WaitGroup
	stopMu  sync.RWMutex
	stopped bool
}

// NewBus starts a bus with its worker pool. reg may be nil to disable metrics.
func NewBus[T any](name string, reg prometheus.Registerer, logger *slog.Logger, queueSize, workers int) *Bus[T] {
	if queueSize <= 0 {
		queueSize = DefaultBusQueueSize
	}
	if workers <= 0 {
		workers = DefaultBusWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus[T]{
		name:   name,
		logger: logger.With("component", "fraud.bus", "bus", name),
		queue:  make(chan T, queueSize),
	}
	if reg != nil {
		b.initMetrics(reg)
	}
	for range workers {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bus[T]) initMetrics(reg prometheus.Registerer) {
	f := promauto.With(reg)
	labels := prometheus.Labels{"bus": b.name}
	b.metrics = &busMetrics{
		published: f.NewCounter(prometheus.CounterOpts{
			Name: "lightmint_bus_published_total", Help: "messages published", ConstLabels: labels,
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "lightmint_bus_dropped_total", Help: "async messages dropped on a full queue", ConstLabels: labels,
		}),
		delivered: f.NewCounter(prometheus.CounterOpts{
			Name: "lightmint_bus_delivered_total", Help: "successful handler deliveries", ConstLabels: labels,
		}),
		failed: f.NewCounter(prometheus.CounterOpts{
			Name: "lightmint_bus_failed_total", Help: "handler errors and panics", ConstLabels: labels,
		}),
		queued: f.NewGauge(prometheus.GaugeOpts{
			Name: "lightmint_bus_queue_depth", Help: "messages waiting for a worker", ConstLabels: labels,
		}),
	}
}

func (b *Bus[T]) worker() {
	defer b.wg.Done()
	for msg := range b.queue {
		if b.metrics != nil {
			b.metrics.queued.Dec()
		}
		b.Publish(context.Background(), msg)
	}
}

// Subscribe registers h for every subsequent message.
func (b *Bus[T]) Subscribe(h Handler[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers msg to every handler in subscription order.
func (b *Bus[T]) Publish(ctx context.Context, msg T) {
	b.mu.RLock()
	handlers := append([]Handler[T](nil), b.handlers...)
	b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.published.Inc()
	}
	for _, h := range handlers {
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("handler panic: %v", r)
				}
			}()
			return h(ctx, msg)
		}()
		if err != nil {
			b.logger.Warn("bus handler failed", "error", err)
			if b.metrics != nil {
				b.metrics.failed.Inc()
			}
			continue
		}
		if b.metrics != nil {
			b.metrics.delivered.Inc()
		}
	}
}

// PublishAsync enqueues msg. It returns false when the bus is stopped or the
// queue is full.
func (b *Bus[T]) PublishAsync(msg T) bool {
	b.stopMu.RLock()
	defer b.stopMu.RUnlock()
	if b.stopped {
		return false
	}
	select {
	case b.queue <- msg:
		if b.metrics != nil {
			b.metrics.queued.Inc()
		}
		return true
	default:
		b.logger.Warn("bus queue full, dropping message")
		if b.metrics != nil {
			b.metrics.dropped.Inc()
		}
		return false
	}
}

// Stop refuses new async messages, drains the queue and waits for the
// workers to exit. It is safe to call more than once.
func (b *Bus[T]) Stop() {
	b.stopMu.Lock()
	if b.stopped {
		b.stopMu.Unlock()
		return
	}
	b.stopped = true
	close(b.queue)
	b.stopMu.Unlock()
	b.wg.Wait()
}
