package writer

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"trade-ledger/pkg/events"
	"trade-ledger/pkg/logging"
	"trade-ledger/pkg/metrics"

	"go.uber.org/zap"
)

// AsyncWriter hands events to a Publisher off the request path, using a
// bounded queue per worker. Messages are sharded by key, so messages that
// share a key are published in the order they were written.
type AsyncWriter struct {
	publisher  events.Publisher
	shards     []chan events.Message
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	closeOnce  sync.Once

	// mu orders enqueues against Close: writers hold it shared while
	// sending, Close takes it exclusively before stopping the workers.
	mu     sync.RWMutex
	closed bool

	config     AsyncWriterConfig
	metrics    metrics.Collector
	logger     *logging.Logger
	queueName  string

	droppedWrites int64
	totalWrites   int64
	failedWrites  int64
	processed     int64

	metricsTicker *time.Ticker
	metricsStop   chan struct{}
}

// AsyncWriterConfig configures the async writer behavior.
type AsyncWriterConfig struct {
	// Name labels metrics and logs (default: publisher name)
	Name string

	// QueueSize is the total bounded queue size across workers (default: 1000)
	QueueSize int

	// Workers is the number of concurrent workers (default: 2)
	Workers int

	// MaxWaitTime is how long Write blocks on a full queue before dropping.
	// Zero uses the default of 10ms; negative drops immediately.
	MaxWaitTime time.Duration

	// PublishTimeout bounds each Publish call (default: 5s)
	PublishTimeout time.Duration
}

// NewAsyncWriter creates a writer with no metrics. It must be closed with Close.
func NewAsyncWriter(publisher events.Publisher, config AsyncWriterConfig) *AsyncWriter {
	return NewAsyncWriterWithMetrics(publisher, config, metrics.NoOpCollector{})
}

// NewAsyncWriterWithMetrics creates a writer reporting to collector.
func NewAsyncWriterWithMetrics(publisher events.Publisher, config AsyncWriterConfig, collector metrics.Collector) *AsyncWriter {
	if config.Name == "" {
		config.Name = publisher.Name()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = 10 * time.Millisecond
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 5 * time.Second
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}

	perShard := config.QueueSize / config.Workers
	if perShard < 1 {
		perShard = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &AsyncWriter{
		publisher:     publisher,
		shards:        make([]chan events.Message, config.Workers),
		ctx:           ctx,
		cancelFunc:    cancel,
		config:        config,
		metrics:       collector,
		logger:        logging.L().Named("writer").With(zap.String("queue", config.Name)),
		queueName:     config.Name,
		metricsTicker: time.NewTicker(5 * time.Second),
		metricsStop:   make(chan struct{}),
	}

	for i := range w.shards {
		w.shards[i] = make(chan events.Message, perShard)
		w.wg.Add(1)
		go w.worker(w.shards[i])
	}

	go w.reportMetrics()

	return w
}

func (w *AsyncWriter) shardFor(key string) chan events.Message {
	if len(w.shards) == 1 {
		return w.shards[0]
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return w.shards[h.Sum32()%uint32(len(w.shards))]
}

// Write enqueues msg. If its shard is full it waits up to MaxWaitTime and
// then drops the message with ErrQueueFull.
func (w *AsyncWriter) Write(ctx context.Context, msg events.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}

	shard := w.shardFor(msg.Key)

	// Fast path
	select {
	case shard <- msg:
		atomic.AddInt64(&w.totalWrites, 1)
		return nil
	default:
	}

	if w.config.MaxWaitTime < 0 {
		w.drop(msg)
		return ErrQueueFull
	}

	timer := time.NewTimer(w.config.MaxWaitTime)
	defer timer.Stop()

	select {
	case shard <- msg:
		atomic.AddInt64(&w.totalWrites, 1)
		return nil
	case <-timer.C:
		w.drop(msg)
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *AsyncWriter) drop(msg events.Message) {
	atomic.AddInt64(&w.droppedWrites, 1)
	w.metrics.RecordEventDropped(w.queueName)
	w.logger.Warn("event dropped, queue full", zap.String("key", msg.Key))
}

func (w *AsyncWriter) worker(queue chan events.Message) {
	defer w.wg.Done()

	for {
		select {
		case msg := <-queue:
			w.publish(msg)
		case <-w.ctx.Done():
			// Drain what was accepted before Close.
			for {
				select {
				case msg := <-queue:
					w.publish(msg)
				default:
					return
				}
			}
		}
	}
}

func (w *AsyncWriter) publish(msg events.Message) {
	defer atomic.AddInt64(&w.processed, 1)

	ctx, cancel := context.WithTimeout(context.Background(), w.config.PublishTimeout)
	defer cancel()

	start := time.Now()
	err := w.publisher.Publish(ctx, msg)
	duration := time.Since(start)

	w.metrics.RecordEventPublished(w.queueName, err == nil, duration)

	if err != nil {
		atomic.AddInt64(&w.failedWrites, 1)
		w.logger.Error("event publish failed",
			zap.String("key", msg.Key),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	}
}

// pending counts accepted messages whose publish has not finished.
func (w *AsyncWriter) pending() int {
	n := atomic.LoadInt64(&w.totalWrites) - atomic.LoadInt64(&w.processed)
	if n < 0 {
		return 0
	}
	return int(n)
}

// Flush waits until every accepted message has been published or timeout passes.
func (w *AsyncWriter) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if w.pending() == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Close stops accepting writes, publishes what is queued, then closes the
// publisher. It is safe to call more than once.
func (w *AsyncWriter) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()

		close(w.metricsStop)
		w.metricsTicker.Stop()

		w.cancelFunc()
		w.wg.Wait()

		err = w.publisher.Close()
	})
	return err
}

func (w *AsyncWriter) reportMetrics() {
	for {
		select {
		case <-w.metricsTicker.C:
			w.metrics.RecordQueueDepth(w.queueName, w.pending())
		case <-w.metricsStop:
			return
		}
	}
}

// Stats returns current statistics about the async writer.
func (w *AsyncWriter) Stats() AsyncWriterStats {
	return AsyncWriterStats{
		QueueDepth:    w.pending(),
		DroppedWrites: atomic.LoadInt64(&w.droppedWrites),
		TotalWrites:   atomic.LoadInt64(&w.totalWrites),
		FailedWrites:  atomic.LoadInt64(&w.failedWrites),
	}
}
