package routing

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	monitoring "energy-monitor/internal/monitoring/domain"
	"energy-monitor/internal/observability/metrics"
)

// Processor applies one measurement to its shard's aggregate state.
type Processor interface {
	Process(ctx context.Context, m monitoring.Measurement) error
}

// FailureHandler receives measurements that exhausted their delivery
// attempts.
type FailureHandler func(m monitoring.Measurement, err error)

// Pipeline owns one bounded queue and a worker group per shard. Submit
// routes a measurement to its shard's queue; workers drain the queues and
// hand each measurement to the processor, retrying transient failures.
type Pipeline struct {
	router      *Router
	processor   Processor
	logger      *log.Logger
	queues      map[string]chan monitoring.Measurement
	queueSize   int
	workers     int
	maxAttempts int
	retryDelay  time.Duration
	onFailure   FailureHandler
}

// PipelineOption customizes the pipeline.
type PipelineOption func(*Pipeline)

// WithQueueSize sets the per-shard queue capacity.
func WithQueueSize(size int) PipelineOption {
	return func(p *Pipeline) {
		if size > 0 {
			p.queueSize = size
		}
	}
}

// WithWorkersPerShard sets how many workers drain each shard queue.
func WithWorkersPerShard(workers int) PipelineOption {
	return func(p *Pipeline) {
		if workers > 0 {
			p.workers = workers
		}
	}
}

// WithMaxAttempts bounds delivery attempts per measurement.
func WithMaxAttempts(attempts int) PipelineOption {
	return func(p *Pipeline) {
		if attempts > 0 {
			p.maxAttempts = attempts
		}
	}
}

// WithRetryDelay sets the pause between delivery attempts.
func WithRetryDelay(delay time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if delay >= 0 {
			p.retryDelay = delay
		}
	}
}

// WithPipelineLogger assigns a logger.
func WithPipelineLogger(logger *log.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithFailureHandler assigns a sink for measurements that could not be
// processed within the allowed attempts.
func WithFailureHandler(handler FailureHandler) PipelineOption {
	return func(p *Pipeline) {
		if handler != nil {
			p.onFailure = handler
		}
	}
}

// NewPipeline constructs a pipeline over the router's shard set.
func NewPipeline(router *Router, processor Processor, opts ...PipelineOption) (*Pipeline, error) {
	if router == nil {
		return nil, errors.New("routing: nil router")
	}
	if processor == nil {
		return nil, errors.New("routing: nil processor")
	}
	p := &Pipeline{
		router:      router,
		processor:   processor,
		logger:      log.Default(),
		queueSize:   256,
		workers:     1,
		maxAttempts: 3,
		retryDelay:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queues = make(map[string]chan monitoring.Measurement)
	for _, shard := range router.Ring().Shards() {
		p.queues[shard] = make(chan monitoring.Measurement, p.queueSize)
	}
	return p, nil
}

// Submit routes a measurement to its shard queue. It blocks while the queue
// is full so backpressure reaches the producer.
func (p *Pipeline) Submit(ctx context.Context, m monitoring.Measurement) error {
	shard, err := p.router.Route(m)
	if err != nil {
		return err
	}
	queue, ok := p.queues[shard]
	if !ok {
		metrics.IncRoutingError()
		return errors.New("routing: no queue for shard " + shard)
	}
	select {
	case queue <- m:
		metrics.IncRouted(shard)
		metrics.SetQueueDepth(shard, len(queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains all shard queues until the context is cancelled. It blocks; run
// it in its own goroutine or errgroup.
func (p *Pipeline) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for shard, queue := range p.queues {
		shard, queue := shard, queue
		for i := 0; i < p.workers; i++ {
			group.Go(func() error {
				return p.work(ctx, shard, queue)
			})
		}
	}
	return group.Wait()
}

func (p *Pipeline) work(ctx context.Context, shard string, queue <-chan monitoring.Measurement) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-queue:
			metrics.SetQueueDepth(shard, len(queue))
			p.deliver(ctx, shard, m)
		}
	}
}

func (p *Pipeline) deliver(ctx context.Context, shard string, m monitoring.Measurement) {
	var err error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err = p.processor.Process(ctx, m)
		if err == nil {
			return
		}
		if isTerminal(err) {
			p.logger.Printf("pipeline: shard=%s dropping measurement device=%s: %v", shard, m.DeviceID, err)
			return
		}
		if attempt < p.maxAttempts {
			p.logger.Printf("pipeline: shard=%s attempt %d/%d failed device=%s: %v", shard, attempt, p.maxAttempts, m.DeviceID, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.retryDelay):
			}
		}
	}
	p.logger.Printf("pipeline: shard=%s giving up on device=%s after %d attempts: %v", shard, m.DeviceID, p.maxAttempts, err)
	if p.onFailure != nil {
		p.onFailure(m, err)
	}
}

// isTerminal reports whether retrying cannot change the outcome.
func isTerminal(err error) bool {
	return errors.Is(err, monitoring.ErrInvalidMeasurement) ||
		errors.Is(err, monitoring.ErrBucketFinalized)
}
