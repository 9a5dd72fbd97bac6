package routing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	monitoring "energy-monitor/internal/monitoring/domain"
)

type recordingProcessor struct {
	mu        sync.Mutex
	processed []monitoring.Measurement
	failures  map[string]int // device id -> transient failures before success
	terminal  map[string]error
}

func (p *recordingProcessor) Process(_ context.Context, m monitoring.Measurement) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.terminal[m.DeviceID]; ok {
		return err
	}
	if remaining := p.failures[m.DeviceID]; remaining > 0 {
		p.failures[m.DeviceID] = remaining - 1
		return fmt.Errorf("transient failure for %s", m.DeviceID)
	}
	p.processed = append(p.processed, m)
	return nil
}

func (p *recordingProcessor) processedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.processed)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func startPipeline(t *testing.T, processor Processor, opts ...PipelineOption) *Pipeline {
	t.Helper()
	router, err := NewRouter(testRing(t, "shard-1", "shard-2"))
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	opts = append([]PipelineOption{
		WithPipelineLogger(log.New(io.Discard, "", 0)),
		WithRetryDelay(time.Millisecond),
	}, opts...)
	pipeline, err := NewPipeline(router, processor, opts...)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pipeline.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return pipeline
}

func TestPipelineDeliversToProcessor(t *testing.T) {
	processor := &recordingProcessor{}
	pipeline := startPipeline(t, processor)

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		m := validMeasurement(fmt.Sprintf("device-%d", i))
		if err := pipeline.Submit(ctx, m); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	waitFor(t, 2*time.Second, func() bool { return processor.processedCount() == 20 })
}

func TestPipelineRetriesTransientFailures(t *testing.T) {
	processor := &recordingProcessor{failures: map[string]int{"flaky": 2}}
	pipeline := startPipeline(t, processor, WithMaxAttempts(3))

	if err := pipeline.Submit(context.Background(), validMeasurement("flaky")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return processor.processedCount() == 1 })
}

func TestPipelineGivesUpAfterMaxAttempts(t *testing.T) {
	processor := &recordingProcessor{failures: map[string]int{"doomed": 10}}
	var mu sync.Mutex
	var failed []monitoring.Measurement
	pipeline := startPipeline(t, processor,
		WithMaxAttempts(2),
		WithFailureHandler(func(m monitoring.Measurement, err error) {
			mu.Lock()
			defer mu.Unlock()
			failed = append(failed, m)
		}),
	)

	if err := pipeline.Submit(context.Background(), validMeasurement("doomed")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failed) == 1
	})
	if processor.processedCount() != 0 {
		t.Fatalf("doomed measurement was processed %d times", processor.processedCount())
	}
}

func TestPipelineDoesNotRetryTerminalErrors(t *testing.T) {
	terminal := fmt.Errorf("closed: %w", monitoring.ErrBucketFinalized)
	processor := &recordingProcessor{terminal: map[string]error{"late": terminal}}
	var mu sync.Mutex
	failures := 0
	pipeline := startPipeline(t, processor,
		WithMaxAttempts(5),
		WithFailureHandler(func(monitoring.Measurement, error) {
			mu.Lock()
			defer mu.Unlock()
			failures++
		}),
	)

	if err := pipeline.Submit(context.Background(), validMeasurement("late")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Terminal drops never reach the failure handler.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if failures != 0 {
		t.Fatalf("terminal error hit failure handler %d times", failures)
	}
}

func TestPipelineSubmitRejectsInvalid(t *testing.T) {
	processor := &recordingProcessor{}
	pipeline := startPipeline(t, processor)

	err := pipeline.Submit(context.Background(), monitoring.Measurement{})
	if !errors.Is(err, monitoring.ErrInvalidMeasurement) {
		t.Fatalf("want ErrInvalidMeasurement, got %v", err)
	}
}
