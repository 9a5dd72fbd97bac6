package memory

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestApplyMeasurementConcurrentSameBucket(t *testing.T) {
	repo := NewBucketRepository()
	ctx := context.Background()
	hour := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	const workers = 16
	const perWorker = 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := fmt.Sprintf("w%d-%d", w, i)
				if _, err := repo.ApplyMeasurement(ctx, key, "dev-1", hour, 0.5); err != nil {
					t.Errorf("apply %s: %v", key, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	bucket, err := repo.Get(ctx, "dev-1", hour)
	if err != nil || bucket == nil {
		t.Fatalf("get bucket: %v %v", bucket, err)
	}
	want := float64(workers*perWorker) * 0.5
	if math.Abs(bucket.TotalConsumption-want) > 1e-6 {
		t.Fatalf("want total %v, got %v", want, bucket.TotalConsumption)
	}
}

func TestApplyMeasurementConcurrentSameKey(t *testing.T) {
	repo := NewBucketRepository()
	ctx := context.Background()
	hour := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	const attempts = 32
	var applied atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			update, err := repo.ApplyMeasurement(ctx, "same-key", "dev-2", hour, 3.0)
			if err != nil {
				t.Errorf("apply: %v", err)
				return
			}
			if !update.Duplicate {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	if applied.Load() != 1 {
		t.Fatalf("key applied %d times", applied.Load())
	}
	bucket, _ := repo.Get(ctx, "dev-2", hour)
	if bucket == nil || bucket.TotalConsumption != 3.0 {
		t.Fatalf("unexpected bucket: %+v", bucket)
	}
}

func TestMarkAlertedSingleWinner(t *testing.T) {
	repo := NewBucketRepository()
	ctx := context.Background()
	hour := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if _, err := repo.ApplyMeasurement(ctx, "k", "dev-3", hour, 10.0); err != nil {
		t.Fatalf("apply: %v", err)
	}

	const racers = 16
	var winners atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := repo.MarkAlerted(ctx, "dev-3", hour)
			if err != nil {
				t.Errorf("mark alerted: %v", err)
				return
			}
			if won {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Fatalf("want exactly one winner, got %d", winners.Load())
	}
}

func TestPruneAppliedBefore(t *testing.T) {
	repo := NewBucketRepository()
	ctx := context.Background()
	hour := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if _, err := repo.ApplyMeasurement(ctx, "old", "dev-4", hour, 1.0); err != nil {
		t.Fatalf("apply: %v", err)
	}

	pruned, err := repo.PruneAppliedBefore(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("want 1 pruned, got %d", pruned)
	}

	update, err := repo.ApplyMeasurement(ctx, "old", "dev-4", hour, 1.0)
	if err != nil {
		t.Fatalf("apply after prune: %v", err)
	}
	if update.Duplicate {
		t.Fatal("pruned key still deduplicates")
	}
}
