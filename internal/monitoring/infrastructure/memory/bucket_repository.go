package memory

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	monitoring "energy-monitor/internal/monitoring/domain"
)

const lockStripes = 64

// BucketRepository is an in-memory bucket store for demo/testing. The
// read-modify-write of one bucket is serialized by a striped lock keyed by
// (deviceID, hourStart); there is no global write lock on the hot path.
type BucketRepository struct {
	stripes [lockStripes]sync.Mutex

	mu      sync.RWMutex
	buckets map[string]*monitoring.HourlyConsumption
	applied map[string]appliedRecord
}

type appliedRecord struct {
	deviceID string
	at       time.Time
}

// NewBucketRepository constructs a repository.
func NewBucketRepository() *BucketRepository {
	return &BucketRepository{
		buckets: make(map[string]*monitoring.HourlyConsumption),
		applied: make(map[string]appliedRecord),
	}
}

func bucketKey(deviceID string, hourStart time.Time) string {
	return deviceID + "|" + hourStart.UTC().Format(time.RFC3339)
}

func (r *BucketRepository) stripeFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &r.stripes[h.Sum32()%lockStripes]
}

// ApplyMeasurement atomically records the idempotency key and increments the
// bucket total. Redelivered keys leave the total untouched.
func (r *BucketRepository) ApplyMeasurement(ctx context.Context, key, deviceID string, hourStart time.Time, delta float64) (monitoring.AppliedUpdate, error) {
	if err := ctx.Err(); err != nil {
		return monitoring.AppliedUpdate{}, err
	}
	if key == "" || deviceID == "" || hourStart.IsZero() {
		return monitoring.AppliedUpdate{}, errors.New("memory bucket repo: invalid arguments")
	}

	bkey := bucketKey(deviceID, hourStart)
	stripe := r.stripeFor(bkey)
	stripe.Lock()
	defer stripe.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, seen := r.applied[key]; seen {
		update := monitoring.AppliedUpdate{Duplicate: true}
		if bucket, ok := r.buckets[bkey]; ok {
			update.NewTotal = bucket.TotalConsumption
			update.Alerted = bucket.Alerted
		}
		return update, nil
	}

	now := time.Now().UTC()
	bucket, ok := r.buckets[bkey]
	if !ok {
		bucket = &monitoring.HourlyConsumption{
			DeviceID:  deviceID,
			HourStart: hourStart.UTC(),
		}
		r.buckets[bkey] = bucket
	}
	bucket.TotalConsumption += delta
	bucket.LastUpdatedAt = now
	r.applied[key] = appliedRecord{deviceID: deviceID, at: now}

	return monitoring.AppliedUpdate{NewTotal: bucket.TotalConsumption, Alerted: bucket.Alerted}, nil
}

// Get loads one bucket, returning (nil, nil) when absent.
func (r *BucketRepository) Get(ctx context.Context, deviceID string, hourStart time.Time) (*monitoring.HourlyConsumption, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket, ok := r.buckets[bucketKey(deviceID, hourStart)]
	if !ok {
		return nil, nil
	}
	copied := *bucket
	return &copied, nil
}

// MarkAlerted flips the alerted flag, reporting whether this call won the
// false-to-true transition.
func (r *BucketRepository) MarkAlerted(ctx context.Context, deviceID string, hourStart time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.buckets[bucketKey(deviceID, hourStart)]
	if !ok || bucket.Alerted {
		return false, nil
	}
	bucket.Alerted = true
	bucket.LastUpdatedAt = time.Now().UTC()
	return true, nil
}

// ListByDeviceAndRange returns buckets in [from, to) ordered by hour.
func (r *BucketRepository) ListByDeviceAndRange(ctx context.Context, deviceID string, from, to time.Time) ([]monitoring.HourlyConsumption, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []monitoring.HourlyConsumption
	for _, bucket := range r.buckets {
		if bucket.DeviceID != deviceID {
			continue
		}
		if bucket.HourStart.Before(from) || !bucket.HourStart.Before(to) {
			continue
		}
		result = append(result, *bucket)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].HourStart.Before(result[j].HourStart)
	})
	return result, nil
}

// DeleteByDevice removes all buckets and dedup keys for a device.
func (r *BucketRepository) DeleteByDevice(ctx context.Context, deviceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, bucket := range r.buckets {
		if bucket.DeviceID == deviceID {
			delete(r.buckets, key)
		}
	}
	for key, record := range r.applied {
		if record.deviceID == deviceID {
			delete(r.applied, key)
		}
	}
	return nil
}

// PruneAppliedBefore drops idempotency keys applied before the cutoff.
func (r *BucketRepository) PruneAppliedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var pruned int64
	for key, record := range r.applied {
		if record.at.Before(cutoff) {
			delete(r.applied, key)
			pruned++
		}
	}
	return pruned, nil
}
