package fleet

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"transcode-fleet/internal/models"
)

const keyPrefix = "transcode:worker:"

// Registry publishes worker heartbeats to Redis so operators can see which
// worker holds which claim. It is informational only; claims are decided by
// the state files.
type Registry struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRegistry wraps client. Entries expire after ttl without a heartbeat.
func NewRegistry(client redis.UniversalClient, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Registry{client: client, ttl: ttl}
}

func (r *Registry) key(workerID string) string { return keyPrefix + workerID }

// Heartbeat stores st and refreshes its expiry.
func (r *Registry) Heartbeat(ctx context.Context, st models.WorkerStatus) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.key(st.WorkerID), map[string]any{
		"hostname":   st.Hostname,
		"pid":        st.PID,
		"state":      st.State,
		"job":        st.Job,
		"succeeded":  st.Succeeded,
		"failed":     st.Failed,
		"updated_at": st.UpdatedAt.UnixMilli(),
	})
	pipe.PExpire(ctx, r.key(st.WorkerID), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("heartbeat %s: %w", st.WorkerID, err)
	}
	return nil
}

// Remove deletes the worker's entry, used on clean shutdown.
func (r *Registry) Remove(ctx context.Context, workerID string) error {
	return r.client.Del(ctx, r.key(workerID)).Err()
}

// List returns every live worker sorted by ID.
func (r *Registry) List(ctx context.Context) ([]models.WorkerStatus, error) {
	var out []models.WorkerStatus
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		if len(fields) == 0 {
			continue
		}
		out = append(out, decodeStatus(key[len(keyPrefix):], fields))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan workers: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out, nil
}

func decodeStatus(workerID string, f map[string]string) models.WorkerStatus {
	st := models.WorkerStatus{
		WorkerID: workerID,
		Hostname: f["hostname"],
		State:    f["state"],
		Job:      f["job"],
	}
	st.PID, _ = strconv.Atoi(f["pid"])
	st.Succeeded, _ = strconv.Atoi(f["succeeded"])
	st.Failed, _ = strconv.Atoi(f["failed"])
	if ms, err := strconv.ParseInt(f["updated_at"], 10, 64); err == nil {
		st.UpdatedAt = time.UnixMilli(ms)
	}
	return st
}
