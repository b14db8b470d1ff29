// Package queue is a Redis Streams job queue with per-job status records.
// Outline jobs are keyed by document: asking again while a job is queued or
// running returns that job instead of stacking a duplicate.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"pdfreader/internal/util"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// KindOutline asks the worker to extract page count, metadata, and outline.
const KindOutline = "outline"

type JobStatus struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"documentId"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Active reports whether the job is still waiting or running.
func (j JobStatus) Active() bool {
	return j.Status == StatusQueued || j.Status == StatusProcessing
}

// Handler processes one job. A nil error marks it done.
type Handler func(context.Context, JobStatus) error

type RedisQueueConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
}

type RedisJobQueue struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	jobTTL     time.Duration
	maxRetries int
	block      time.Duration
	claimIdle  time.Duration
	retryDelay time.Duration
	maxLen     int64
	readCount  int64

	groupOnce sync.Once
	workers   errgroup.Group
}

func NewRedisJobQueue(cfg RedisQueueConfig) (*RedisJobQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	q := &RedisJobQueue{
		client:     redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:     stream,
		group:      orDefault(strings.TrimSpace(cfg.Group), "outline-workers"),
		consumer:   orDefault(strings.TrimSpace(cfg.Consumer), util.NewID()),
		jobTTL:     positive(cfg.JobTTL, 24*time.Hour),
		maxRetries: positive(cfg.MaxRetries, 3),
		block:      positive(cfg.Block, 5*time.Second),
		claimIdle:  positive(cfg.ClaimIdle, 30*time.Second),
		retryDelay: positive(cfg.RetryDelay, 2*time.Second),
		maxLen:     positive(cfg.MaxLen, 10000),
		readCount:  positive(cfg.ReadCount, 10),
	}
	return q, nil
}

func (q *RedisJobQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisJobQueue) Close() error {
	return q.client.Close()
}

// Enqueue queues kind for documentID, or returns the active job already
// queued for it.
func (q *RedisJobQueue) Enqueue(ctx context.Context, documentID, kind string) (JobStatus, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return JobStatus{}, errors.New("documentId required")
	}
	kind = orDefault(strings.TrimSpace(kind), KindOutline)

	now := time.Now().UTC()
	job := JobStatus{
		ID:         util.NewID(),
		DocumentID: documentID,
		Kind:       kind,
		Status:     StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	index := q.documentKey(kind, documentID)
	claimed, err := q.client.SetNX(ctx, index, job.ID, q.jobTTL).Result()
	if err != nil {
		return JobStatus{}, err
	}
	if !claimed {
		existingID, err := q.client.Get(ctx, index).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return JobStatus{}, err
		}
		existing, ok, err := q.GetJob(ctx, existingID)
		if err != nil {
			return JobStatus{}, err
		}
		if ok && existing.Active() {
			return existing, nil
		}
		if err := q.client.Set(ctx, index, job.ID, q.jobTTL).Err(); err != nil {
			return JobStatus{}, err
		}
	}

	if err := q.writeJob(ctx, job); err != nil {
		return JobStatus{}, err
	}
	if err := q.client.XAdd(ctx, q.addArgs(job)).Err(); err != nil {
		return JobStatus{}, err
	}
	return job, nil
}

func (q *RedisJobQueue) GetJob(ctx context.Context, jobID string) (JobStatus, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return JobStatus{}, false, nil
	}
	var rec jobRecord
	if err := q.client.HGetAll(ctx, q.jobKey(jobID)).Scan(&rec); err != nil {
		return JobStatus{}, false, err
	}
	if rec.ID == "" {
		return JobStatus{}, false, nil
	}
	return rec.status(), true, nil
}

// jobRecord is the Redis hash layout of a job.
type jobRecord struct {
	ID         string `redis:"id"`
	DocumentID string `redis:"documentId"`
	Kind       string `redis:"kind"`
	Status     string `redis:"status"`
	Error      string `redis:"error"`
	Attempts   int    `redis:"attempts"`
	CreatedAt  int64  `redis:"createdAt"`
	UpdatedAt  int64  `redis:"updatedAt"`
}

func recordOf(j JobStatus) jobRecord {
	return jobRecord{
		ID:         j.ID,
		DocumentID: j.DocumentID,
		Kind:       j.Kind,
		Status:     j.Status,
		Error:      j.ErrorMessage,
		Attempts:   j.Attempts,
		CreatedAt:  j.CreatedAt.UnixMilli(),
		UpdatedAt:  j.UpdatedAt.UnixMilli(),
	}
}

func (r jobRecord) status() JobStatus {
	return JobStatus{
		ID:           r.ID,
		DocumentID:   r.DocumentID,
		Kind:         r.Kind,
		Status:       r.Status,
		ErrorMessage: r.Error,
		Attempts:     r.Attempts,
		CreatedAt:    time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt:    time.UnixMilli(r.UpdatedAt).UTC(),
	}
}

func (q *RedisJobQueue) writeJob(ctx context.Context, job JobStatus) error {
	key := q.jobKey(job.ID)
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, recordOf(job))
		pipe.Expire(ctx, key, q.jobTTL)
		return nil
	})
	return err
}

func (q *RedisJobQueue) setStatus(ctx context.Context, jobID, status, errMsg string) error {
	return q.client.HSet(ctx, q.jobKey(jobID),
		"status", status,
		"error", errMsg,
		"updatedAt", time.Now().UTC().UnixMilli(),
	).Err()
}

func (q *RedisJobQueue) addArgs(job JobStatus) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":      job.ID,
			"document_id": job.DocumentID,
			"kind":        job.Kind,
		},
	}
}

func (q *RedisJobQueue) jobKey(jobID string) string {
	return fmt.Sprintf("job:%s:%s", q.stream, jobID)
}

func (q *RedisJobQueue) documentKey(kind, documentID string) string {
	return fmt.Sprintf("job:%s:doc:%s:%s", q.stream, kind, documentID)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func positive[T int | int64 | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}
