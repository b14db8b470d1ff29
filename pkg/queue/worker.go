package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Start launches concurrency consumers that run until ctx is done. Wait
// blocks until they have returned.
func (q *RedisJobQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	q.ensureGroup(ctx)
	for i := range max(concurrency, 1) {
		consumer := fmt.Sprintf("%s-%d", q.consumer, i)
		q.workers.Go(func() error {
			q.consume(ctx, consumer, handler)
			return nil
		})
	}
}

// Wait returns once every consumer started by Start has stopped. In-flight
// jobs finish first.
func (q *RedisJobQueue) Wait() error {
	return q.workers.Wait()
}

func (q *RedisJobQueue) ensureGroup(ctx context.Context) {
	q.groupOnce.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("queue group create failed", "stream", q.stream, "group", q.group, "err", err)
		}
	})
}

func (q *RedisJobQueue) consume(ctx context.Context, consumer string, handler Handler) {
	log := slog.With("stream", q.stream, "consumer", consumer)
	for ctx.Err() == nil {
		// Messages left pending by a crashed worker come back after claimIdle.
		claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: consumer,
			MinIdle:  q.claimIdle,
			Start:    "0-0",
			Count:    q.readCount,
		}).Result()
		if err == nil {
			for _, msg := range claimed {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				log.Warn("queue read failed", "err", err)
				sleep(ctx, q.retryDelay)
			}
			continue
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisJobQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	jobID, _ := msg.Values["job_id"].(string)
	documentID, _ := msg.Values["document_id"].(string)
	kind, _ := msg.Values["kind"].(string)
	if jobID == "" || documentID == "" {
		q.drop(ctx, msg.ID)
		return
	}
	job, err := q.beginAttempt(ctx, jobID, documentID, kind)
	if err != nil {
		slog.Warn("queue job start failed", "job_id", jobID, "err", err)
		q.drop(ctx, msg.ID)
		return
	}
	log := slog.With("job_id", jobID, "document_id", documentID, "attempts", job.Attempts)

	err = handler(ctx, job)
	switch {
	case err == nil:
		if err := q.setStatus(ctx, jobID, StatusDone, ""); err != nil {
			log.Warn("queue job status write failed", "err", err)
		}
		q.drop(ctx, msg.ID)
	case job.Attempts >= q.maxRetries:
		log.Error("queue job failed", "err", err)
		_ = q.setStatus(ctx, jobID, StatusFailed, err.Error())
		q.drop(ctx, msg.ID)
	default:
		log.Warn("queue job retry", "err", err)
		_ = q.setStatus(ctx, jobID, StatusQueued, err.Error())
		if !sleep(ctx, q.retryDelay) {
			return
		}
		if err := q.requeueAndAck(ctx, msg.ID, job); err != nil {
			log.Warn("queue job requeue failed", "err", err)
		}
	}
}

// beginAttempt bumps the attempt counter and marks the job processing. A
// record that expired is rebuilt from the stream message.
func (q *RedisJobQueue) beginAttempt(ctx context.Context, jobID, documentID, kind string) (JobStatus, error) {
	key := q.jobKey(jobID)
	now := time.Now().UTC().UnixMilli()
	var all *redis.MapStringStringCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "attempts", 1)
		pipe.HSet(ctx, key, "status", StatusProcessing, "updatedAt", now)
		all = pipe.HGetAll(ctx, key)
		return nil
	})
	if err != nil {
		return JobStatus{}, err
	}
	var rec jobRecord
	if err := all.Scan(&rec); err != nil {
		return JobStatus{}, err
	}
	if rec.ID == "" {
		rec.ID = jobID
		rec.DocumentID = documentID
		rec.Kind = orDefault(kind, KindOutline)
		rec.CreatedAt = now
		if err := q.writeJob(ctx, rec.status()); err != nil {
			return JobStatus{}, err
		}
	}
	return rec.status(), nil
}

func (q *RedisJobQueue) drop(ctx context.Context, msgID string) {
	_, _ = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, q.stream, q.group, msgID)
		pipe.XDel(ctx, q.stream, msgID)
		return nil
	})
}

// requeueAndAck moves a failed attempt to the stream tail in one transaction.
func (q *RedisJobQueue) requeueAndAck(ctx context.Context, msgID string, job JobStatus) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, q.addArgs(job))
		pipe.XAck(ctx, q.stream, q.group, msgID)
		pipe.XDel(ctx, q.stream, msgID)
		return nil
	})
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
