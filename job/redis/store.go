package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/dispatch/job"
	"github.com/redis/go-redis/v9"
)

/* Redis Streams implementation of job.Store
 * Streams jobs:{queue} and jobs:{queue}:priority carry job ids to the
 * consumer group dispatch-{queue}; job state lives in the hash job:{id}.
 * Delayed and retrying jobs wait in the zset jobs:{queue}:delayed.
 * A claim is guarded by the lease key job:{id}:lease (SET NX PX), so an
 * entry reclaimed with XAUTOCLAIM is only worked on once the previous
 * holder's lease has expired. Every mutation touches a single key.
 */

const (
	streamPrefix = "jobs"     // Stream naming: jobs:{queue} and jobs:{queue}:priority
	hashPrefix   = "job"      // Hash naming: job:{id}
	groupPrefix  = "dispatch" // Consumer group naming: dispatch-{queue}

	promoteBatch   = 100
	reclaimBatch   = 10
	defaultBlockOn = time.Second
)

type Store struct {
	client    *redis.Client
	retention job.Retention
	block     time.Duration
	now       func() time.Time
	groups    sync.Map
}

type Option func(*Store)

// WithBlock sets how long Claim waits on the normal stream when nothing is ready
func WithBlock(d time.Duration) Option {
	return func(s *Store) {
		s.block = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewClient connects to Redis and checks the connection
func NewClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return client, nil
}

// NewStore creates a job store on an existing client
func NewStore(client *redis.Client, retention job.Retention, opts ...Option) *Store {
	s := &Store{
		client:    client,
		retention: retention,
		block:     defaultBlockOn,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add stores the job hash and queues its id; HSETNX on the id field makes it idempotent
func (s *Store) Add(ctx context.Context, j *job.Job) (bool, error) {
	if err := j.Queue.Validate(); err != nil {
		return false, err
	}
	raw, err := job.EncodePayload(j.Payload)
	if err != nil {
		return false, fmt.Errorf("encoding payload: %w", err)
	}

	hashKey := jobKey(j.ID)
	created, err := s.client.HSetNX(ctx, hashKey, "id", j.ID).Result()
	if err != nil {
		return false, fmt.Errorf("reserving job id: %w", err)
	}
	if !created {
		return false, nil
	}

	if err := s.enqueue(ctx, j, raw); err != nil {
		// release the id so a retried Add can create the job
		if delErr := s.client.Del(ctx, hashKey).Err(); delErr != nil {
			err = errors.Join(err, fmt.Errorf("releasing job id: %w", delErr))
		}
		return false, err
	}
	return true, nil
}

// enqueue writes the job metadata and puts its id on the stream or the delayed zset
func (s *Store) enqueue(ctx context.Context, j *job.Job, raw []byte) error {
	delayed := j.RunAt.After(s.now())
	status := job.Pending
	if delayed {
		status = job.Delayed
	}

	err := s.client.HSet(ctx, jobKey(j.ID), map[string]interface{}{
		"queue":            j.Queue.String(),
		"name":             j.Name,
		"payload":          raw,
		"attempts_made":    0,
		"max_attempts":     j.MaxAttempts,
		"backoff_type":     j.Backoff.Type.String(),
		"backoff_delay_ms": j.Backoff.Delay.Milliseconds(),
		"backoff_cap_ms":   j.Backoff.Cap.Milliseconds(),
		"priority":         j.Priority,
		"status":           status.String(),
		"last_error":       "",
		"run_at":           j.RunAt.UnixMilli(),
		"created_at":       j.CreatedAt.UnixMilli(),
		"updated_at":       j.UpdatedAt.UnixMilli(),
	}).Err()
	if err != nil {
		return fmt.Errorf("storing job metadata: %w", err)
	}

	if delayed {
		err = s.client.ZAdd(ctx, delayedKey(j.Queue), redis.Z{Score: float64(j.RunAt.UnixMilli()), Member: j.ID}).Err()
		if err != nil {
			return fmt.Errorf("scheduling delayed job: %w", err)
		}
		return nil
	}
	return s.publish(ctx, j.Queue, j.ID, j.Priority)
}

// Claim hands out one job. Expired claims are reclaimed first, then the
// priority stream is read without blocking, then the normal stream blocks
// for the configured time.
func (s *Store) Claim(ctx context.Context, queue job.Queue, consumer string, lease time.Duration) (*job.Job, error) {
	if err := queue.Validate(); err != nil {
		return nil, err
	}
	streams := []string{streamKey(queue, true), streamKey(queue, false)}
	for _, stream := range streams {
		if err := s.ensureGroup(ctx, stream, queue); err != nil {
			return nil, err
		}
	}

	for _, stream := range streams {
		j, err := s.reclaim(ctx, queue, stream, consumer, lease)
		if err != nil || j != nil {
			return j, err
		}
	}

	for i, stream := range streams {
		block := time.Duration(-1)
		if i == len(streams)-1 {
			block = s.block
		}
		j, err := s.read(ctx, queue, stream, consumer, lease, block)
		if err != nil || j != nil {
			return j, err
		}
	}
	return nil, nil
}

func (s *Store) reclaim(ctx context.Context, queue job.Queue, stream, consumer string, lease time.Duration) (*job.Job, error) {
	msgs, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    groupName(queue),
		Consumer: consumer,
		MinIdle:  lease,
		Start:    "0-0",
		Count:    reclaimBatch,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reclaiming stale entries: %w", err)
	}
	return s.takeFirst(ctx, queue, stream, msgs, lease)
}

func (s *Store) read(ctx context.Context, queue job.Queue, stream, consumer string, lease, block time.Duration) (*job.Job, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    groupName(queue),
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		// No messages available
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading from stream: %w", err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return s.takeFirst(ctx, queue, stream, res[0].Messages, lease)
}

func (s *Store) takeFirst(ctx context.Context, queue job.Queue, stream string, msgs []redis.XMessage, lease time.Duration) (*job.Job, error) {
	for _, msg := range msgs {
		j, err := s.take(ctx, queue, stream, msg, lease)
		if err != nil || j != nil {
			return j, err
		}
	}
	return nil, nil
}

// take turns a delivered stream entry into a claimed job, or settles it as stale
func (s *Store) take(ctx context.Context, queue job.Queue, stream string, msg redis.XMessage, lease time.Duration) (*job.Job, error) {
	id, _ := msg.Values["job_id"].(string)
	hashKey := jobKey(id)

	data, err := s.client.HGetAll(ctx, hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}

	// gone, finished, or owned by the delayed set: the entry is stale
	status := job.NewStatus(data["status"])
	if id == "" || len(data) == 0 || data["queue"] == "" || status.IsFinal() || status == job.Delayed {
		if err := s.ack(ctx, queue, stream, msg.ID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	token := uuid.New().String()
	acquired, err := s.client.SetNX(ctx, leaseKey(id), token, lease).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lease: %w", err)
	}
	if !acquired {
		// still held by a live worker; leave the entry pending
		return nil, nil
	}

	attempts, err := s.client.HIncrBy(ctx, hashKey, "attempts_made", 1).Result()
	if err != nil {
		return nil, fmt.Errorf("incrementing attempts: %w", err)
	}
	now := s.now()
	err = s.client.HSet(ctx, hashKey, map[string]interface{}{
		"status":     job.Active.String(),
		"updated_at": now.UnixMilli(),
		"stream":     stream,
		"entry_id":   msg.ID,
	}).Err()
	if err != nil {
		return nil, fmt.Errorf("marking job active: %w", err)
	}

	data["attempts_made"] = strconv.FormatInt(attempts, 10)
	data["status"] = job.Active.String()
	data["updated_at"] = strconv.FormatInt(now.UnixMilli(), 10)
	j := parseJob(data)
	j.LeaseToken = token
	return j, nil
}

func (s *Store) ExtendLease(ctx context.Context, j *job.Job, lease time.Duration) error {
	if err := s.owned(ctx, j); err != nil {
		return err
	}
	ok, err := s.client.PExpire(ctx, leaseKey(j.ID), lease).Result()
	if err != nil {
		return fmt.Errorf("extending lease: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", job.ErrLeaseLost, j.ID)
	}
	return nil
}

func (s *Store) Complete(ctx context.Context, j *job.Job) error {
	if err := s.owned(ctx, j); err != nil {
		return err
	}
	hashKey := jobKey(j.ID)
	now := s.now()

	err := s.client.HSet(ctx, hashKey, map[string]interface{}{
		"status":      job.Completed.String(),
		"last_error":  "",
		"finished_at": now.UnixMilli(),
		"updated_at":  now.UnixMilli(),
	}).Err()
	if err != nil {
		return fmt.Errorf("marking job completed: %w", err)
	}
	if err := s.settle(ctx, j); err != nil {
		return err
	}
	return s.retain(ctx, j, completedKey(j.Queue), s.retention.CompletedKeep, s.retention.CompletedTTL)
}

// Retry schedules the job again; a run time not in the future requeues it immediately
func (s *Store) Retry(ctx context.Context, j *job.Job, runAt time.Time, cause error) error {
	if err := s.owned(ctx, j); err != nil {
		return err
	}
	now := s.now()
	delayed := runAt.After(now)
	status := job.Pending
	if delayed {
		status = job.Delayed
	}

	err := s.client.HSet(ctx, jobKey(j.ID), map[string]interface{}{
		"status":     status.String(),
		"last_error": errorText(cause),
		"run_at":     runAt.UnixMilli(),
		"updated_at": now.UnixMilli(),
	}).Err()
	if err != nil {
		return fmt.Errorf("marking job for retry: %w", err)
	}

	if delayed {
		err = s.client.ZAdd(ctx, delayedKey(j.Queue), redis.Z{Score: float64(runAt.UnixMilli()), Member: j.ID}).Err()
		if err != nil {
			return fmt.Errorf("scheduling retry: %w", err)
		}
	} else if err := s.publish(ctx, j.Queue, j.ID, j.Priority); err != nil {
		return err
	}

	return s.settle(ctx, j)
}

func (s *Store) Fail(ctx context.Context, j *job.Job, cause error) error {
	if err := s.owned(ctx, j); err != nil {
		return err
	}
	now := s.now()

	err := s.client.HSet(ctx, jobKey(j.ID), map[string]interface{}{
		"status":      job.Failed.String(),
		"last_error":  errorText(cause),
		"finished_at": now.UnixMilli(),
		"updated_at":  now.UnixMilli(),
	}).Err()
	if err != nil {
		return fmt.Errorf("marking job failed: %w", err)
	}
	if err := s.settle(ctx, j); err != nil {
		return err
	}
	return s.retain(ctx, j, deadKey(j.Queue), s.retention.FailedKeep, s.retention.FailedTTL)
}

/* PromoteDue moves due jobs from the delayed zset to their stream
 * ZREM decides which promoter owns a job, so concurrent promoters never
 * publish it twice. If the process dies between ZREM and XADD the job is
 * left pending without a stream entry; the window is a few round trips.
 */
func (s *Store) PromoteDue(ctx context.Context, queue job.Queue, now time.Time) (int, error) {
	if err := queue.Validate(); err != nil {
		return 0, err
	}
	key := delayedKey(queue)
	ids, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("listing due jobs: %w", err)
	}

	promoted := 0
	for _, id := range ids {
		removed, err := s.client.ZRem(ctx, key, id).Result()
		if err != nil {
			return promoted, fmt.Errorf("removing due job: %w", err)
		}
		if removed == 0 {
			continue
		}

		priority, err := s.client.HGet(ctx, jobKey(id), "priority").Int()
		if err != nil && err != redis.Nil {
			return promoted, fmt.Errorf("getting job priority: %w", err)
		}
		err = s.client.HSet(ctx, jobKey(id), map[string]interface{}{
			"status":     job.Pending.String(),
			"updated_at": now.UnixMilli(),
		}).Err()
		if err == nil {
			err = s.publish(ctx, queue, id, priority)
		}
		if err != nil {
			err = fmt.Errorf("promoting job %s: %w", id, err)
			// put it back so the next tick retries
			if zErr := s.client.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: id}).Err(); zErr != nil {
				err = errors.Join(err, fmt.Errorf("requeueing job %s: %w", id, zErr))
			}
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// Get retrieves a job by ID from its hash
func (s *Store) Get(ctx context.Context, id string) (*job.Job, error) {
	data, err := s.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	if len(data) == 0 || data["queue"] == "" {
		return nil, fmt.Errorf("%w: %s", job.ErrNotFound, id)
	}
	return parseJob(data), nil
}

// Stats derives counts from stream length, pending entries, the delayed zset and the finished lists
func (s *Store) Stats(ctx context.Context, queue job.Queue) (job.QueueStats, error) {
	if err := queue.Validate(); err != nil {
		return job.QueueStats{}, err
	}
	st := job.QueueStats{Queue: queue}

	for _, priority := range []bool{true, false} {
		stream := streamKey(queue, priority)
		if err := s.ensureGroup(ctx, stream, queue); err != nil {
			return st, err
		}
		length, err := s.client.XLen(ctx, stream).Result()
		if err != nil {
			return st, fmt.Errorf("getting stream length: %w", err)
		}
		pending, err := s.client.XPending(ctx, stream, groupName(queue)).Result()
		if err != nil {
			return st, fmt.Errorf("getting pending entries: %w", err)
		}
		st.Active += pending.Count
		st.Waiting += max(length-pending.Count, 0)
	}

	var err error
	if st.Delayed, err = s.client.ZCard(ctx, delayedKey(queue)).Result(); err != nil {
		return st, fmt.Errorf("counting delayed jobs: %w", err)
	}
	if st.Completed, err = s.client.LLen(ctx, completedKey(queue)).Result(); err != nil {
		return st, fmt.Errorf("counting completed jobs: %w", err)
	}
	if st.Failed, err = s.client.LLen(ctx, deadKey(queue)).Result(); err != nil {
		return st, fmt.Errorf("counting dead jobs: %w", err)
	}
	return st, nil
}

// Dead returns dead-lettered jobs, most recent first; expired hashes are skipped
func (s *Store) Dead(ctx context.Context, queue job.Queue, limit int) ([]*job.Job, error) {
	if err := queue.Validate(); err != nil {
		return nil, err
	}
	ids, err := s.client.LRange(ctx, deadKey(queue), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing dead jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, id := range ids {
		j, err := s.Get(ctx, id)
		if errors.Is(err, job.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Close closes the Redis connection
func (s *Store) Close(ctx context.Context) error {
	return s.client.Close()
}

// GetClient returns the underlying Redis client for advanced operations
func (s *Store) GetClient() *redis.Client {
	return s.client
}

func (s *Store) ensureGroup(ctx context.Context, stream string, queue job.Queue) error {
	if _, ok := s.groups.Load(stream); ok {
		return nil
	}
	err := s.client.XGroupCreateMkStream(ctx, stream, groupName(queue), "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	s.groups.Store(stream, struct{}{})
	return nil
}

func (s *Store) publish(ctx context.Context, queue job.Queue, id string, priority int) error {
	_, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(queue, priority > 0),
		Values: map[string]interface{}{"job_id": id},
	}).Result()
	if err != nil {
		return fmt.Errorf("adding to stream: %w", err)
	}
	return nil
}

// owned fails with ErrLeaseLost unless j still holds its lease
func (s *Store) owned(ctx context.Context, j *job.Job) error {
	token, err := s.client.Get(ctx, leaseKey(j.ID)).Result()
	if err == redis.Nil || (err == nil && token != j.LeaseToken) {
		return fmt.Errorf("%w: %s", job.ErrLeaseLost, j.ID)
	}
	if err != nil {
		return fmt.Errorf("reading lease: %w", err)
	}
	return nil
}

// settle acknowledges the stream entry the job was claimed from and drops the lease
func (s *Store) settle(ctx context.Context, j *job.Job) error {
	ref, err := s.client.HMGet(ctx, jobKey(j.ID), "stream", "entry_id").Result()
	if err != nil {
		return fmt.Errorf("getting stream entry: %w", err)
	}
	stream, _ := ref[0].(string)
	entryID, _ := ref[1].(string)
	if stream != "" && entryID != "" {
		if err := s.ack(ctx, j.Queue, stream, entryID); err != nil {
			return err
		}
	}
	if err := s.client.Del(ctx, leaseKey(j.ID)).Err(); err != nil {
		return fmt.Errorf("releasing lease: %w", err)
	}
	return nil
}

func (s *Store) ack(ctx context.Context, queue job.Queue, stream, entryID string) error {
	if err := s.client.XAck(ctx, stream, groupName(queue), entryID).Err(); err != nil {
		return fmt.Errorf("acknowledging message: %w", err)
	}
	if err := s.client.XDel(ctx, stream, entryID).Err(); err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return nil
}

// retain records a finished job in a bounded list and expires its hash
func (s *Store) retain(ctx context.Context, j *job.Job, listKey string, keep int, ttl time.Duration) error {
	if err := s.client.LPush(ctx, listKey, j.ID).Err(); err != nil {
		return fmt.Errorf("recording finished job: %w", err)
	}
	if keep > 0 {
		if err := s.client.LTrim(ctx, listKey, 0, int64(keep-1)).Err(); err != nil {
			return fmt.Errorf("trimming finished jobs: %w", err)
		}
	}
	if ttl > 0 {
		if err := s.client.Expire(ctx, jobKey(j.ID), ttl).Err(); err != nil {
			return fmt.Errorf("setting TTL on job: %w", err)
		}
	}
	return nil
}

// Helper functions

func parseJob(data map[string]string) *job.Job {
	j := &job.Job{
		ID:           data["id"],
		Queue:        job.Queue(data["queue"]),
		Name:         data["name"],
		AttemptsMade: int(parseInt64(data["attempts_made"])),
		MaxAttempts:  int(parseInt64(data["max_attempts"])),
		Backoff: job.Backoff{
			Type:  job.NewBackoffType(data["backoff_type"]),
			Delay: time.Duration(parseInt64(data["backoff_delay_ms"])) * time.Millisecond,
			Cap:   time.Duration(parseInt64(data["backoff_cap_ms"])) * time.Millisecond,
		},
		Priority:   int(parseInt64(data["priority"])),
		Status:     job.NewStatus(data["status"]),
		LastError:  data["last_error"],
		RunAt:      parseMillis(data["run_at"]),
		CreatedAt:  parseMillis(data["created_at"]),
		UpdatedAt:  parseMillis(data["updated_at"]),
		FinishedAt: parseMillis(data["finished_at"]),
	}
	p, err := job.DecodePayload([]byte(data["payload"]))
	if err != nil {
		j.LastError = err.Error()
	} else {
		j.Payload = p
	}
	return j
}

func streamKey(queue job.Queue, priority bool) string {
	if priority {
		return fmt.Sprintf("%s:%s:priority", streamPrefix, queue)
	}
	return fmt.Sprintf("%s:%s", streamPrefix, queue)
}

func delayedKey(queue job.Queue) string {
	return fmt.Sprintf("%s:%s:delayed", streamPrefix, queue)
}

func completedKey(queue job.Queue) string {
	return fmt.Sprintf("%s:%s:completed", streamPrefix, queue)
}

func deadKey(queue job.Queue) string {
	return fmt.Sprintf("%s:%s:dead", streamPrefix, queue)
}

func groupName(queue job.Queue) string {
	return fmt.Sprintf("%s-%s", groupPrefix, queue)
}

func jobKey(id string) string {
	return fmt.Sprintf("%s:%s", hashPrefix, id)
}

func leaseKey(id string) string {
	return fmt.Sprintf("%s:%s:lease", hashPrefix, id)
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseMillis(s string) time.Time {
	ms := parseInt64(s)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
