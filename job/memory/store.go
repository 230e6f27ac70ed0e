package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/dispatch/job"
)

/* In-process implementation of job.Store
 * Same contract as the Redis store: payloads go through the envelope codec,
 * claims are leased, finished jobs are retained in bounded lists.
 * Used by unit tests and by QUEUE_STORE=memory for single-node development.
 */

type record struct {
	job       job.Job
	payload   []byte
	expiresAt time.Time
}

type lease struct {
	token     string
	consumer  string
	expiresAt time.Time
}

type queueState struct {
	priority  []string
	ready     []string
	delayed   map[string]time.Time
	completed []string
	dead      []string
}

type Store struct {
	mu        sync.Mutex
	records   map[string]*record
	leases    map[string]lease
	queues    map[job.Queue]*queueState
	retention job.Retention
	now       func() time.Time
}

// NewStore creates an empty store with the given retention
func NewStore(retention job.Retention) *Store {
	return NewStoreWithClock(retention, time.Now)
}

func NewStoreWithClock(retention job.Retention, now func() time.Time) *Store {
	s := &Store{
		records:   make(map[string]*record),
		leases:    make(map[string]lease),
		queues:    make(map[job.Queue]*queueState),
		retention: retention,
		now:       now,
	}
	for _, q := range job.Queues() {
		s.queues[q] = &queueState{delayed: make(map[string]time.Time)}
	}
	return s
}

// Add stores the job unless one with the same ID already exists
func (s *Store) Add(ctx context.Context, j *job.Job) (bool, error) {
	qs, err := s.queue(j.Queue)
	if err != nil {
		return false, err
	}
	raw, err := job.EncodePayload(j.Payload)
	if err != nil {
		return false, fmt.Errorf("encoding payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[j.ID]; ok {
		return false, nil
	}

	rec := &record{job: *j, payload: raw}
	rec.job.LeaseToken = ""
	s.records[j.ID] = rec

	if j.RunAt.After(s.now()) {
		rec.job.Status = job.Delayed
		qs.delayed[j.ID] = j.RunAt
	} else {
		rec.job.Status = job.Pending
		s.pushReady(qs, &rec.job)
	}
	return true, nil
}

// Claim returns the next ready job or nil; it never blocks
func (s *Store) Claim(ctx context.Context, queue job.Queue, consumer string, leaseFor time.Duration) (*job.Job, error) {
	qs, err := s.queue(queue)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.reclaimLocked(qs, queue, now)

	for {
		id, ok := popFront(&qs.priority)
		if !ok {
			id, ok = popFront(&qs.ready)
		}
		if !ok {
			return nil, nil
		}

		rec, found := s.records[id]
		if !found || rec.job.Status.IsFinal() || rec.job.Status == job.Active {
			continue
		}

		token := uuid.New().String()
		s.leases[id] = lease{token: token, consumer: consumer, expiresAt: now.Add(leaseFor)}
		rec.job.Status = job.Active
		rec.job.AttemptsMade++
		rec.job.UpdatedAt = now
		rec.job.LeaseToken = token

		return s.materialize(rec), nil
	}
}

// reclaimLocked puts active jobs whose lease expired back at the head of the queue
func (s *Store) reclaimLocked(qs *queueState, queue job.Queue, now time.Time) {
	var expired []string
	for id, l := range s.leases {
		if now.Before(l.expiresAt) {
			continue
		}
		rec, ok := s.records[id]
		if !ok || rec.job.Queue != queue {
			continue
		}
		expired = append(expired, id)
	}
	sort.Strings(expired)
	for _, id := range expired {
		delete(s.leases, id)
		rec := s.records[id]
		rec.job.Status = job.Pending
		rec.job.LeaseToken = ""
		qs.ready = append([]string{id}, qs.ready...)
	}
}

func (s *Store) ExtendLease(ctx context.Context, j *job.Job, leaseFor time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.ownedLocked(j)
	if err != nil {
		return err
	}
	l.expiresAt = s.now().Add(leaseFor)
	s.leases[j.ID] = l
	return nil
}

func (s *Store) Complete(ctx context.Context, j *job.Job) error {
	qs, err := s.queue(j.Queue)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedLocked(j); err != nil {
		return err
	}
	delete(s.leases, j.ID)

	now := s.now()
	rec := s.records[j.ID]
	rec.job.Status = job.Completed
	rec.job.LastError = ""
	rec.job.FinishedAt = now
	rec.job.UpdatedAt = now
	rec.job.LeaseToken = ""
	if s.retention.CompletedTTL > 0 {
		rec.expiresAt = now.Add(s.retention.CompletedTTL)
	}
	qs.completed = s.keepLocked(append([]string{j.ID}, qs.completed...), s.retention.CompletedKeep)
	return nil
}

// Retry schedules the job again; a run time not in the future makes it ready immediately
func (s *Store) Retry(ctx context.Context, j *job.Job, runAt time.Time, cause error) error {
	qs, err := s.queue(j.Queue)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedLocked(j); err != nil {
		return err
	}
	delete(s.leases, j.ID)

	now := s.now()
	rec := s.records[j.ID]
	rec.job.LastError = errorText(cause)
	rec.job.UpdatedAt = now
	rec.job.RunAt = runAt
	rec.job.LeaseToken = ""
	if runAt.After(now) {
		rec.job.Status = job.Delayed
		qs.delayed[j.ID] = runAt
	} else {
		rec.job.Status = job.Pending
		s.pushReady(qs, &rec.job)
	}
	return nil
}

func (s *Store) Fail(ctx context.Context, j *job.Job, cause error) error {
	qs, err := s.queue(j.Queue)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedLocked(j); err != nil {
		return err
	}
	delete(s.leases, j.ID)

	now := s.now()
	rec := s.records[j.ID]
	rec.job.Status = job.Failed
	rec.job.LastError = errorText(cause)
	rec.job.FinishedAt = now
	rec.job.UpdatedAt = now
	rec.job.LeaseToken = ""
	if s.retention.FailedTTL > 0 {
		rec.expiresAt = now.Add(s.retention.FailedTTL)
	}
	qs.dead = s.keepLocked(append([]string{j.ID}, qs.dead...), s.retention.FailedKeep)
	return nil
}

func (s *Store) PromoteDue(ctx context.Context, queue job.Queue, now time.Time) (int, error) {
	qs, err := s.queue(queue)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// the promotion tick doubles as the retention sweep
	s.pruneLocked(qs)

	type due struct {
		id    string
		runAt time.Time
	}
	var ready []due
	for id, runAt := range qs.delayed {
		if !runAt.After(now) {
			ready = append(ready, due{id, runAt})
		}
	}
	sort.Slice(ready, func(i, k int) bool { return ready[i].runAt.Before(ready[k].runAt) })

	for _, d := range ready {
		delete(qs.delayed, d.id)
		rec, ok := s.records[d.id]
		if !ok || rec.job.Status != job.Delayed {
			continue
		}
		rec.job.Status = job.Pending
		rec.job.UpdatedAt = now
		s.pushReady(qs, &rec.job)
	}
	return len(ready), nil
}

func (s *Store) Get(ctx context.Context, id string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || s.expiredLocked(rec) {
		return nil, fmt.Errorf("%w: %s", job.ErrNotFound, id)
	}
	return s.materialize(rec), nil
}

func (s *Store) Stats(ctx context.Context, queue job.Queue) (job.QueueStats, error) {
	qs, err := s.queue(queue)
	if err != nil {
		return job.QueueStats{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(qs)
	st := job.QueueStats{Queue: queue}
	for _, rec := range s.records {
		if rec.job.Queue != queue {
			continue
		}
		switch rec.job.Status {
		case job.Pending:
			st.Waiting++
		case job.Active:
			st.Active++
		case job.Delayed:
			st.Delayed++
		}
	}
	st.Completed = int64(len(qs.completed))
	st.Failed = int64(len(qs.dead))
	return st, nil
}

// Dead returns dead-lettered jobs, most recent first
func (s *Store) Dead(ctx context.Context, queue job.Queue, limit int) ([]*job.Job, error) {
	qs, err := s.queue(queue)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]*job.Job, 0, min(limit, len(qs.dead)))
	for _, id := range qs.dead {
		if len(jobs) >= limit {
			break
		}
		rec, ok := s.records[id]
		if !ok || s.expiredLocked(rec) {
			continue
		}
		jobs = append(jobs, s.materialize(rec))
	}
	return jobs, nil
}

func (s *Store) Close(ctx context.Context) error {
	return nil
}

func (s *Store) queue(q job.Queue) (*queueState, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return s.queues[q], nil
}

func (s *Store) pushReady(qs *queueState, j *job.Job) {
	if j.Priority > 0 {
		qs.priority = append(qs.priority, j.ID)
		return
	}
	qs.ready = append(qs.ready, j.ID)
}

// ownedLocked returns the lease if j still holds it
func (s *Store) ownedLocked(j *job.Job) (lease, error) {
	l, ok := s.leases[j.ID]
	if !ok || l.token != j.LeaseToken {
		return lease{}, fmt.Errorf("%w: %s", job.ErrLeaseLost, j.ID)
	}
	return l, nil
}

// keepLocked trims a finished list and forgets the jobs that fall off it
func (s *Store) keepLocked(ids []string, keep int) []string {
	if keep <= 0 || len(ids) <= keep {
		return ids
	}
	for _, id := range ids[keep:] {
		delete(s.records, id)
	}
	return ids[:keep]
}

// pruneLocked forgets finished jobs whose ttl has passed
func (s *Store) pruneLocked(qs *queueState) {
	qs.completed = s.liveLocked(qs.completed)
	qs.dead = s.liveLocked(qs.dead)
}

func (s *Store) liveLocked(ids []string) []string {
	live := ids[:0]
	for _, id := range ids {
		rec, ok := s.records[id]
		if !ok || s.expiredLocked(rec) {
			continue
		}
		live = append(live, id)
	}
	return live
}

func (s *Store) expiredLocked(rec *record) bool {
	if rec.expiresAt.IsZero() || s.now().Before(rec.expiresAt) {
		return false
	}
	delete(s.records, rec.job.ID)
	return true
}

func (s *Store) materialize(rec *record) *job.Job {
	out := rec.job
	p, err := job.DecodePayload(rec.payload)
	if err != nil {
		out.Payload = nil
		out.LastError = err.Error()
	} else {
		out.Payload = p
	}
	return &out
}

func popFront(ids *[]string) (string, bool) {
	if len(*ids) == 0 {
		return "", false
	}
	id := (*ids)[0]
	*ids = (*ids)[1:]
	return id, true
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
