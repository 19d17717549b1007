package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Redis keys
	JobKeyPrefix     = "ppss:job:"
	JobQueueKey      = "ppss:queue"
	JobProcessingKey = "ppss:processing"
	JobDelayedKey    = "ppss:delayed"
	JobDeadKey       = "ppss:dead"

	DefaultMaxRetries = 5
	DefaultRetryDelay = 30 * time.Second
	JobTTL            = 7 * 24 * time.Hour
	DeadJobTTL        = 30 * 24 * time.Hour
)

// ErrCorruptJob is returned by GetJob when the stored document cannot be
// decoded.
var ErrCorruptJob = errors.New("corrupt job document")

// unrecoverable reports whether a GetJob error means the job data is gone for
// good. Any other error is treated as transient.
func unrecoverable(err error) bool {
	return errors.Is(err, redis.Nil) || errors.Is(err, ErrCorruptJob)
}

// promoteScript moves every due id from the delayed set to the pending list
// in one step, so concurrent promoters never push an id twice.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('LPUSH', KEYS[2], id)
end
return #ids
`)

type Options struct {
	Workers    int
	MaxRetries int
	// RetryDelay is multiplied by the attempt number.
	RetryDelay time.Duration
	// VisibilityTimeout after which a job left in processing is recovered.
	VisibilityTimeout time.Duration
	PromoteInterval   time.Duration
	SweepInterval     time.Duration
	PollTimeout       time.Duration
}

func (o *Options) setDefaults() {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 10 * time.Minute
	}
	if o.PromoteInterval <= 0 {
		o.PromoteInterval = time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	if o.PollTimeout < time.Second {
		o.PollTimeout = time.Second
	}
}

// Queue is an at-least-once job queue on Redis lists.
type Queue struct {
	client     *redis.Client
	opts       Options
	processors map[JobType]Processor
	now        func() time.Time

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewQueue creates a new job queue
func NewQueue(client *redis.Client, opts Options) *Queue {
	opts.setDefaults()
	return &Queue{
		client:     client,
		opts:       opts,
		processors: make(map[JobType]Processor),
		now:        time.Now,
	}
}

// Register sets the processor for jobType. Call before Start.
func (q *Queue) Register(jobType JobType, p Processor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processors[jobType] = p
}

// Enqueue stores payload untouched and makes it visible to workers.
func (q *Queue) Enqueue(ctx context.Context, jobType JobType, payload []byte) (*Job, error) {
	now := q.now()
	job := &Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    string(payload),
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: q.opts.MaxRetries,
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL)
	pipe.LPush(ctx, JobQueueKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Infof("[JobQueue] Enqueued job %s (Type: %s)", job.ID, job.Type)
	return job, nil
}

// Dequeue moves the next job to the processing list. It returns nil, nil
// when nothing arrived within the poll timeout.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	id, err := q.client.BRPopLPush(ctx, JobQueueKey, JobProcessingKey, q.opts.PollTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	job, err := q.GetJob(ctx, id)
	if err != nil {
		if !unrecoverable(err) {
			// the id stays in processing for RecoverStuck
			return nil, fmt.Errorf("failed to read job %s: %w", id, err)
		}
		log.Errorf("[JobQueue] Dropping job %s without data: %v", id, err)
		_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
		return nil, nil
	}

	job.MarkAsProcessing(q.now())
	if err := q.save(ctx, job, JobTTL); err != nil {
		return nil, err
	}
	return job, nil
}

// Delete acknowledges a processed job and removes all its traces.
func (q *Queue) Delete(ctx context.Context, job *Job) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, JobProcessingKey, 1, job.ID)
	pipe.Del(ctx, JobKeyPrefix+job.ID)
	_, err := pipe.Exec(ctx)
	return err
}

// Release records a failed attempt. The job becomes visible again after
// RetryCount x RetryDelay, or moves to the dead-letter list once its retries
// are used up.
func (q *Queue) Release(ctx context.Context, job *Job, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	now := q.now()
	job.MarkAsFailed(msg, now)

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, JobProcessingKey, 1, job.ID)
	if job.Status == JobStatusDead {
		pipe.Set(ctx, JobKeyPrefix+job.ID, data, DeadJobTTL)
		pipe.LPush(ctx, JobDeadKey, job.ID)
	} else {
		visibleAt := now.Add(time.Duration(job.RetryCount) * q.opts.RetryDelay)
		pipe.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL)
		pipe.ZAdd(ctx, JobDelayedKey, redis.Z{Score: float64(visibleAt.UnixMilli()), Member: job.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to release job %s: %w", job.ID, err)
	}

	if job.Status == JobStatusDead {
		log.Errorf("[JobQueue] Job %s moved to dead letters after %d attempts: %s", job.ID, job.RetryCount, msg)
	} else {
		log.Warnf("[JobQueue] Job %s failed (attempt %d/%d), retrying later: %s", job.ID, job.RetryCount, job.MaxRetries+1, msg)
	}
	return nil
}

// PromoteDue moves delayed jobs whose visibility time has passed back to the
// pending list.
func (q *Queue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{JobDelayedKey, JobQueueKey},
		now.UnixMilli(), 100,
	).Int()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Debugf("[JobQueue] Promoted %d delayed jobs", n)
	}
	return n, nil
}

// RecoverStuck returns jobs that sat in processing longer than the
// visibility timeout (crashed worker) to the pending list.
func (q *Queue) RecoverStuck(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.client.LRange(ctx, JobProcessingKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			if !unrecoverable(err) {
				log.Errorf("[JobQueue] Sweeper could not read job %s, retrying next run: %v", id, err)
				continue
			}
			log.Errorf("[JobQueue] Sweeper dropping job %s without data: %v", id, err)
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			continue
		}

		started := job.UpdatedAt
		if job.ProcessedAt != nil {
			started = *job.ProcessedAt
		}
		if now.Sub(started) <= q.opts.VisibilityTimeout {
			continue
		}

		log.Warnf("[JobQueue] Recovering stuck job %s (type=%s), age=%s", job.ID, job.Type, now.Sub(started))
		job.Status = JobStatusPending
		job.ErrorMsg = "recovered by sweeper"
		job.UpdatedAt = now
		data, err := json.Marshal(job)
		if err != nil {
			continue
		}

		pipe := q.client.TxPipeline()
		pipe.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL)
		pipe.LRem(ctx, JobProcessingKey, 1, job.ID)
		pipe.RPush(ctx, JobQueueKey, job.ID)
		if _, err := pipe.Exec(ctx); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	data, err := q.client.Get(ctx, JobKeyPrefix+jobID).Result()
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptJob, err)
	}
	return &job, nil
}

// Stats returns the size of every list the queue uses.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, JobQueueKey)
	processing := pipe.LLen(ctx, JobProcessingKey)
	delayed := pipe.ZCard(ctx, JobDelayedKey)
	dead := pipe.LLen(ctx, JobDeadKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, err
	}
	return Stats{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Delayed:    delayed.Val(),
		Dead:       dead.Val(),
	}, nil
}

func (q *Queue) save(ctx context.Context, job *Job, ttl time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return q.client.Set(ctx, JobKeyPrefix+job.ID, data, ttl).Err()
}

// Start launches the workers, the delayed-job promoter and the stuck sweeper.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}
	ctx, q.cancel = context.WithCancel(ctx)
	q.running = true
	log.Infof("[JobQueue] Starting %d workers", q.opts.Workers)

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}

	q.wg.Add(2)
	go q.every(ctx, "promoter", q.opts.PromoteInterval, func(ctx context.Context) error {
		_, err := q.PromoteDue(ctx, q.now())
		return err
	})
	go q.every(ctx, "stuck sweeper", q.opts.SweepInterval, func(ctx context.Context) error {
		_, err := q.RecoverStuck(ctx, q.now())
		return err
	})
}

// Stop stops the workers and waits for running jobs to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	log.Info("[JobQueue] Stopping workers...")
	q.cancel()
	q.running = false
	q.mu.Unlock()

	q.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

// IsRunning returns whether the workers are active
func (q *Queue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *Queue) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debugf("[JobQueue] %s stopping", name)
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				log.Errorf("[JobQueue] %s error: %v", name, err)
			}
		}
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	log.Debugf("[JobQueue] Worker %d started", id)

	for {
		if ctx.Err() != nil {
			log.Debugf("[JobQueue] Worker %d stopping", id)
			return
		}

		job, err := q.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf("[JobQueue] Worker %d: Error dequeuing job: %v", id, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}

		// finish the job even if shutdown begins meanwhile
		q.handle(context.WithoutCancel(ctx), id, job)
	}
}

func (q *Queue) handle(ctx context.Context, workerID int, job *Job) {
	log.Debugf("[JobQueue] Worker %d processing job %s (Type: %s)", workerID, job.ID, job.Type)

	if err := q.run(ctx, job); err != nil {
		if rerr := q.Release(ctx, job, err); rerr != nil {
			log.Errorf("[JobQueue] %v", rerr)
		}
		return
	}

	if err := q.Delete(ctx, job); err != nil {
		log.Errorf("[JobQueue] Failed to remove completed job %s: %v", job.ID, err)
		return
	}
	log.Infof("[JobQueue] Job %s completed successfully", job.ID)
}

func (q *Queue) run(ctx context.Context, job *Job) (err error) {
	q.mu.Lock()
	p, ok := q.processors[job.Type]
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return p.Process(ctx, job)
}
