package jobqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueueDefaults(t *testing.T) {
	tests := []struct {
		name            string
		opts            Options
		expectedWorkers int
		expectedRetries int
	}{
		{"Valid worker count", Options{Workers: 5, MaxRetries: 3}, 5, 3},
		{"Zero workers", Options{Workers: 0}, 2, 0},
		{"Negative retries", Options{Workers: 1, MaxRetries: -1}, 1, DefaultMaxRetries},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQueue(nil, tt.opts)
			assert.Equal(t, tt.expectedWorkers, q.opts.Workers)
			assert.Equal(t, tt.expectedRetries, q.opts.MaxRetries)
			assert.Equal(t, DefaultRetryDelay, q.opts.RetryDelay)
			assert.Equal(t, time.Second, q.opts.PollTimeout)
			assert.False(t, q.IsRunning())
		})
	}
}

func TestConstants(t *testing.T) {
	assert.Equal(t, "ppss:job:", JobKeyPrefix)
	assert.Equal(t, "ppss:queue", JobQueueKey)
	assert.Equal(t, "ppss:processing", JobProcessingKey)
	assert.Equal(t, "ppss:delayed", JobDelayedKey)
	assert.Equal(t, "ppss:dead", JobDeadKey)
	assert.Equal(t, "paypal_webhook", string(JobTypePayPalWebhook))
}

func TestQueue_EnqueueDequeueDelete(t *testing.T) {
	q, mr := newTestQueue(t, Options{MaxRetries: 3})
	ctx := context.Background()

	body := []byte(`{"id":"WH-1","event_type":"PAYMENT.SALE.COMPLETED"}`)
	job, err := q.Enqueue(ctx, JobTypePayPalWebhook, body)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, 3, job.MaxRetries)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, string(body), got.Payload)
	assert.Equal(t, JobStatusProcessing, got.Status)
	assert.NotNil(t, got.ProcessedAt)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Processing: 1}, stats)

	require.NoError(t, q.Delete(ctx, got))
	assert.False(t, mr.Exists(JobKeyPrefix+job.ID))

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q, _ := newTestQueue(t, Options{})

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_DequeueDropsMissingDocument(t *testing.T) {
	q, mr := newTestQueue(t, Options{})
	ctx := context.Background()

	job, err := q.Enqueue(ctx, JobTypePayPalWebhook, []byte(`{}`))
	require.NoError(t, err)
	mr.Del(JobKeyPrefix + job.ID)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Processing)
}

func TestQueue_DequeueDropsCorruptDocument(t *testing.T) {
	q, mr := newTestQueue(t, Options{})
	ctx := context.Background()

	job, err := q.Enqueue(ctx, JobTypePayPalWebhook, []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, mr.Set(JobKeyPrefix+job.ID, "{not json"))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Processing)
}

func TestQueue_DequeueKeepsJobOnReadError(t *testing.T) {
	q, _ := newTestQueue(t, Options{VisibilityTimeout: 5 * time.Minute})
	start := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	q.now = (&fixedClock{t: start}).now
	ctx := context.Background()

	job, err := q.Enqueue(ctx, JobTypePayPalWebhook, []byte(`{"id":"WH-1"}`))
	require.NoError(t, err)

	failGets(q, 1)
	got, err := q.Dequeue(ctx)
	require.Error(t, err)
	assert.Nil(t, got)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Processing: 1}, stats)

	n, err := q.RecoverStuck(ctx, start.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, `{"id":"WH-1"}`, got.Payload)
}

func TestQueue_ReleaseSchedulesRetryWithBackoff(t *testing.T) {
	q, mr := newTestQueue(t, Options{MaxRetries: 3, RetryDelay: time.Minute})
	clock := &fixedClock{t: time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)}
	q.now = clock.now
	ctx := context.Background()

	_, err := q.Enqueue(ctx, JobTypePayPalWebhook, []byte(`{}`))
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Release(ctx, job, errors.New("db down")))
	assert.Equal(t, JobStatusRetrying, job.Status)
	assert.Equal(t, 1, job.RetryCount)

	score, err := mr.ZScore(JobDelayedKey, job.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(clock.t.Add(time.Minute).UnixMilli()), score)

	// not due yet
	n, err := q.PromoteDue(ctx, clock.t.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = q.PromoteDue(ctx, clock.t.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, "db down", again.ErrorMsg)

	// second failure waits twice as long
	require.NoError(t, q.Release(ctx, again, errors.New("still down")))
	score, err = mr.ZScore(JobDelayedKey, job.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(clock.t.Add(2*time.Minute).UnixMilli()), score)
}

func TestQueue_ReleaseDeadLettersAfterMaxRetries(t *testing.T) {
	q, mr := newTestQueue(t, Options{MaxRetries: 1, RetryDelay: time.Millisecond})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, JobTypePayPalWebhook, []byte(`{"id":"WH-dead"}`))
	require.NoError(t, err)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Release(ctx, job, errors.New("first")))

	_, err = q.PromoteDue(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, q.Release(ctx, job, errors.New("second")))

	assert.Equal(t, JobStatusDead, job.Status)
	dead, err := mr.List(JobDeadKey)
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, dead)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"WH-dead"}`, stored.Payload)
	assert.Equal(t, "second", stored.ErrorMsg)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Dead: 1}, stats)
}

func TestQueue_RecoverStuck(t *testing.T) {
	q, _ := newTestQueue(t, Options{VisibilityTimeout: 5 * time.Minute})
	start := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	clock := &fixedClock{t: start}
	q.now = clock.now
	ctx := context.Background()

	_, err := q.Enqueue(ctx, JobTypePayPalWebhook, []byte(`{}`))
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	n, err := q.RecoverStuck(ctx, start.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = q.RecoverStuck(ctx, start.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Pending: 1}, stats)

	recovered, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, recovered.Status)
}

func TestQueue_RecoverStuckKeepsUnreadableJob(t *testing.T) {
	q, _ := newTestQueue(t, Options{VisibilityTimeout: 5 * time.Minute})
	start := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	q.now = (&fixedClock{t: start}).now
	ctx := context.Background()

	_, err := q.Enqueue(ctx, JobTypePayPalWebhook, []byte(`{}`))
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	failGets(q, 1)
	n, err := q.RecoverStuck(ctx, start.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Processing)

	n, err = q.RecoverStuck(ctx, start.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueue_WorkersProcessAndRetry(t *testing.T) {
	q, _ := newTestQueue(t, Options{
		Workers:         2,
		MaxRetries:      3,
		RetryDelay:      10 * time.Millisecond,
		PromoteInterval: 20 * time.Millisecond,
	})

	var attempts int32
	done := make(chan string, 1)
	q.Register(JobTypePayPalWebhook, ProcessorFunc(func(ctx context.Context, job *Job) error {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return errors.New("transient")
		}
		done <- job.Payload
		return nil
	}))

	ctx := context.Background()
	q.Start(ctx)
	defer q.Stop()
	assert.True(t, q.IsRunning())

	_, err := q.Enqueue(ctx, JobTypePayPalWebhook, []byte(`{"id":"WH-retry"}`))
	require.NoError(t, err)

	select {
	case payload := <-done:
		assert.Equal(t, `{"id":"WH-retry"}`, payload)
	case <-time.After(10 * time.Second):
		t.Fatal("job was not processed")
	}

	require.Eventually(t, func() bool {
		stats, err := q.Stats(ctx)
		return err == nil && stats == Stats{}
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestQueue_UnknownTypeIsReleased(t *testing.T) {
	q, _ := newTestQueue(t, Options{MaxRetries: 0})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, JobType("mystery"), []byte(`{}`))
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)

	q.handle(ctx, 0, job)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Dead: 1}, stats)
}

func TestQueue_ProcessorPanicIsRecovered(t *testing.T) {
	q, _ := newTestQueue(t, Options{MaxRetries: 2})
	q.Register(JobTypePayPalWebhook, ProcessorFunc(func(ctx context.Context, job *Job) error {
		panic("boom")
	}))
	ctx := context.Background()

	_, err := q.Enqueue(ctx, JobTypePayPalWebhook, []byte(`{}`))
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)

	q.handle(ctx, 0, job)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRetrying, stored.Status)
	assert.Contains(t, stored.ErrorMsg, "boom")
}
