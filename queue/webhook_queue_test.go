package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/formrelay/go-formrelay-server/global"
	"github.com/formrelay/go-formrelay-server/repository"
	"github.com/formrelay/go-formrelay-server/services"
	"github.com/formrelay/go-formrelay-server/types"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jarcoal/httpmock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hookURL = "https://hooks.example.com/forms"

type scheduled struct {
	task  *asynq.Task
	delay time.Duration
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	tasks []scheduled
	ids   map[string]bool
}

func (r *recordingEnqueuer) EnqueueContext(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := scheduled{task: t}
	id := ""
	for _, o := range opts {
		switch o.Type() {
		case asynq.ProcessInOpt:
			s.delay = o.Value().(time.Duration)
		case asynq.TaskIDOpt:
			id = o.Value().(string)
		}
	}
	if r.ids[id] {
		return nil, asynq.ErrTaskIDConflict
	}
	r.ids[id] = true
	r.tasks = append(r.tasks, s)
	return &asynq.TaskInfo{ID: id}, nil
}

func (r *recordingEnqueuer) pop() (scheduled, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tasks) == 0 {
		return scheduled{}, false
	}
	s := r.tasks[0]
	r.tasks = r.tasks[1:]
	return s, true
}

type queueFixture struct {
	queue    *WebhookQueue
	repo     *repository.SQLRepository
	enqueuer *recordingEnqueuer
	delivery *types.WebhookDelivery
}

func setupQueue(t *testing.T) *queueFixture {
	global.Conf = global.Config{}
	global.Conf.Webhook.SigningSecret = "secret"
	global.Conf.ApplyDefaults()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	env := types.NewEnvironment(client)
	enq := &recordingEnqueuer{ids: map[string]bool{}}
	env.TaskClient = enq

	repo, err := repository.NewSQLRepository("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	dispatcher := services.NewWebhookDeliveryService(repo, env)
	httpmock.ActivateNonDefault(dispatcher.Client().GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	now := time.Now().UTC().UnixMilli()
	d := &types.WebhookDelivery{
		ID:           uuid.NewString(),
		SubmissionID: uuid.NewString(),
		URL:          hookURL,
		Payload:      `{"data":{"name":"A"},"meta":{}}`,
		Status:       types.DeliveryStatusPending,
		Created:      now,
		Updated:      now,
	}
	require.NoError(t, repo.CreateDelivery(context.Background(), d))

	return &queueFixture{queue: NewWebhookQueue(dispatcher, repo), repo: repo, enqueuer: enq, delivery: d}
}

func (f *queueFixture) firstTask(t *testing.T) *asynq.Task {
	task, err := types.NewWebhookDeliveryTask(&types.WebhookTask{
		DeliveryID: f.delivery.ID,
		URL:        f.delivery.URL,
		Payload:    json.RawMessage(f.delivery.Payload),
		Attempt:    1,
	})
	require.NoError(t, err)
	return task
}

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	assert.Equal(t, 2*time.Second, BackoffDelay(base, 1))
	assert.Equal(t, 4*time.Second, BackoffDelay(base, 2))
	assert.Equal(t, 8*time.Second, BackoffDelay(base, 3))
	assert.Equal(t, 16*time.Second, BackoffDelay(base, 4))
	assert.Equal(t, 32*time.Second, BackoffDelay(base, 5))
}

func TestProcessWebhookTaskExhaustsAttempts(t *testing.T) {
	f := setupQueue(t)
	httpmock.RegisterResponder("POST", hookURL, httpmock.NewStringResponder(503, "unavailable"))
	ctx := context.Background()

	delays := []time.Duration{}
	require.NoError(t, f.queue.ProcessWebhookTask(ctx, f.firstTask(t)))
	for {
		next, ok := f.enqueuer.pop()
		if !ok {
			break
		}
		delays = append(delays, next.delay)
		require.NoError(t, f.queue.ProcessWebhookTask(ctx, next.task))
	}

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, delays)
	assert.Equal(t, 5, httpmock.GetTotalCallCount())

	stored, err := f.repo.GetDelivery(ctx, f.delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DeliveryStatusFailed, stored.Status)
	assert.Equal(t, 5, stored.Attempts)
	assert.Equal(t, "HTTP 503: unavailable", stored.LastError)
	assert.Nil(t, stored.NextRetryAt)
}

func TestProcessWebhookTaskSchedulesRetry(t *testing.T) {
	f := setupQueue(t)
	httpmock.RegisterResponder("POST", hookURL, httpmock.NewStringResponder(500, "boom"))
	ctx := context.Background()

	require.NoError(t, f.queue.ProcessWebhookTask(ctx, f.firstTask(t)))

	next, ok := f.enqueuer.pop()
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, next.delay)
	var task types.WebhookTask
	require.NoError(t, json.Unmarshal(next.task.Payload(), &task))
	assert.Equal(t, 2, task.Attempt)

	stored, _ := f.repo.GetDelivery(ctx, f.delivery.ID)
	assert.Equal(t, types.DeliveryStatusPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.NextRetryAt)

	// redelivery of the same attempt neither re-sends nor duplicates the follow-up
	require.NoError(t, f.queue.ProcessWebhookTask(ctx, f.firstTask(t)))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	_, ok = f.enqueuer.pop()
	assert.False(t, ok)
}

func TestProcessWebhookTaskSuccessStops(t *testing.T) {
	f := setupQueue(t)
	httpmock.RegisterResponder("POST", hookURL, httpmock.NewStringResponder(204, ""))
	ctx := context.Background()

	require.NoError(t, f.queue.ProcessWebhookTask(ctx, f.firstTask(t)))
	_, ok := f.enqueuer.pop()
	assert.False(t, ok)

	stored, _ := f.repo.GetDelivery(ctx, f.delivery.ID)
	assert.Equal(t, types.DeliveryStatusSuccess, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
}

func TestProcessWebhookTaskBadPayload(t *testing.T) {
	f := setupQueue(t)

	err := f.queue.ProcessWebhookTask(context.Background(), asynq.NewTask(types.QueueTypeWebhookDeliver, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = f.queue.ProcessWebhookTask(context.Background(), asynq.NewTask(types.QueueTypeWebhookDeliver, []byte(`{"deliveryId":"x"}`)))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestProcessWebhookTaskUnknownDelivery(t *testing.T) {
	f := setupQueue(t)
	task, err := types.NewWebhookDeliveryTask(&types.WebhookTask{DeliveryID: "missing", URL: hookURL, Payload: json.RawMessage(`{}`), Attempt: 1})
	require.NoError(t, err)

	err = f.queue.ProcessWebhookTask(context.Background(), task)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}
