package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/formrelay/go-formrelay-server/email"
	"github.com/formrelay/go-formrelay-server/global"
	"github.com/formrelay/go-formrelay-server/repository"
	"github.com/formrelay/go-formrelay-server/types"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type enqueuedTask struct {
	Task  types.WebhookTask
	ID    string
	Queue string
	Delay time.Duration
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []enqueuedTask
	ids   map[string]bool
	err   error
}

func newFakeEnqueuer() *fakeEnqueuer {
	return &fakeEnqueuer{ids: map[string]bool{}}
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	e := enqueuedTask{}
	for _, o := range opts {
		switch o.Type() {
		case asynq.ProcessInOpt:
			e.Delay = o.Value().(time.Duration)
		case asynq.TaskIDOpt:
			e.ID = o.Value().(string)
		case asynq.QueueOpt:
			e.Queue = o.Value().(string)
		}
	}
	if f.ids[e.ID] {
		return nil, asynq.ErrTaskIDConflict
	}
	f.ids[e.ID] = true
	if err := json.Unmarshal(t.Payload(), &e.Task); err != nil {
		return nil, err
	}
	f.tasks = append(f.tasks, e)
	return &asynq.TaskInfo{ID: e.ID, Queue: e.Queue, Type: t.Type()}, nil
}

func (f *fakeEnqueuer) Tasks() []enqueuedTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]enqueuedTask{}, f.tasks...)
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []*email.Message
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, msg *email.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) Sent() []*email.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*email.Message{}, m.sent...)
}

type testEnv struct {
	env      *types.Environment
	redis    *miniredis.Miniredis
	enqueuer *fakeEnqueuer
	repo     *repository.SQLRepository
}

func setupTestEnv(t *testing.T) *testEnv {
	global.Conf = global.Config{}
	global.Conf.Forms.EmailSalt = "salt"
	global.Conf.Forms.BaseURL = "https://forms.example.com"
	global.Conf.Webhook.SigningSecret = "secret"
	global.Conf.ApplyDefaults()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	env := types.NewEnvironment(client)
	enq := newFakeEnqueuer()
	env.TaskClient = enq

	repo, err := repository.NewSQLRepository("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return &testEnv{env: env, redis: mr, enqueuer: enq, repo: repo}
}
