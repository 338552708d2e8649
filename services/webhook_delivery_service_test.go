package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/formrelay/go-formrelay-server/types"
	"github.com/formrelay/go-formrelay-server/util"
	"github.com/google/uuid"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hookURL = "https://hooks.example.com/forms"

func createTestDelivery(t *testing.T, te *testEnv) *types.WebhookDelivery {
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
	require.NoError(t, te.repo.CreateDelivery(context.Background(), d))
	return d
}

func newTestDispatcher(te *testEnv) *WebhookDeliveryService {
	ws := NewWebhookDeliveryService(te.repo, te.env)
	httpmock.ActivateNonDefault(ws.Client().GetClient())
	return ws
}

func TestDeliverSignsAndMarksSuccess(t *testing.T) {
	te := setupTestEnv(t)
	ws := newTestDispatcher(te)
	defer httpmock.DeactivateAndReset()
	d := createTestDelivery(t, te)

	var gotSignature, gotDeliveryID, gotUA, gotCT string
	var gotBody []byte
	httpmock.RegisterResponder("POST", hookURL, func(req *http.Request) (*http.Response, error) {
		gotSignature = req.Header.Get(HeaderSignature)
		gotDeliveryID = req.Header.Get(HeaderDeliveryID)
		gotUA = req.Header.Get("User-Agent")
		gotCT = req.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(req.Body)
		return httpmock.NewStringResponse(200, "ok"), nil
	})

	res, err := ws.Deliver(context.Background(), d.ID, d.URL, []byte(d.Payload), 1)
	require.NoError(t, err)
	assert.True(t, res.Success)

	assert.Equal(t, d.ID, gotDeliveryID)
	assert.Equal(t, "formrelay-webhook/1.0", gotUA)
	assert.Equal(t, "application/json", gotCT)
	assert.Equal(t, d.Payload, string(gotBody))
	assert.NoError(t, util.VerifySignature("secret", gotSignature, gotBody, time.Now(), util.SignatureTolerance))

	stored, _ := te.repo.GetDelivery(context.Background(), d.ID)
	assert.Equal(t, types.DeliveryStatusSuccess, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, "", stored.LastError)
}

func TestDeliverFailureRecordsTruncatedError(t *testing.T) {
	te := setupTestEnv(t)
	ws := newTestDispatcher(te)
	defer httpmock.DeactivateAndReset()
	d := createTestDelivery(t, te)

	httpmock.RegisterResponder("POST", hookURL, httpmock.NewStringResponder(500, strings.Repeat("e", 1000)))

	res, err := ws.Deliver(context.Background(), d.ID, d.URL, []byte(d.Payload), 1)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 500, res.StatusCode)

	stored, _ := te.repo.GetDelivery(context.Background(), d.ID)
	assert.Equal(t, types.DeliveryStatusPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Len(t, stored.LastError, util.MaxErrorLength)
	assert.True(t, strings.HasPrefix(stored.LastError, "HTTP 500"))
}

func TestDeliverNetworkError(t *testing.T) {
	te := setupTestEnv(t)
	ws := newTestDispatcher(te)
	defer httpmock.DeactivateAndReset()
	d := createTestDelivery(t, te)

	httpmock.RegisterResponder("POST", hookURL, httpmock.NewErrorResponder(errors.New("connection reset")))

	res, err := ws.Deliver(context.Background(), d.ID, d.URL, []byte(d.Payload), 1)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "connection reset")
}

func TestDeliverIsIdempotent(t *testing.T) {
	te := setupTestEnv(t)
	ws := newTestDispatcher(te)
	defer httpmock.DeactivateAndReset()
	d := createTestDelivery(t, te)

	httpmock.RegisterResponder("POST", hookURL, httpmock.NewStringResponder(200, "ok"))

	_, err := ws.Deliver(context.Background(), d.ID, d.URL, []byte(d.Payload), 1)
	require.NoError(t, err)
	require.Equal(t, 1, httpmock.GetTotalCallCount())

	// duplicate queue delivery of the same task
	res, err := ws.Deliver(context.Background(), d.ID, d.URL, []byte(d.Payload), 1)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Terminal)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())

	stored, _ := te.repo.GetDelivery(context.Background(), d.ID)
	assert.Equal(t, 1, stored.Attempts)
}

func TestDeliverDoesNotResendRecordedAttempt(t *testing.T) {
	te := setupTestEnv(t)
	ws := newTestDispatcher(te)
	defer httpmock.DeactivateAndReset()
	d := createTestDelivery(t, te)

	httpmock.RegisterResponder("POST", hookURL, httpmock.NewStringResponder(503, "down"))

	_, err := ws.Deliver(context.Background(), d.ID, d.URL, []byte(d.Payload), 1)
	require.NoError(t, err)
	res, err := ws.Deliver(context.Background(), d.ID, d.URL, []byte(d.Payload), 1)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.False(t, res.Terminal)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestDeliverUnknownDelivery(t *testing.T) {
	te := setupTestEnv(t)
	ws := newTestDispatcher(te)
	defer httpmock.DeactivateAndReset()

	_, err := ws.Deliver(context.Background(), "missing", hookURL, []byte(`{}`), 1)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestEnqueueDeduplicatesAttempts(t *testing.T) {
	te := setupTestEnv(t)
	ws := NewWebhookDeliveryService(te.repo, te.env)

	task := &types.WebhookTask{DeliveryID: "d1", URL: hookURL, Payload: []byte(`{}`), Attempt: 2}
	require.NoError(t, ws.Enqueue(context.Background(), task, 4*time.Second))
	require.NoError(t, ws.Enqueue(context.Background(), task, 4*time.Second))

	tasks := te.enqueuer.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "d1:2", tasks[0].ID)
	assert.Equal(t, types.QueueWebhooks, tasks[0].Queue)
	assert.Equal(t, 4*time.Second, tasks[0].Delay)
}

func TestRequeueStalled(t *testing.T) {
	te := setupTestEnv(t)
	ws := NewWebhookDeliveryService(te.repo, te.env)
	ctx := context.Background()

	old := time.Now().UTC().Add(-time.Hour).UnixMilli()
	stalled := &types.WebhookDelivery{ID: "stalled", SubmissionID: "s", URL: hookURL, Payload: `{"a":1}`, Status: types.DeliveryStatusPending, Attempts: 2, Created: old, Updated: old}
	require.NoError(t, te.repo.CreateDelivery(ctx, stalled))
	exhausted := &types.WebhookDelivery{ID: "exhausted", SubmissionID: "s", URL: hookURL, Payload: `{}`, Status: types.DeliveryStatusPending, Attempts: 5, LastError: "HTTP 500", Created: old, Updated: old}
	require.NoError(t, te.repo.CreateDelivery(ctx, exhausted))
	createTestDelivery(t, te)

	ws.RequeueStalled()

	tasks := te.enqueuer.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "stalled", tasks[0].Task.DeliveryID)
	assert.Equal(t, 3, tasks[0].Task.Attempt)
	assert.JSONEq(t, `{"a":1}`, string(tasks[0].Task.Payload))

	got, _ := te.repo.GetDelivery(ctx, "exhausted")
	assert.Equal(t, types.DeliveryStatusFailed, got.Status)
}
