package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/formrelay/go-formrelay-server/global"
	"github.com/formrelay/go-formrelay-server/metrics"
	"github.com/formrelay/go-formrelay-server/repository"
	"github.com/formrelay/go-formrelay-server/types"
	"github.com/formrelay/go-formrelay-server/util"
	"github.com/go-kit/log/level"
	"github.com/go-resty/resty/v2"
	"github.com/hibiken/asynq"
)

const (
	HeaderSignature  = "X-Signature"
	HeaderDeliveryID = "X-Delivery-Id"

	stalledBatchSize = 100
)

// WebhookDeliveryService performs signed webhook delivery attempts and records their outcome.
// It never decides retry policy.
type WebhookDeliveryService struct {
	deliveryRepo repository.DeliveryRepository
	restyClient  *resty.Client
	env          *types.Environment
	now          func() time.Time
}

func NewWebhookDeliveryService(deliveryRepo repository.DeliveryRepository, env *types.Environment) *WebhookDeliveryService {
	client := resty.New().
		SetTimeout(time.Duration(global.Conf.Webhook.TimeoutSeconds)*time.Second).
		SetHeader("User-Agent", global.Conf.Webhook.UserAgent)
	return &WebhookDeliveryService{deliveryRepo: deliveryRepo, restyClient: client, env: env, now: time.Now}
}

// Client exposes the underlying http client (used to attach mock transports)
func (ws *WebhookDeliveryService) Client() *resty.Client {
	return ws.restyClient
}

// Deliver performs attempt number `attempt` of the delivery lineage.
// Already successful or failed deliveries and attempts that were already recorded are not re-sent.
func (ws *WebhookDeliveryService) Deliver(ctx context.Context, deliveryID string, url string, payload []byte, attempt int) (*types.DeliveryResult, error) {
	delivery, err := ws.deliveryRepo.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery %s: %w", deliveryID, err)
	}
	switch delivery.Status {
	case types.DeliveryStatusSuccess:
		return &types.DeliveryResult{Success: true, Terminal: true}, nil
	case types.DeliveryStatusFailed:
		return &types.DeliveryResult{Success: false, Error: delivery.LastError, Terminal: true}, nil
	}
	if delivery.Attempts >= attempt {
		// outcome of this attempt is already persisted, only the follow-up scheduling may be missing
		level.Info(global.Logger).Log("msg", "webhook attempt already recorded", "deliveryId", deliveryID, "attempt", attempt)
		return &types.DeliveryResult{Success: false, Error: delivery.LastError}, nil
	}

	result := ws.post(ctx, deliveryID, url, payload)

	status := types.DeliveryStatusPending
	lastError := util.Truncate(result.Error, util.MaxErrorLength)
	if result.Success {
		status = types.DeliveryStatusSuccess
		lastError = ""
		metrics.WebhookAttemptsMetricsTotal.WithLabelValues("success").Inc()
	} else {
		metrics.WebhookAttemptsMetricsTotal.WithLabelValues("failure").Inc()
	}
	result.Error = lastError

	if rErr := ws.deliveryRepo.RecordAttempt(ctx, deliveryID, attempt, status, lastError); rErr != nil {
		if errors.Is(rErr, types.ErrConflict) {
			// a concurrent consumer recorded this attempt first
			level.Warn(global.Logger).Log("msg", "webhook attempt recorded concurrently", "deliveryId", deliveryID, "attempt", attempt)
			return result, nil
		}
		return nil, fmt.Errorf("failed to record attempt %d of delivery %s: %w", attempt, deliveryID, rErr)
	}
	return result, nil
}

func (ws *WebhookDeliveryService) post(ctx context.Context, deliveryID string, url string, payload []byte) *types.DeliveryResult {
	start := time.Now()
	defer func() {
		metrics.WebhookDeliveryLatency.Observe(float64(time.Since(start).Milliseconds()))
	}()

	timestamp := ws.now().UTC().Unix()
	response, err := ws.restyClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(HeaderDeliveryID, deliveryID).
		SetHeader(HeaderSignature, util.SignatureHeader(global.Conf.Webhook.SigningSecret, timestamp, payload)).
		SetBody(payload).
		Post(url)
	if err != nil {
		level.Warn(global.Logger).Log("msg", "webhook delivery failed", "deliveryId", deliveryID, "err", err)
		return &types.DeliveryResult{Success: false, Error: err.Error()}
	}
	if response.StatusCode() < 200 || response.StatusCode() > 299 {
		level.Warn(global.Logger).Log("msg", "webhook receiver rejected delivery", "deliveryId", deliveryID, "status", response.StatusCode())
		return &types.DeliveryResult{
			Success:    false,
			StatusCode: response.StatusCode(),
			Error:      fmt.Sprintf("HTTP %d: %s", response.StatusCode(), response.String()),
		}
	}
	return &types.DeliveryResult{Success: true, StatusCode: response.StatusCode()}
}

// Enqueue schedules attempt task.Attempt after delay. Enqueueing the same attempt twice is a no-op.
func (ws *WebhookDeliveryService) Enqueue(ctx context.Context, task *types.WebhookTask, delay time.Duration) error {
	if ws.env == nil || ws.env.TaskClient == nil {
		return errors.New("task client not configured")
	}
	t, err := types.NewWebhookDeliveryTask(task)
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.Queue(types.QueueWebhooks),
		asynq.TaskID(fmt.Sprintf("%s:%d", task.DeliveryID, task.Attempt)),
		asynq.MaxRetry(3),
		asynq.Timeout(time.Duration(global.Conf.Webhook.TimeoutSeconds+30) * time.Second),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	_, err = ws.env.TaskClient.EnqueueContext(ctx, t, opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("failed to enqueue webhook attempt %d of %s: %w", task.Attempt, task.DeliveryID, err)
	}
	return nil
}

// RequeueStalled re-enqueues pending deliveries whose next attempt is overdue (lost task or failed enqueue).
// Lineages that already used every attempt are marked failed.
func (ws *WebhookDeliveryService) RequeueStalled() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	olderThan := ws.now().UTC().Add(-time.Duration(global.Conf.Webhook.StalledAfterMinutes) * time.Minute).UnixMilli()
	stalled, err := ws.deliveryRepo.ListStalled(ctx, olderThan, stalledBatchSize)
	if err != nil {
		level.Error(global.Logger).Log("msg", "failed to list stalled webhook deliveries", "err", err)
		return
	}
	for _, d := range stalled {
		next := d.Attempts + 1
		if next > global.Conf.Webhook.MaxAttempts {
			if mErr := ws.deliveryRepo.MarkFailed(ctx, d.ID, d.LastError); mErr != nil && !errors.Is(mErr, types.ErrConflict) {
				level.Error(global.Logger).Log("msg", "failed to mark stalled delivery failed", "deliveryId", d.ID, "err", mErr)
			}
			continue
		}
		task := &types.WebhookTask{DeliveryID: d.ID, URL: d.URL, Payload: []byte(d.Payload), Attempt: next}
		if eErr := ws.Enqueue(ctx, task, 0); eErr != nil {
			level.Error(global.Logger).Log("msg", "failed to requeue stalled delivery", "deliveryId", d.ID, "err", eErr)
			continue
		}
		level.Info(global.Logger).Log("msg", "requeued stalled webhook delivery", "deliveryId", d.ID, "attempt", next)
	}
}
