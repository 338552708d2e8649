package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/formrelay/go-formrelay-server/global"
	"github.com/formrelay/go-formrelay-server/metrics"
	"github.com/formrelay/go-formrelay-server/repository"
	"github.com/formrelay/go-formrelay-server/services"
	"github.com/formrelay/go-formrelay-server/types"
	"github.com/go-kit/log/level"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
)

// WebhookQueue consumes webhook delivery tasks and schedules retries with exponential backoff
type WebhookQueue struct {
	dispatcher   *services.WebhookDeliveryService
	deliveryRepo repository.DeliveryRepository
	validate     *validator.Validate
	now          func() time.Time
}

func NewWebhookQueue(dispatcher *services.WebhookDeliveryService, deliveryRepo repository.DeliveryRepository) *WebhookQueue {
	return &WebhookQueue{
		dispatcher:   dispatcher,
		deliveryRepo: deliveryRepo,
		validate:     validator.New(),
		now:          time.Now,
	}
}

// BackoffDelay returns the delay before attempt+1: base * 2^attempt
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(1<<attempt)
}

// ProcessWebhookTask runs one delivery attempt. Retries are new tasks (attempt+1) with delayed
// visibility, an error returned here only means the attempt outcome couldn't be handled.
func (wq *WebhookQueue) ProcessWebhookTask(ctx context.Context, t *asynq.Task) error {
	var task types.WebhookTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if err := wq.validate.Struct(task); err != nil {
		return fmt.Errorf("invalid webhook task: %v: %w", err, asynq.SkipRetry)
	}

	result, err := wq.dispatcher.Deliver(ctx, task.DeliveryID, task.URL, task.Payload, task.Attempt)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	if result.Success || result.Terminal {
		return nil
	}

	maxAttempts := global.Conf.Webhook.MaxAttempts
	if task.Attempt >= maxAttempts {
		if mErr := wq.deliveryRepo.MarkFailed(ctx, task.DeliveryID, result.Error); mErr != nil {
			if errors.Is(mErr, types.ErrConflict) {
				return nil
			}
			return fmt.Errorf("failed to mark delivery %s failed: %w", task.DeliveryID, mErr)
		}
		metrics.WebhookFailedMetricsCount.Inc()
		level.Warn(global.Logger).Log("msg", "webhook delivery failed permanently", "deliveryId", task.DeliveryID, "attempts", task.Attempt, "err", result.Error)
		return nil
	}

	delay := BackoffDelay(time.Duration(global.Conf.Webhook.BaseDelaySeconds)*time.Second, task.Attempt)
	nextRetryAt := wq.now().UTC().Add(delay).UnixMilli()
	if sErr := wq.deliveryRepo.ScheduleRetry(ctx, task.DeliveryID, nextRetryAt); sErr != nil && !errors.Is(sErr, types.ErrConflict) {
		return fmt.Errorf("failed to schedule retry of %s: %w", task.DeliveryID, sErr)
	}
	next := task
	next.Attempt = task.Attempt + 1
	if eErr := wq.dispatcher.Enqueue(ctx, &next, delay); eErr != nil {
		return eErr
	}
	level.Info(global.Logger).Log("msg", "webhook delivery retry scheduled", "deliveryId", task.DeliveryID, "attempt", next.Attempt, "delay", delay)
	return nil
}
