package repository

import (
	"context"

	"github.com/formrelay/go-formrelay-server/types"
)

// FormRepository stores recipient forms
type FormRepository interface {
	CreateForm(ctx context.Context, form *types.RecipientForm) error
	GetFormByID(ctx context.Context, id string) (*types.RecipientForm, error)
	GetFormByEmail(ctx context.Context, email string) (*types.RecipientForm, error)
	GetFormByHash(ctx context.Context, hash string) (*types.RecipientForm, error)
	SetVerified(ctx context.Context, id string, verifiedAt int64) error
	UpdateSettings(ctx context.Context, id string, settings types.FormSettings) error
}

// SubmissionRepository stores parsed submissions (including spam, for audit)
type SubmissionRepository interface {
	SaveSubmission(ctx context.Context, sub *types.Submission) error
	GetSubmission(ctx context.Context, id string) (*types.Submission, error)
}

// DeliveryRepository is the single source of truth of webhook delivery state.
// Attempt updates are compare-and-update on (status = pending, attempts < attempt).
type DeliveryRepository interface {
	CreateDelivery(ctx context.Context, d *types.WebhookDelivery) error
	GetDelivery(ctx context.Context, id string) (*types.WebhookDelivery, error)
	RecordAttempt(ctx context.Context, id string, attempt int, status types.DeliveryStatus, lastError string) error
	ScheduleRetry(ctx context.Context, id string, nextRetryAt int64) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	ListStalled(ctx context.Context, olderThan int64, limit int) ([]*types.WebhookDelivery, error)
}
