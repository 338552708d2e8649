package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/formrelay/go-formrelay-server/email"
	"github.com/formrelay/go-formrelay-server/global"
	"github.com/formrelay/go-formrelay-server/metrics"
	"github.com/formrelay/go-formrelay-server/repository"
	"github.com/formrelay/go-formrelay-server/types"
	"github.com/formrelay/go-formrelay-server/util"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
)

type IntakeOutcome string

const (
	// OutcomeAccepted: notification sent, webhook (if any) queued
	OutcomeAccepted IntakeOutcome = "accepted"
	// OutcomeAbsorbed: honeypot or spam, answered like an accepted submission
	OutcomeAbsorbed IntakeOutcome = "absorbed"
	// OutcomeVerificationPending: recipient must confirm the email first
	OutcomeVerificationPending IntakeOutcome = "verification_pending"
)

type IntakeRequest struct {
	Target   string
	Fields   types.Fields
	ClientIP string
	Origin   string
}

type IntakeResult struct {
	Outcome    IntakeOutcome
	Form       *types.RecipientForm
	Submission *types.Submission
}

type VerificationResult struct {
	Form     *types.RecipientForm
	Replayed bool
}

// IntakeService composes abuse filtering, recipient resolution, verification and delivery of a submission
type IntakeService struct {
	forms          *FormService
	submissionRepo repository.SubmissionRepository
	deliveryRepo   repository.DeliveryRepository
	spamFilter     *SpamFilterService
	tokens         *VerificationTokenService
	dispatcher     *WebhookDeliveryService
	mailer         email.Mailer
}

func NewIntakeService(forms *FormService, submissionRepo repository.SubmissionRepository, deliveryRepo repository.DeliveryRepository,
	spamFilter *SpamFilterService, tokens *VerificationTokenService, dispatcher *WebhookDeliveryService, mailer email.Mailer) *IntakeService {
	return &IntakeService{
		forms:          forms,
		submissionRepo: submissionRepo,
		deliveryRepo:   deliveryRepo,
		spamFilter:     spamFilter,
		tokens:         tokens,
		dispatcher:     dispatcher,
		mailer:         mailer,
	}
}

// RateIdentity is the recipient identity submissions to target are rate limited on
func (is *IntakeService) RateIdentity(ctx context.Context, target string) string {
	return is.forms.RateIdentity(ctx, target)
}

// Process runs a parsed submission through the intake pipeline
func (is *IntakeService) Process(ctx context.Context, req *IntakeRequest) (*IntakeResult, error) {
	sub := types.NewSubmission(req.Fields)
	sub.ID = uuid.NewString()
	sub.ClientIP = req.ClientIP
	sub.Created = time.Now().UTC().UnixMilli()

	// no persistence, no lookups
	if IsHoneypotTriggered(sub) {
		metrics.SubmissionsMetricsTotal.WithLabelValues("honeypot").Inc()
		return &IntakeResult{Outcome: OutcomeAbsorbed, Submission: sub}, nil
	}

	form, err := is.forms.Resolve(ctx, req.Target)
	if err != nil {
		return nil, err
	}
	if !IsOriginAllowed(form, req.Origin) {
		return nil, types.ErrForbiddenOrigin
	}
	sub.FormID = form.ID

	threshold := form.Settings.RecaptchaThreshold
	if threshold <= 0 {
		threshold = global.Conf.Spam.Threshold
	}
	spam := is.spamFilter.Check(ctx, sub, req.ClientIP, threshold)
	sub.IsSpam = spam.IsSpam
	sub.SpamScore = spam.Score
	sub.SpamReasons = spam.Reasons

	if spam.IsSpam {
		if sErr := is.submissionRepo.SaveSubmission(ctx, sub); sErr != nil {
			level.Error(global.Logger).Log("msg", "failed to store spam submission", "formId", form.ID, "err", sErr)
		}
		level.Info(global.Logger).Log("msg", "submission flagged as spam", "formId", form.ID, "score", spam.Score, "reasons", strings.Join(spam.Reasons, ","))
		metrics.SubmissionsMetricsTotal.WithLabelValues("spam").Inc()
		return &IntakeResult{Outcome: OutcomeAbsorbed, Form: form, Submission: sub}, nil
	}

	if err := is.submissionRepo.SaveSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to store submission: %w", err)
	}

	if !form.IsVerified() {
		if err := is.requestVerification(ctx, form, sub); err != nil {
			return nil, err
		}
		metrics.SubmissionsMetricsTotal.WithLabelValues("verification_pending").Inc()
		return &IntakeResult{Outcome: OutcomeVerificationPending, Form: form, Submission: sub}, nil
	}

	if err := is.deliver(ctx, form, sub); err != nil {
		return nil, err
	}
	metrics.SubmissionsMetricsTotal.WithLabelValues("accepted").Inc()
	return &IntakeResult{Outcome: OutcomeAccepted, Form: form, Submission: sub}, nil
}

func (is *IntakeService) requestVerification(ctx context.Context, form *types.RecipientForm, sub *types.Submission) error {
	token, err := is.tokens.Issue(ctx, form.Email, sub.ID, sub.Fields)
	if err != nil {
		return fmt.Errorf("failed to issue verification token: %w", err)
	}
	link := strings.TrimRight(global.Conf.Forms.BaseURL, "/") + "/verify/" + token
	msg, err := email.RenderVerification(form.Email, link)
	if err != nil {
		return err
	}
	if err := is.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: verification email: %w", types.ErrUpstream, err)
	}
	metrics.VerificationEmailsSentMetricsCount.Inc()
	return nil
}

// deliver sends the notification email synchronously and queues the webhook.
// Only a notification failure is returned.
func (is *IntakeService) deliver(ctx context.Context, form *types.RecipientForm, sub *types.Submission) error {
	msg, err := email.RenderNotification(form, sub)
	if err != nil {
		return err
	}
	if err := is.mailer.Send(ctx, msg); err != nil {
		metrics.NotificationEmailsMetricsTotal.WithLabelValues("failed").Inc()
		level.Error(global.Logger).Log("msg", "notification email failed", "formId", form.ID, "submissionId", sub.ID, "err", err)
		return fmt.Errorf("%w: notification email: %w", types.ErrUpstream, err)
	}
	metrics.NotificationEmailsMetricsTotal.WithLabelValues("sent").Inc()

	is.sendAutoResponse(ctx, form, sub)
	is.queueWebhook(ctx, form, sub)
	return nil
}

func (is *IntakeService) sendAutoResponse(ctx context.Context, form *types.RecipientForm, sub *types.Submission) {
	if sub.Special.AutoResponse == "" {
		return
	}
	to := sub.Fields.Get("email")
	if !util.IsValidEmail(to) {
		return
	}
	msg, err := email.RenderAutoResponse(to, sub.Special.AutoResponse, form)
	if err != nil {
		level.Warn(global.Logger).Log("msg", "failed to render auto response", "err", err)
		return
	}
	if err := is.mailer.Send(ctx, msg); err != nil {
		level.Warn(global.Logger).Log("msg", "auto response failed", "formId", form.ID, "err", err)
	}
}

// queueWebhook creates the delivery record and enqueues attempt 1. Failures are logged,
// the stalled delivery sweeper picks up records whose first task never made it to the queue.
func (is *IntakeService) queueWebhook(ctx context.Context, form *types.RecipientForm, sub *types.Submission) {
	target := sub.Special.Webhook
	if target == "" {
		target = form.Settings.WebhookURL
	}
	if target == "" {
		return
	}
	if !util.IsValidURL(target) {
		level.Warn(global.Logger).Log("msg", "ignoring invalid webhook url", "formId", form.ID)
		return
	}

	payload, err := json.Marshal(types.WebhookPayload{
		Data: sub.Fields,
		Meta: types.WebhookMeta{
			FormID:       form.ID,
			SubmissionID: sub.ID,
			SubmittedAt:  sub.Created,
			ClientIP:     sub.ClientIP,
			Tracking:     sub.Tracking,
		},
	})
	if err != nil {
		level.Error(global.Logger).Log("msg", "failed to encode webhook payload", "err", err)
		return
	}

	now := time.Now().UTC().UnixMilli()
	delivery := &types.WebhookDelivery{
		ID:           uuid.NewString(),
		SubmissionID: sub.ID,
		URL:          target,
		Payload:      string(payload),
		Status:       types.DeliveryStatusPending,
		Attempts:     0,
		Created:      now,
		Updated:      now,
	}
	if err := is.deliveryRepo.CreateDelivery(ctx, delivery); err != nil {
		level.Error(global.Logger).Log("msg", "failed to create webhook delivery", "submissionId", sub.ID, "err", err)
		return
	}
	task := &types.WebhookTask{DeliveryID: delivery.ID, URL: target, Payload: payload, Attempt: 1}
	if err := is.dispatcher.Enqueue(ctx, task, 0); err != nil {
		level.Error(global.Logger).Log("msg", "failed to enqueue webhook delivery", "deliveryId", delivery.ID, "err", err)
	}
}

// ConfirmVerification redeems a verification token. The verified timestamp is persisted before the token is consumed.
func (is *IntakeService) ConfirmVerification(ctx context.Context, token string) (*VerificationResult, error) {
	vt, err := is.tokens.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	form, err := is.forms.GetByEmail(ctx, vt.Email)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.ErrTokenNotFound
		}
		return nil, err
	}
	wasVerified := form.IsVerified()
	if err := is.forms.MarkVerified(ctx, form); err != nil {
		return nil, fmt.Errorf("failed to persist verification: %w", err)
	}
	if err := is.tokens.Consume(ctx, token, vt.Email); err != nil {
		level.Error(global.Logger).Log("msg", "failed to consume verification token", "formId", form.ID, "err", err)
	}
	level.Info(global.Logger).Log("msg", "recipient verified", "formId", form.ID)

	result := &VerificationResult{Form: form}
	if global.Conf.Forms.ReplayOnVerify && !wasVerified && vt.SubmissionID != "" {
		sub, sErr := is.submissionRepo.GetSubmission(ctx, vt.SubmissionID)
		if sErr != nil {
			level.Error(global.Logger).Log("msg", "failed to load pending submission", "submissionId", vt.SubmissionID, "err", sErr)
			return result, nil
		}
		if dErr := is.deliver(ctx, form, sub); dErr != nil {
			level.Error(global.Logger).Log("msg", "failed to replay pending submission", "submissionId", sub.ID, "err", dErr)
			return result, nil
		}
		result.Replayed = true
	}
	return result, nil
}
