package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/formrelay/go-formrelay-server/types"
	"github.com/jmoiron/sqlx"
)

// SQLRepository implements the form, submission and delivery repositories on postgres or sqlite3
type SQLRepository struct {
	*sqlx.DB
}

// NewSQLRepository opens the database and creates the tables
func NewSQLRepository(driver string, url string) (*SQLRepository, error) {
	db, err := sqlx.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}
	s := &SQLRepository{db}
	if err := s.CreateTables(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateTables creates the database tables if they don't exist
func (s *SQLRepository) CreateTables(ctx context.Context) error {
	stmts := []string{
		`create table if not exists recipient_forms (
			id text not null,
			email text not null unique,
			hash text not null unique,
			verified_at bigint,
			settings text,
			created bigint not null,
			updated bigint not null,
			primary key (id)
		)`,
		`create table if not exists submissions (
			id text not null,
			form_id text not null,
			data text,
			special text,
			tracking text,
			client_ip text,
			is_spam boolean not null default false,
			spam_score integer not null default 0,
			spam_reasons text,
			created bigint not null,
			primary key (id)
		)`,
		`create table if not exists webhook_deliveries (
			id text not null,
			submission_id text not null,
			url text not null,
			payload text not null,
			status text not null,
			attempts integer not null default 0,
			last_error text not null default '',
			next_retry_at bigint,
			created bigint not null,
			updated bigint not null,
			primary key (id)
		)`,
		`create index if not exists webhook_deliveries_status_idx on webhook_deliveries (status, next_retry_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

const formColumns = "id, email, hash, verified_at, settings, created, updated"

func (s *SQLRepository) CreateForm(ctx context.Context, form *types.RecipientForm) error {
	_, err := s.NamedExecContext(ctx,
		"INSERT INTO recipient_forms ("+formColumns+") VALUES (:id, :email, :hash, :verified_at, :settings, :created, :updated)",
		form,
	)
	return handleError(err)
}

func (s *SQLRepository) getForm(ctx context.Context, where string, arg string) (*types.RecipientForm, error) {
	var f types.RecipientForm
	err := s.GetContext(ctx, &f, "SELECT "+formColumns+" FROM recipient_forms WHERE "+where+" = $1", arg)
	if err != nil {
		return nil, handleError(err)
	}
	return &f, nil
}

func (s *SQLRepository) GetFormByID(ctx context.Context, id string) (*types.RecipientForm, error) {
	return s.getForm(ctx, "id", id)
}

func (s *SQLRepository) GetFormByEmail(ctx context.Context, email string) (*types.RecipientForm, error) {
	return s.getForm(ctx, "email", email)
}

func (s *SQLRepository) GetFormByHash(ctx context.Context, hash string) (*types.RecipientForm, error) {
	return s.getForm(ctx, "hash", hash)
}

// SetVerified sets the verification timestamp once. Already verified forms keep the first timestamp.
func (s *SQLRepository) SetVerified(ctx context.Context, id string, verifiedAt int64) error {
	res, err := s.ExecContext(ctx,
		"UPDATE recipient_forms SET verified_at = COALESCE(verified_at, $1), updated = $2 WHERE id = $3",
		verifiedAt, time.Now().UTC().UnixMilli(), id)
	return affectedOrNotFound(res, err)
}

func (s *SQLRepository) UpdateSettings(ctx context.Context, id string, settings types.FormSettings) error {
	res, err := s.ExecContext(ctx,
		"UPDATE recipient_forms SET settings = $1, updated = $2 WHERE id = $3",
		settings, time.Now().UTC().UnixMilli(), id)
	return affectedOrNotFound(res, err)
}

const submissionColumns = "id, form_id, data, special, tracking, client_ip, is_spam, spam_score, spam_reasons, created"

func (s *SQLRepository) SaveSubmission(ctx context.Context, sub *types.Submission) error {
	_, err := s.NamedExecContext(ctx,
		"INSERT INTO submissions ("+submissionColumns+") VALUES (:id, :form_id, :data, :special, :tracking, :client_ip, :is_spam, :spam_score, :spam_reasons, :created)",
		sub,
	)
	return handleError(err)
}

func (s *SQLRepository) GetSubmission(ctx context.Context, id string) (*types.Submission, error) {
	var sub types.Submission
	err := s.GetContext(ctx, &sub, "SELECT "+submissionColumns+" FROM submissions WHERE id = $1", id)
	if err != nil {
		return nil, handleError(err)
	}
	return &sub, nil
}

const deliveryColumns = "id, submission_id, url, payload, status, attempts, last_error, next_retry_at, created, updated"

func (s *SQLRepository) CreateDelivery(ctx context.Context, d *types.WebhookDelivery) error {
	_, err := s.NamedExecContext(ctx,
		"INSERT INTO webhook_deliveries ("+deliveryColumns+") VALUES (:id, :submission_id, :url, :payload, :status, :attempts, :last_error, :next_retry_at, :created, :updated)",
		d,
	)
	return handleError(err)
}

func (s *SQLRepository) GetDelivery(ctx context.Context, id string) (*types.WebhookDelivery, error) {
	var d types.WebhookDelivery
	err := s.GetContext(ctx, &d, "SELECT "+deliveryColumns+" FROM webhook_deliveries WHERE id = $1", id)
	if err != nil {
		return nil, handleError(err)
	}
	return &d, nil
}

// RecordAttempt stores the outcome of attempt number `attempt`. It only applies to a pending
// delivery whose stored attempt count is behind; otherwise ErrConflict is returned.
func (s *SQLRepository) RecordAttempt(ctx context.Context, id string, attempt int, status types.DeliveryStatus, lastError string) error {
	res, err := s.ExecContext(ctx,
		`UPDATE webhook_deliveries SET attempts = $1, status = $2, last_error = $3, next_retry_at = NULL, updated = $4
		WHERE id = $5 AND status = 'pending' AND attempts < $1`,
		attempt, string(status), lastError, time.Now().UTC().UnixMilli(), id)
	return affectedOrConflict(res, err)
}

func (s *SQLRepository) ScheduleRetry(ctx context.Context, id string, nextRetryAt int64) error {
	res, err := s.ExecContext(ctx,
		"UPDATE webhook_deliveries SET next_retry_at = $1, updated = $2 WHERE id = $3 AND status = 'pending'",
		nextRetryAt, time.Now().UTC().UnixMilli(), id)
	return affectedOrConflict(res, err)
}

func (s *SQLRepository) MarkFailed(ctx context.Context, id string, lastError string) error {
	res, err := s.ExecContext(ctx,
		"UPDATE webhook_deliveries SET status = 'failed', last_error = $1, next_retry_at = NULL, updated = $2 WHERE id = $3 AND status = 'pending'",
		lastError, time.Now().UTC().UnixMilli(), id)
	return affectedOrConflict(res, err)
}

// ListStalled returns pending deliveries whose retry time (or last update) is older than olderThan (unix ms)
func (s *SQLRepository) ListStalled(ctx context.Context, olderThan int64, limit int) ([]*types.WebhookDelivery, error) {
	deliveries := []*types.WebhookDelivery{}
	err := s.SelectContext(ctx, &deliveries,
		"SELECT "+deliveryColumns+" FROM webhook_deliveries WHERE status = 'pending' AND COALESCE(next_retry_at, updated) < $1 ORDER BY updated LIMIT $2",
		olderThan, limit)
	if err != nil {
		return nil, handleError(err)
	}
	return deliveries, nil
}
