package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/formrelay/go-formrelay-server/global"
	"github.com/formrelay/go-formrelay-server/repository"
	"github.com/formrelay/go-formrelay-server/types"
	"github.com/formrelay/go-formrelay-server/util"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
)

const (
	// DefaultTarget routes to the configured default recipient
	DefaultTarget = "default"
	hashPrefix    = "f/"
)

// FormService resolves submission targets to recipient forms
type FormService struct {
	formRepo repository.FormRepository
}

func NewFormService(formRepo repository.FormRepository) *FormService {
	return &FormService{formRepo: formRepo}
}

// Resolve finds the recipient form of target: form id, routing hash, "f/<hash>", email or "default".
// Unknown emails create a new unverified form.
func (fs *FormService) Resolve(ctx context.Context, target string) (*types.RecipientForm, error) {
	target = strings.TrimSpace(strings.Trim(target, "/"))
	if target == "" {
		return nil, types.ErrNotFound
	}
	if target == DefaultTarget {
		if global.Conf.Forms.DefaultRecipient == "" {
			return nil, types.ErrNotFound
		}
		return fs.ResolveEmail(ctx, global.Conf.Forms.DefaultRecipient)
	}
	if strings.Contains(target, "@") && !strings.HasPrefix(target, hashPrefix) {
		return fs.ResolveEmail(ctx, target)
	}
	return fs.lookup(ctx, target)
}

// lookup finds an existing form by id, routing hash or "f/<hash>"
func (fs *FormService) lookup(ctx context.Context, target string) (*types.RecipientForm, error) {
	if strings.HasPrefix(target, hashPrefix) {
		return fs.formRepo.GetFormByHash(ctx, strings.TrimPrefix(target, hashPrefix))
	}
	if _, err := uuid.Parse(target); err == nil {
		form, fErr := fs.formRepo.GetFormByID(ctx, target)
		if fErr == nil || !errors.Is(fErr, types.ErrNotFound) {
			return form, fErr
		}
	}
	return fs.formRepo.GetFormByHash(ctx, target)
}

// RateIdentity maps every alias of a recipient (email, id, hash, f/<hash>, default) to its
// normalized email, so all aliases share one rate window. Nothing is created.
// Targets that don't resolve keep their lowercased raw form.
func (fs *FormService) RateIdentity(ctx context.Context, target string) string {
	target = strings.TrimSpace(strings.Trim(target, "/"))
	if target == DefaultTarget && global.Conf.Forms.DefaultRecipient != "" {
		target = global.Conf.Forms.DefaultRecipient
	}
	if strings.Contains(target, "@") && !strings.HasPrefix(target, hashPrefix) {
		if normalized, err := util.NormalizeEmail(target); err == nil {
			return normalized
		}
		return strings.ToLower(target)
	}
	form, err := fs.lookup(ctx, target)
	if err != nil {
		return strings.ToLower(target)
	}
	return form.Email
}

// ResolveEmail returns the form of email, creating an unverified one on first use
func (fs *FormService) ResolveEmail(ctx context.Context, email string) (*types.RecipientForm, error) {
	normalized, err := util.NormalizeEmail(email)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrValidation, err)
	}
	form, err := fs.formRepo.GetFormByEmail(ctx, normalized)
	if err == nil {
		return form, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	hash, err := util.ScryptEmail(normalized, global.Conf.Forms.EmailSalt)
	if err != nil {
		return nil, fmt.Errorf("failed to hash email: %w", err)
	}
	now := time.Now().UTC().UnixMilli()
	form = &types.RecipientForm{
		ID:      uuid.NewString(),
		Email:   normalized,
		Hash:    hash,
		Created: now,
		Updated: now,
	}
	cErr := fs.formRepo.CreateForm(ctx, form)
	if cErr == nil {
		level.Info(global.Logger).Log("msg", "created recipient form", "formId", form.ID)
		return form, nil
	}
	if !errors.Is(cErr, types.ErrConflict) {
		return nil, cErr
	}

	// lost a creation race, or the hash belongs to another email
	existing, gErr := fs.formRepo.GetFormByEmail(ctx, normalized)
	if gErr == nil {
		return existing, nil
	}
	if byHash, hErr := fs.formRepo.GetFormByHash(ctx, hash); hErr == nil && byHash.Email != normalized {
		level.Error(global.Logger).Log("msg", "email hash collision", "formId", byHash.ID)
		return nil, types.ErrHashCollision
	}
	return nil, cErr
}

// GetByEmail returns the form of an already normalized email
func (fs *FormService) GetByEmail(ctx context.Context, email string) (*types.RecipientForm, error) {
	return fs.formRepo.GetFormByEmail(ctx, email)
}

// MarkVerified persists the verification timestamp of the form
func (fs *FormService) MarkVerified(ctx context.Context, form *types.RecipientForm) error {
	now := time.Now().UTC().UnixMilli()
	if err := fs.formRepo.SetVerified(ctx, form.ID, now); err != nil {
		return err
	}
	if !form.IsVerified() {
		form.VerifiedAt = &now
	}
	return nil
}

// IsOriginAllowed checks the request origin host against the form's allowed origins (empty list allows all)
func IsOriginAllowed(form *types.RecipientForm, origin string) bool {
	if len(form.Settings.AllowedOrigins) == 0 {
		return true
	}
	if origin == "" {
		return false
	}
	host := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	host = strings.ToLower(host)
	for _, allowed := range form.Settings.AllowedOrigins {
		a := strings.ToLower(strings.TrimSpace(allowed))
		if u, err := url.Parse(a); err == nil && u.Host != "" {
			a = u.Hostname()
		}
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}
