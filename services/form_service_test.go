package services

import (
	"context"
	"sync"
	"testing"

	"github.com/formrelay/go-formrelay-server/global"
	"github.com/formrelay/go-formrelay-server/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCreatesFormOnFirstUse(t *testing.T) {
	te := setupTestEnv(t)
	fs := NewFormService(te.repo)
	ctx := context.Background()

	form, err := fs.Resolve(ctx, "Owner@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", form.Email)
	assert.False(t, form.IsVerified())
	assert.Len(t, form.Hash, 32)

	again, err := fs.Resolve(ctx, "owner@example.com")
	require.NoError(t, err)
	assert.Equal(t, form.ID, again.ID)

	byID, err := fs.Resolve(ctx, form.ID)
	require.NoError(t, err)
	assert.Equal(t, form.ID, byID.ID)

	byHash, err := fs.Resolve(ctx, form.Hash)
	require.NoError(t, err)
	assert.Equal(t, form.ID, byHash.ID)

	byRoute, err := fs.Resolve(ctx, "f/"+form.Hash)
	require.NoError(t, err)
	assert.Equal(t, form.ID, byRoute.ID)
}

func TestResolveUnknownTargets(t *testing.T) {
	te := setupTestEnv(t)
	fs := NewFormService(te.repo)
	ctx := context.Background()

	_, err := fs.Resolve(ctx, "f/unknown")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = fs.Resolve(ctx, "3f1d9a8e-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = fs.Resolve(ctx, "default")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = fs.Resolve(ctx, "broken@")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestResolveDefaultTarget(t *testing.T) {
	te := setupTestEnv(t)
	global.Conf.Forms.DefaultRecipient = "inbox@example.com"
	fs := NewFormService(te.repo)

	form, err := fs.Resolve(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, "inbox@example.com", form.Email)
}

func TestIsOriginAllowed(t *testing.T) {
	open := &types.RecipientForm{}
	assert.True(t, IsOriginAllowed(open, ""))

	restricted := &types.RecipientForm{Settings: types.FormSettings{AllowedOrigins: []string{"example.com", "https://shop.test"}}}
	assert.True(t, IsOriginAllowed(restricted, "https://example.com"))
	assert.True(t, IsOriginAllowed(restricted, "https://www.example.com/contact"))
	assert.True(t, IsOriginAllowed(restricted, "http://shop.test"))
	assert.False(t, IsOriginAllowed(restricted, "https://evil.com"))
	assert.False(t, IsOriginAllowed(restricted, "https://notexample.com"))
	assert.False(t, IsOriginAllowed(restricted, ""))
}

func TestRateIdentityJoinsAliases(t *testing.T) {
	te := setupTestEnv(t)
	global.Conf.Forms.DefaultRecipient = "Owner@Example.com"
	fs := NewFormService(te.repo)
	ctx := context.Background()

	form, err := fs.ResolveEmail(ctx, "owner@example.com")
	require.NoError(t, err)

	for _, target := range []string{"OWNER@example.com", form.ID, form.Hash, "f/" + form.Hash, "/f/" + form.Hash, "default"} {
		assert.Equal(t, "owner@example.com", fs.RateIdentity(ctx, target), target)
	}
	assert.Equal(t, "f/unknown", fs.RateIdentity(ctx, "f/Unknown"))

	// identities never create recipients
	assert.Equal(t, "new@example.com", fs.RateIdentity(ctx, "new@example.com"))
	_, err = fs.GetByEmail(ctx, "new@example.com")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestResolveEmailConcurrentFirstSubmission(t *testing.T) {
	te := setupTestEnv(t)
	fs := NewFormService(te.repo)

	const workers = 8
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			form, err := fs.ResolveEmail(context.Background(), "race@example.com")
			errs[i] = err
			if form != nil {
				ids[i] = form.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
}

// staticFormRepo rejects every insert like a store that lost the creation race
type staticFormRepo struct {
	byEmail    *types.RecipientForm
	byHash     *types.RecipientForm
	emailReads int
}

func (r *staticFormRepo) CreateForm(ctx context.Context, form *types.RecipientForm) error {
	return types.ErrConflict
}

func (r *staticFormRepo) GetFormByID(ctx context.Context, id string) (*types.RecipientForm, error) {
	return nil, types.ErrNotFound
}

func (r *staticFormRepo) GetFormByEmail(ctx context.Context, email string) (*types.RecipientForm, error) {
	r.emailReads++
	// the first read misses, later reads see the winner of the insert race
	if r.byEmail != nil && r.emailReads > 1 {
		return r.byEmail, nil
	}
	return nil, types.ErrNotFound
}

func (r *staticFormRepo) GetFormByHash(ctx context.Context, hash string) (*types.RecipientForm, error) {
	if r.byHash != nil {
		return r.byHash, nil
	}
	return nil, types.ErrNotFound
}

func (r *staticFormRepo) SetVerified(ctx context.Context, id string, verifiedAt int64) error {
	return nil
}

func (r *staticFormRepo) UpdateSettings(ctx context.Context, id string, settings types.FormSettings) error {
	return nil
}

func TestResolveEmailRereadsAfterLostInsert(t *testing.T) {
	setupTestEnv(t)
	winner := &types.RecipientForm{ID: "winner", Email: "race@example.com"}
	fs := NewFormService(&staticFormRepo{byEmail: winner})

	form, err := fs.ResolveEmail(context.Background(), "race@example.com")
	require.NoError(t, err)
	assert.Equal(t, "winner", form.ID)
}

func TestResolveEmailHashCollision(t *testing.T) {
	setupTestEnv(t)
	other := &types.RecipientForm{ID: "other", Email: "someone-else@example.com"}
	fs := NewFormService(&staticFormRepo{byHash: other})

	_, err := fs.ResolveEmail(context.Background(), "victim@example.com")
	assert.ErrorIs(t, err, types.ErrHashCollision)
}

func TestResolveEmailPersistentConflict(t *testing.T) {
	setupTestEnv(t)
	fs := NewFormService(&staticFormRepo{})

	_, err := fs.ResolveEmail(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, types.ErrConflict)
}
