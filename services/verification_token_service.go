package services

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/formrelay/go-formrelay-server/global"
	"github.com/formrelay/go-formrelay-server/types"
	"github.com/formrelay/go-formrelay-server/util"
	"github.com/go-kit/log/level"
	"github.com/redis/go-redis/v9"
)

const (
	redisPrefixVtToken = "vt:token" // vt:token:<token> -> VerificationToken json
	redisPrefixVtEmail = "vt:email" // vt:email:<email> -> token

	VerificationTokenTTL = 24 * time.Hour
	verificationTokenLen = 32 // bytes
)

// deletes KEYS[1] only if it still holds ARGV[1]
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// VerificationTokenService issues and redeems one time email ownership tokens
type VerificationTokenService struct {
	redisClient *redis.Client
	now         func() time.Time
}

func NewVerificationTokenService(env *types.Environment) *VerificationTokenService {
	return &VerificationTokenService{redisClient: env.RedisClient, now: time.Now}
}

func tokenKey(token string) string {
	return fmt.Sprintf("%s:%s", redisPrefixVtToken, token)
}

func emailKey(email string) string {
	return fmt.Sprintf("%s:%s", redisPrefixVtEmail, email)
}

// Issue stores a new token for email. A previously issued token of the same email stops being redeemable.
func (vs *VerificationTokenService) Issue(ctx context.Context, email string, submissionID string, snapshot types.Fields) (string, error) {
	token, err := util.GenerateToken(verificationTokenLen)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	vt := types.VerificationToken{
		Token:        token,
		Email:        email,
		SubmissionID: submissionID,
		FormData:     snapshot,
		IssuedAt:     vs.now().UTC().UnixMilli(),
	}
	data, err := json.Marshal(vt)
	if err != nil {
		return "", err
	}

	previous, pErr := vs.redisClient.Get(ctx, emailKey(email)).Result()
	if pErr != nil && !errors.Is(pErr, redis.Nil) {
		return "", fmt.Errorf("failed to read token pointer: %w", pErr)
	}

	pipe := vs.redisClient.TxPipeline()
	if previous != "" {
		pipe.Del(ctx, tokenKey(previous))
	}
	pipe.Set(ctx, tokenKey(token), data, VerificationTokenTTL)
	pipe.Set(ctx, emailKey(email), token, VerificationTokenTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to store verification token: %w", err)
	}
	return token, nil
}

// Verify returns the token data. Malformed, unknown, expired or superseded tokens return ErrTokenNotFound.
func (vs *VerificationTokenService) Verify(ctx context.Context, token string) (*types.VerificationToken, error) {
	if !isWellFormedToken(token) {
		return nil, types.ErrTokenNotFound
	}
	raw, err := vs.redisClient.Get(ctx, tokenKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, types.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to read verification token: %w", err)
	}
	var vt types.VerificationToken
	if err := json.Unmarshal(raw, &vt); err != nil {
		level.Warn(global.Logger).Log("msg", "corrupt verification token", "err", err)
		return nil, types.ErrTokenNotFound
	}

	current, err := vs.redisClient.Get(ctx, emailKey(vt.Email)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read token pointer: %w", err)
	}
	if current != token {
		return nil, types.ErrTokenNotFound
	}
	return &vt, nil
}

// Consume deletes the token and the email pointer if it still references this token.
// Call only after the verified timestamp has been persisted.
func (vs *VerificationTokenService) Consume(ctx context.Context, token string, email string) error {
	if err := vs.redisClient.Del(ctx, tokenKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to delete verification token: %w", err)
	}
	if err := compareAndDelete.Run(ctx, vs.redisClient, []string{emailKey(email)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to delete token pointer: %w", err)
	}
	return nil
}

func isWellFormedToken(token string) bool {
	if len(token) != verificationTokenLen*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}
