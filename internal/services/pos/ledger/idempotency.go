package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"syntra-checkout/internal/services/pos"
)

const (
	commitKeyPrefix = "pos:commit:"
	pendingMarker   = "pending"

	DefaultIdempotencyTTL = 24 * time.Hour
)

// releaseScript drops a claim only while it is still pending, so a late
// release can never erase a completed receipt.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Idempotency keeps commit tokens in Redis. A claimed token holds a pending
// marker; a completed one holds the receipt JSON.
type Idempotency struct {
	client *redis.Client
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client}
}

var _ pos.IdempotencyStore = (*Idempotency)(nil)

func commitKey(token string) string {
	return commitKeyPrefix + token
}

func (i *Idempotency) Lookup(ctx context.Context, token string) (*pos.Receipt, error) {
	data, err := i.client.Get(ctx, commitKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("token %s: %w", token, pos.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token %s: %w", token, err)
	}
	return decodeCommitValue(token, data)
}

func (i *Idempotency) Claim(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	ok, err := i.client.SetNX(ctx, commitKey(token), pendingMarker, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to claim token %s: %w", token, err)
	}
	if ok {
		return nil
	}

	receipt, err := i.Lookup(ctx, token)
	switch {
	case errors.Is(err, pos.ErrNotFound):
		// expired between SETNX and GET
		return i.Claim(ctx, token, ttl)
	case err != nil:
		return err
	case receipt != nil:
		return fmt.Errorf("token %s: %w", token, pos.ErrDuplicateToken)
	}
	return fmt.Errorf("token %s: %w", token, pos.ErrCommitInProgress)
}

func (i *Idempotency) Complete(ctx context.Context, token string, receipt pos.Receipt, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	data, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("failed to encode receipt: %w", err)
	}
	if err := i.client.Set(ctx, commitKey(token), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store receipt for token %s: %w", token, err)
	}
	return nil
}

func (i *Idempotency) Release(ctx context.Context, token string) error {
	if err := releaseScript.Run(ctx, i.client, []string{commitKey(token)}, pendingMarker).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release token %s: %w", token, err)
	}
	return nil
}

func decodeCommitValue(token string, data []byte) (*pos.Receipt, error) {
	if string(data) == pendingMarker {
		return nil, fmt.Errorf("token %s: %w", token, pos.ErrCommitInProgress)
	}
	var receipt pos.Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, fmt.Errorf("failed to decode receipt for token %s: %w", token, err)
	}
	return &receipt, nil
}
