// Package cluster keeps every document on exactly one server instance when
// several instances share a Redis.
//
// Document state lives in the memory of the instance serving it, so two
// instances must never serve the same document. An instance claims a
// document by writing its instance id under the owner key with a TTL, and
// keeps the claim alive while it runs. Joins for a document claimed by
// another instance are refused; the client reconnects and is expected to
// reach the owner. If an instance dies its claims lapse after the TTL and
// the document starts over empty on whichever instance claims it next.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"collabgrid/internal/metrics"
)

const (
	// KeyPrefix namespaces owner keys in Redis.
	KeyPrefix = "collabgrid:owner:"
	// DefaultTTL is how long a claim survives without being refreshed.
	DefaultTTL = 30 * time.Second

	opTimeout = 2 * time.Second
)

var ErrOwnedElsewhere = errors.New("document is owned by another instance")

// claimScript takes the owner key when it is free and extends it when the
// caller already holds it. Returns 1 when the caller owns the key.
var claimScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == false then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
if cur == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// releaseScript deletes the owner key only if the caller holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Key returns the owner key of a document.
func Key(documentID string) string {
	return KeyPrefix + documentID
}

// Ownership claims documents for one instance.
type Ownership struct {
	rdb      *redis.Client
	instance string
	ttl      time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu    sync.Mutex
	owned map[string]struct{}
}

// NewOwnership returns an Ownership claiming documents as instance. A
// non-positive ttl means DefaultTTL.
func NewOwnership(rdb *redis.Client, instance string, ttl time.Duration, logger *slog.Logger, m *metrics.Metrics) *Ownership {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ownership{
		rdb:      rdb,
		instance: instance,
		ttl:      ttl,
		log:      logger.With("instance", instance),
		metrics:  m,
		owned:    make(map[string]struct{}),
	}
}

// Instance returns the id this instance claims documents under.
func (o *Ownership) Instance() string { return o.instance }

// Claim makes this instance the owner of documentID. It fails with
// ErrOwnedElsewhere when another live instance holds the document, and with
// the Redis error when ownership cannot be determined.
func (o *Ownership) Claim(ctx context.Context, documentID string) error {
	held, err := o.claim(ctx, documentID)
	if err != nil {
		return fmt.Errorf("claim %q: %w", documentID, err)
	}
	if !held {
		return fmt.Errorf("%w: %q", ErrOwnedElsewhere, documentID)
	}

	o.mu.Lock()
	_, had := o.owned[documentID]
	o.owned[documentID] = struct{}{}
	o.mu.Unlock()
	if !had {
		o.log.Info("claimed document", "doc", documentID)
	}
	return nil
}

func (o *Ownership) claim(ctx context.Context, documentID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	n, err := claimScript.Run(ctx, o.rdb, []string{Key(documentID)}, o.instance, o.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Run refreshes every claim well within the TTL until ctx is cancelled,
// then releases them so other instances can take over at once.
func (o *Ownership) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.releaseAll(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			o.refresh(ctx)
		}
	}
}

func (o *Ownership) refresh(ctx context.Context) {
	for _, documentID := range o.snapshot() {
		held, err := o.claim(ctx, documentID)
		switch {
		case err != nil:
			o.metrics.OwnershipErrors.Inc()
			o.log.Warn("error refreshing document claim", "doc", documentID, "error", err)
		case !held:
			// Another instance took the document after our claim lapsed.
			o.metrics.OwnershipErrors.Inc()
			o.log.Error("lost document claim", "doc", documentID)
			o.mu.Lock()
			delete(o.owned, documentID)
			o.mu.Unlock()
		}
	}
}

func (o *Ownership) releaseAll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	for _, documentID := range o.snapshot() {
		if err := releaseScript.Run(ctx, o.rdb, []string{Key(documentID)}, o.instance).Err(); err != nil {
			o.log.Warn("error releasing document claim", "doc", documentID, "error", err)
		}
	}
	o.mu.Lock()
	clear(o.owned)
	o.mu.Unlock()
	o.log.Info("released document claims")
}

func (o *Ownership) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.owned))
	for id := range o.owned {
		ids = append(ids, id)
	}
	return ids
}
