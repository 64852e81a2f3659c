// Package identity derives the pseudo-durable handle of a caller: a
// persisted visitor id plus a device fingerprint that survives storage
// resets.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/okian/voxmeter/internal/adapters/repository"
	"github.com/okian/voxmeter/internal/domain/model"
	"github.com/okian/voxmeter/pkg/logger"
	"github.com/okian/voxmeter/pkg/metrics"
)

const keyCreatedAt = "identity.created_at"

// Key prefixes.
const (
	guestPrefix         = "guest:"
	degradedGuestPrefix = "guest:v:"
	userPrefix          = "user:"
)

// Resolver resolves identities against a KV store.
type Resolver struct {
	mu    sync.Mutex // guards visitor id minting
	store repository.KV
	clock quartz.Clock
	log   logger.Logger
}

// New creates a Resolver.
func New(store repository.KV, opts ...Option) *Resolver {
	r := &Resolver{store: store, clock: quartz.NewReal()}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Named("identity")
	}
	return r
}

// Resolve returns the caller's identity. The visitor id is read from the
// store or minted and persisted once; the fingerprint is recomputed from
// signals on every call. Only storage failures are returned as errors.
func (r *Resolver) Resolve(ctx context.Context, signals model.DeviceSignals) (model.Identity, error) {
	visitorID, createdAt, err := r.visitor(ctx)
	if err != nil {
		return model.Identity{}, err
	}

	fp, method := Fingerprint(signals)
	id := model.Identity{
		VisitorID:   visitorID,
		Fingerprint: fp,
		Method:      method,
		Degraded:    method == model.MethodRandom,
		Device:      signals,
		CreatedAt:   createdAt,
	}
	metrics.RecordIdentityResolution(string(method))
	if id.Degraded {
		r.log.Warn(ctx, "fingerprint unavailable",
			logger.Error(ErrIdentityDegraded),
			logger.String("visitor_id", visitorID),
		)
	}
	return id, nil
}

func (r *Resolver) visitor(ctx context.Context) (string, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.store.Get(ctx, repository.KeyVisitorID)
	switch {
	case err == nil && id != "":
		return id, r.createdAt(ctx), nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return "", time.Time{}, fmt.Errorf("read visitor id: %w", err)
	}

	id = uuid.NewString()
	now := r.clock.Now().UTC()
	if err := r.store.Set(ctx, repository.KeyVisitorID, id); err != nil {
		return "", time.Time{}, fmt.Errorf("persist visitor id: %w", err)
	}
	if err := r.store.Set(ctx, keyCreatedAt, now.Format(time.RFC3339Nano)); err != nil {
		return "", time.Time{}, fmt.Errorf("persist visitor id: %w", err)
	}
	r.log.Info(ctx, "visitor id minted", logger.String("visitor_id", id))
	return id, now, nil
}

func (r *Resolver) createdAt(ctx context.Context) time.Time {
	raw, err := r.store.Get(ctx, keyCreatedAt)
	if err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Wipe deletes the persisted visitor id. The next Resolve mints a new one.
func (r *Resolver) Wipe(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Delete(ctx, repository.KeyVisitorID); err != nil {
		return fmt.Errorf("wipe visitor id: %w", err)
	}
	if err := r.store.Delete(ctx, keyCreatedAt); err != nil {
		return fmt.Errorf("wipe visitor id: %w", err)
	}
	r.log.Info(ctx, "identity wiped")
	return nil
}

// Context combines what the auth boundary asserted with the device
// identity. Guests are always anonymous and keyed by fingerprint, or by
// visitor id when the fingerprint is random.
func Context(p model.Principal, id model.Identity) model.IdentityContext {
	if !p.Guest() {
		class := p.Class
		if !class.Known() {
			class = model.ClassAnonymous
		}
		return model.IdentityContext{
			Key:      userPrefix + strings.TrimSpace(p.UserID),
			Class:    class,
			Plan:     p.Plan,
			Identity: id,
		}
	}
	key := guestPrefix + id.Fingerprint
	if id.Degraded {
		key = degradedGuestPrefix + id.VisitorID
	}
	return model.IdentityContext{Key: key, Class: model.ClassAnonymous, Identity: id}
}

// IsGuestKey reports whether key belongs to an anonymous identity.
func IsGuestKey(key string) bool {
	return strings.HasPrefix(key, guestPrefix)
}
