// Package repository persists identity state, the usage log, quota
// overrides and the authority registry.
package repository

import (
	"context"

	"github.com/okian/voxmeter/internal/domain/model"
)

// Well-known KV keys.
const (
	KeyVisitorID = "identity.visitor_id"
)

// KV holds small pieces of durable client state.
type KV interface {
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Delete is idempotent.
	Delete(ctx context.Context, key string) error
}

// EventLog is the append-only usage ledger.
type EventLog interface {
	// Append stores the entry and returns it with Seq assigned.
	Append(ctx context.Context, entry model.Entry) (model.Entry, error)
	// Entries returns every entry of identityKey ordered by Seq.
	Entries(ctx context.Context, identityKey string) ([]model.Entry, error)
	// IdentityKeys lists identities that have at least one entry.
	IdentityKeys(ctx context.Context) ([]string, error)
	// DeleteIdentity drops every entry of identityKey.
	DeleteIdentity(ctx context.Context, identityKey string) error
	// DeleteAll drops every entry.
	DeleteAll(ctx context.Context) error
}

// Overrides stores administrator-assigned allotments.
type Overrides interface {
	SetOverride(ctx context.Context, identityKey string, totalMinutes float64) error
	// Override reports the allotment and whether one is set.
	Override(ctx context.Context, identityKey string) (float64, bool, error)
	DeleteOverride(ctx context.Context, identityKey string) error
}

// Registry stores the authority's canonical identities.
type Registry interface {
	Records(ctx context.Context) ([]model.RegistryRecord, error)
	PutRecord(ctx context.Context, rec model.RegistryRecord) error
}

// Store is the full persistence surface.
type Store interface {
	KV
	EventLog
	Overrides
	Registry
	Close() error
}
