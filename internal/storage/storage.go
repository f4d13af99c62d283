// Package storage defines the ledger collaborator interface: where billing
// claims and their audit trail go once a session terminates. Quota
// deduction and invoicing live behind this boundary, not in this repo.
package storage

import (
	"context"

	"github.com/arcfield/agentbridge/internal/billing"
	"github.com/arcfield/agentbridge/internal/domain"
)

// ListOptions paginate claim listings.
type ListOptions struct {
	SessionID string
	Limit     int
	Offset    int
}

// LedgerStore persists billing claims and the raw accumulator snapshots
// they were derived from. Snapshots are kept even when classification
// produced no claims, so ambiguous sessions remain auditable.
type LedgerStore interface {
	SaveClaims(ctx context.Context, claims []domain.BillingClaim) error
	SaveAudit(ctx context.Context, snap billing.Snapshot) error
	ListClaims(ctx context.Context, opts ListOptions) ([]domain.BillingClaim, error)
	Close() error
}
