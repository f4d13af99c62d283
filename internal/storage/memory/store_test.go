package memory

import (
	"context"
	"testing"
	"time"

	"github.com/arcfield/agentbridge/internal/billing"
	"github.com/arcfield/agentbridge/internal/domain"
	"github.com/arcfield/agentbridge/internal/storage"
)

func testClaim(id, sessionID string) domain.BillingClaim {
	return domain.BillingClaim{
		ID:         id,
		SessionID:  sessionID,
		Type:       domain.FeatureResearch,
		Source:     domain.ClaimSourceFileOutput,
		Confidence: 0.9,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestStore_SaveClaims_Dedup(t *testing.T) {
	s := New()
	ctx := context.Background()

	claims := []domain.BillingClaim{testClaim("c1", "sess-1"), testClaim("c2", "sess-1")}
	if err := s.SaveClaims(ctx, claims); err != nil {
		t.Fatalf("SaveClaims returned error: %v", err)
	}
	// Replay must not duplicate.
	if err := s.SaveClaims(ctx, claims); err != nil {
		t.Fatalf("SaveClaims replay returned error: %v", err)
	}

	got, err := s.ListClaims(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListClaims returned error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 claims after replay, got %d", len(got))
	}
}

func TestStore_ListClaims_Filtering(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.SaveClaims(ctx, []domain.BillingClaim{
		testClaim("c1", "sess-1"),
		testClaim("c2", "sess-2"),
		testClaim("c3", "sess-1"),
	})

	got, err := s.ListClaims(ctx, storage.ListOptions{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("ListClaims returned error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 claims for sess-1, got %d", len(got))
	}

	got, _ = s.ListClaims(ctx, storage.ListOptions{Limit: 1, Offset: 2})
	if len(got) != 1 || got[0].ID != "c3" {
		t.Errorf("Expected paginated third claim, got %v", got)
	}

	got, _ = s.ListClaims(ctx, storage.ListOptions{Offset: 10})
	if len(got) != 0 {
		t.Errorf("Expected empty page past the end, got %v", got)
	}
}

func TestStore_Audit(t *testing.T) {
	s := New()
	ctx := context.Background()

	snap := billing.Snapshot{SessionID: "sess-1", Completed: true, ContentTokens: 42}
	if err := s.SaveAudit(ctx, snap); err != nil {
		t.Fatalf("SaveAudit returned error: %v", err)
	}

	got, ok := s.Audit("sess-1")
	if !ok {
		t.Fatal("Expected audit stored")
	}
	if got.ContentTokens != 42 || !got.Completed {
		t.Errorf("Expected stored snapshot, got %+v", got)
	}

	if _, ok := s.Audit("missing"); ok {
		t.Error("Expected miss for unknown session")
	}
}
