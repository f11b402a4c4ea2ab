//go:build integration

package firestore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/orderops/internal/domain"
	pconfig "github.com/hanko-field/orderops/internal/platform/config"
	pfirestore "github.com/hanko-field/orderops/internal/platform/firestore"
	"github.com/hanko-field/orderops/internal/repositories"
)

func TestAuditLogRepositoryIntegration(t *testing.T) {
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "audit-test", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	repo, err := NewAuditLogRepository(provider)
	if err != nil {
		t.Fatalf("new audit repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	orderID := "ord_" + ulid.Make().String()
	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, action := range []string{"created", "status_change", "archived"} {
		entry := domain.OrderAuditEntry{
			ID:        ulid.Make().String(),
			OrderID:   orderID,
			Action:    action,
			Actor:     "ops@example.com",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Append(ctx, entry); err != nil {
			t.Fatalf("append %s: %v", action, err)
		}
		if i == 0 {
			err := repo.Append(ctx, entry)
			repoErr, ok := err.(repositories.RepositoryError)
			if !ok || !repoErr.IsConflict() {
				t.Fatalf("expected conflict on duplicate id, got %v", err)
			}
		}
	}

	entries, err := repo.ListByOrder(ctx, orderID, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Action != "archived" || entries[1].Action != "status_change" {
		t.Fatalf("expected newest first, got %s, %s", entries[0].Action, entries[1].Action)
	}
}
