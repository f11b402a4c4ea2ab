package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/hanko-field/orderops/internal/domain"
	pfirestore "github.com/hanko-field/orderops/internal/platform/firestore"
	"github.com/hanko-field/orderops/internal/repositories"
)

// AuditLogCollection holds one document per audit entry keyed by entry ID.
const AuditLogCollection = "orderAuditLogs"

const defaultAuditListLimit = 50

type auditLogDocument struct {
	OrderID   string         `firestore:"orderId"`
	Action    string         `firestore:"action"`
	OldValues map[string]any `firestore:"oldValues,omitempty"`
	NewValues map[string]any `firestore:"newValues,omitempty"`
	Note      string         `firestore:"note,omitempty"`
	Actor     string         `firestore:"actor"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

// AuditLogRepository stores the order audit trail in Firestore. Entries are append-only.
type AuditLogRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)

// NewAuditLogRepository constructs a Firestore-backed audit trail.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository: firestore provider is required")
	}
	return &AuditLogRepository{provider: provider}, nil
}

// Append creates the entry document. A repeated ID surfaces as a conflict.
func (r *AuditLogRepository) Append(ctx context.Context, entry domain.OrderAuditEntry) error {
	if r == nil || r.provider == nil {
		return errors.New("audit log repository not initialised")
	}
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		return errors.New("audit log repository: id is required")
	}
	if strings.TrimSpace(entry.OrderID) == "" {
		return errors.New("audit log repository: order id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Collection(AuditLogCollection).Doc(id).Create(ctx, encodeAuditDocument(entry)); err != nil {
		return pfirestore.Classify("audit.append", err)
	}
	return nil
}

// ListByOrder returns the newest entries for an order first.
func (r *AuditLogRepository) ListByOrder(ctx context.Context, orderID string, limit int) ([]domain.OrderAuditEntry, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("audit log repository not initialised")
	}
	if limit <= 0 {
		limit = defaultAuditListLimit
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	iter := client.Collection(AuditLogCollection).
		Where("orderId", "==", strings.TrimSpace(orderID)).
		OrderBy("createdAt", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	entries := make([]domain.OrderAuditEntry, 0, limit)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.Classify("audit.list", err)
		}
		var doc auditLogDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, pfirestore.Classify("audit.decode", err)
		}
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = snap.CreateTime
		}
		entries = append(entries, decodeAuditDocument(snap.Ref.ID, doc))
	}
	return entries, nil
}

func encodeAuditDocument(entry domain.OrderAuditEntry) auditLogDocument {
	createdAt := entry.CreatedAt.UTC()
	if entry.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return auditLogDocument{
		OrderID:   strings.TrimSpace(entry.OrderID),
		Action:    entry.Action,
		OldValues: entry.OldValues,
		NewValues: entry.NewValues,
		Note:      entry.Note,
		Actor:     entry.Actor,
		CreatedAt: createdAt,
	}
}

func decodeAuditDocument(id string, doc auditLogDocument) domain.OrderAuditEntry {
	return domain.OrderAuditEntry{
		ID:        id,
		OrderID:   doc.OrderID,
		Action:    doc.Action,
		OldValues: doc.OldValues,
		NewValues: doc.NewValues,
		Note:      doc.Note,
		Actor:     doc.Actor,
		CreatedAt: doc.CreatedAt.UTC(),
	}
}
