package sqlstore

import (
	"context"

	domain "github.com/hanko-field/orderops/internal/domain"
	"github.com/hanko-field/orderops/internal/repositories"
)

type auditLogRepository struct {
	store *Store
}

var _ repositories.AuditLogRepository = (*auditLogRepository)(nil)

func (r *auditLogRepository) Append(ctx context.Context, entry domain.OrderAuditEntry) error {
	oldValues, err := encodeJSON(entry.OldValues)
	if err != nil {
		return wrapError("audit.append", err)
	}
	newValues, err := encodeJSON(entry.NewValues)
	if err != nil {
		return wrapError("audit.append", err)
	}
	_, err = r.store.exec(ctx, `INSERT INTO order_audit_log (id, order_id, action, old_values, new_values, note, actor, created_at)
VALUES (`+placeholders(8)+`)`,
		entry.ID, entry.OrderID, entry.Action, oldValues, newValues, entry.Note, entry.Actor, entry.CreatedAt.UTC())
	return wrapError("audit.append", err)
}

func (r *auditLogRepository) ListByOrder(ctx context.Context, orderID string, limit int) ([]domain.OrderAuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.store.query(ctx, `SELECT id, order_id, action, old_values, new_values, note, actor, created_at
FROM order_audit_log WHERE order_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, orderID, limit)
	if err != nil {
		return nil, wrapError("audit.list", err)
	}
	defer rows.Close()

	var entries []domain.OrderAuditEntry
	for rows.Next() {
		var (
			entry              domain.OrderAuditEntry
			oldValues, newVals string
			createdAt          flexTime
		)
		if err := rows.Scan(&entry.ID, &entry.OrderID, &entry.Action, &oldValues, &newVals, &entry.Note, &entry.Actor, &createdAt); err != nil {
			return nil, wrapError("audit.scan", err)
		}
		entry.OldValues = decodeJSON(oldValues)
		entry.NewValues = decodeJSON(newVals)
		entry.CreatedAt = createdAt.Time
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("audit.scan", err)
	}
	return entries, nil
}
