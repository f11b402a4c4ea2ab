package services

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/orderops/internal/domain"
	"github.com/hanko-field/orderops/internal/repositories"
)

const (
	hashedValuePrefix    = "sha256:"
	systemActor          = "system"
	auditListDefault     = 50
	auditListMax         = 200
	auditSnapshotTextMax = 512
)

// AuditLogger receives dropped-entry warnings.
type AuditLogger interface {
	Warnf(format string, args ...any)
}

type AuditLogServiceDeps struct {
	Repository  repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      AuditLogger
	// HashSalt is prepended to sensitive values before hashing.
	HashSalt string
}

type auditLogService struct {
	repo   repositories.AuditLogRepository
	now    func() time.Time
	newID  func() string
	logger AuditLogger
	salt   string
}

func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
	}
	svc := &auditLogService{
		repo:   deps.Repository,
		now:    time.Now,
		newID:  func() string { return ulid.Make().String() },
		logger: deps.Logger,
		salt:   deps.HashSalt,
	}
	if deps.Clock != nil {
		svc.now = deps.Clock
	}
	if deps.IDGenerator != nil {
		svc.newID = deps.IDGenerator
	}
	if svc.logger == nil {
		svc.logger = noopAuditLogger{}
	}
	return svc, nil
}

// Record never fails the caller: entries without an order id and repository errors are logged and dropped.
func (s *auditLogService) Record(ctx context.Context, record AuditRecord) {
	orderID := sanitizeText(record.OrderID, 64)
	if orderID == "" {
		s.logger.Warnf("audit entry skipped: no order id for action %q", record.Action)
		return
	}
	entry := s.entry(orderID, record)
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.Warnf("audit append failed for order %s: %v", orderID, err)
	}
}

func (s *auditLogService) ListForOrder(ctx context.Context, orderID string, limit int) ([]OrderAuditEntry, error) {
	if orderID = strings.TrimSpace(orderID); orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if limit <= 0 {
		limit = auditListDefault
	}
	return s.repo.ListByOrder(ctx, orderID, min(limit, auditListMax))
}

func (s *auditLogService) entry(orderID string, record AuditRecord) domain.OrderAuditEntry {
	at := record.OccurredAt
	if at.IsZero() {
		at = s.now()
	}
	red := redactor{salt: s.salt, sensitive: lowerKeys(record.SensitiveKeys)}
	entry := domain.OrderAuditEntry{
		ID:        auditIDPrefix + s.newID(),
		OrderID:   orderID,
		Action:    sanitizeText(record.Action, 120),
		OldValues: red.snapshot(record.Old),
		NewValues: red.snapshot(record.New),
		Note:      sanitizeText(record.Note, 1000),
		Actor:     cmp.Or(sanitizeText(record.Actor, 160), systemActor),
		CreatedAt: at.UTC(),
	}
	if record.OrderNumber != "" {
		if entry.NewValues == nil {
			entry.NewValues = make(map[string]any, 1)
		}
		entry.NewValues["order_number"] = sanitizeText(record.OrderNumber, 64)
	}
	return entry
}

// redactor copies a snapshot, replacing sensitive keys with a salted sha256 of their value.
type redactor struct {
	salt      string
	sensitive []string
}

func (r redactor) snapshot(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		key := sanitizeText(k, 80)
		switch {
		case key == "":
		case slices.Contains(r.sensitive, strings.ToLower(key)):
			out[key] = hashedValuePrefix + r.hash(v)
		default:
			out[key] = plainValue(v)
		}
	}
	return out
}

func (r redactor) hash(v any) string {
	var text string
	switch t := v.(type) {
	case string:
		text = t
	case fmt.Stringer:
		text = t.String()
	default:
		if b, err := json.Marshal(t); err == nil {
			text = string(b)
		} else {
			text = fmt.Sprintf("%T", v)
		}
	}
	sum := sha256.Sum256([]byte(r.salt + strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}

func plainValue(v any) any {
	switch t := v.(type) {
	case string:
		return sanitizeText(t, auditSnapshotTextMax)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return sanitizeText(t.String(), auditSnapshotTextMax)
	}
	return v
}

func lowerKeys(keys []string) []string {
	var out []string
	for _, k := range keys {
		if k = strings.ToLower(sanitizeText(k, 80)); k != "" && !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}

type noopAuditLogger struct{}

func (noopAuditLogger) Warnf(string, ...any) {}
