package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/orderops/internal/domain"
	"github.com/hanko-field/orderops/internal/repositories"
)

type fakeRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *fakeRepoError) Error() string       { return e.msg }
func (e *fakeRepoError) IsNotFound() bool    { return e.notFound }
func (e *fakeRepoError) IsConflict() bool    { return e.conflict }
func (e *fakeRepoError) IsUnavailable() bool { return e.unavailable }

func errNotFound(format string, args ...any) error {
	return &fakeRepoError{msg: fmt.Sprintf(format, args...), notFound: true}
}

type memOrders struct {
	mu        sync.Mutex
	byID      map[string]domain.Order
	insertErr error
	updateErr error
	findErr   error
	updates   int
	deleted   []string
	listFn    func(repositories.OrderListFilter) (domain.OffsetPage[domain.Order], error)
	statsFn   func(repositories.OrderListFilter) (domain.OrderStats, error)
}

func newMemOrders(orders ...domain.Order) *memOrders {
	m := &memOrders{byID: map[string]domain.Order{}}
	for _, o := range orders {
		m.byID[o.ID] = o
	}
	return m
}

func (m *memOrders) Insert(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	order.Items = nil
	m.byID[order.ID] = order
	return nil
}

func (m *memOrders) FindByNumber(_ context.Context, number string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return domain.Order{}, m.findErr
	}
	for _, o := range m.byID {
		if o.OrderNumber == number {
			return o, nil
		}
	}
	return domain.Order{}, errNotFound("order %s not found", number)
}

func (m *memOrders) FindByNumbers(_ context.Context, numbers []string) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []domain.Order
	for _, o := range m.byID {
		for _, n := range numbers {
			if o.OrderNumber == n {
				out = append(out, o)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNumber < out[j].OrderNumber })
	return out, nil
}

func (m *memOrders) Update(_ context.Context, orderID string, patch domain.OrderPatch) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return domain.Order{}, m.updateErr
	}
	o, ok := m.byID[orderID]
	if !ok {
		return domain.Order{}, errNotFound("order %s not found", orderID)
	}
	m.updates++
	o.UpdatedAt = patch.UpdatedAt
	if patch.Status != nil {
		o.Status = *patch.Status
	}
	if patch.PaymentStatus != nil {
		o.PaymentStatus = *patch.PaymentStatus
	}
	if patch.TrackingNumber != nil {
		o.TrackingNumber = valuePtr(*patch.TrackingNumber)
	}
	if patch.Notes != nil {
		o.Notes = *patch.Notes
	}
	if patch.AdminNotes != nil {
		o.AdminNotes = *patch.AdminNotes
	}
	if patch.DeliveredAt != nil && o.DeliveredAt == nil {
		o.DeliveredAt = valuePtr(*patch.DeliveredAt)
	}
	if patch.ArchivedAt != nil && o.ArchivedAt == nil {
		o.ArchivedAt = valuePtr(*patch.ArchivedAt)
	}
	m.byID[orderID] = o
	return o, nil
}

func (m *memOrders) Delete(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, orderID)
	delete(m.byID, orderID)
	return nil
}

func (m *memOrders) List(_ context.Context, filter repositories.OrderListFilter) (domain.OffsetPage[domain.Order], error) {
	if m.listFn != nil {
		return m.listFn(filter)
	}
	return domain.OffsetPage[domain.Order]{Page: filter.Page, Limit: filter.Limit}, nil
}

func (m *memOrders) Stats(_ context.Context, filter repositories.OrderListFilter) (domain.OrderStats, error) {
	if m.statsFn != nil {
		return m.statsFn(filter)
	}
	return domain.OrderStats{}, nil
}

func (m *memOrders) get(id string) (domain.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	return o, ok
}

type memItems struct {
	mu        sync.Mutex
	byOrder   map[string][]domain.OrderItem
	insertErr error
}

func newMemItems() *memItems {
	return &memItems{byOrder: map[string][]domain.OrderItem{}}
}

func (m *memItems) InsertBatch(_ context.Context, items []domain.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	for _, item := range items {
		m.byOrder[item.OrderID] = append(m.byOrder[item.OrderID], item)
	}
	return nil
}

func (m *memItems) ListByOrders(_ context.Context, ids []string) (map[string][]domain.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]domain.OrderItem{}
	for _, id := range ids {
		if items, ok := m.byOrder[id]; ok {
			out[id] = items
		}
	}
	return out, nil
}

type memProducts struct {
	mu        sync.Mutex
	byID      map[string]domain.Product
	upsertErr map[string]error
	upserts   int
	// soldOut makes DecrementStock report insufficient stock for the listed IDs regardless of quantity.
	soldOut map[string]bool
}

func newMemProducts(products ...domain.Product) *memProducts {
	m := &memProducts{byID: map[string]domain.Product{}, upsertErr: map[string]error{}}
	for _, p := range products {
		m.byID[p.ID] = p
	}
	return m
}

func (m *memProducts) FindByID(_ context.Context, id string) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return domain.Product{}, errNotFound("product %s not found", id)
	}
	return p, nil
}

func (m *memProducts) FindBySKUs(_ context.Context, skus []string) (map[string]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]domain.Product{}
	for _, p := range m.byID {
		for _, sku := range skus {
			if p.SKU == sku {
				out[sku] = p
			}
		}
	}
	return out, nil
}

func (m *memProducts) Upsert(_ context.Context, product domain.Product) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.upsertErr[product.SKU]; err != nil {
		return domain.Product{}, err
	}
	m.upserts++
	for id, existing := range m.byID {
		if existing.SKU == product.SKU {
			product.ID = id
			product.CreatedAt = existing.CreatedAt
			break
		}
	}
	m.byID[product.ID] = product
	return product, nil
}

func (m *memProducts) List(_ context.Context, filter repositories.ProductListFilter) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Product
	for _, p := range m.byID {
		if !p.Active && !filter.IncludeInactive {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (m *memProducts) DecrementStock(_ context.Context, id string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return repositories.NewStockError("decrement", repositories.StockErrorProductNotFound, id, nil)
	}
	if p.StockQuantity < qty || m.soldOut[id] {
		return repositories.NewStockError("decrement", repositories.StockErrorInsufficient, id, nil)
	}
	p.StockQuantity -= qty
	m.byID[id] = p
	return nil
}

func (m *memProducts) RestockStock(_ context.Context, id string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return repositories.NewStockError("restock", repositories.StockErrorProductNotFound, id, nil)
	}
	p.StockQuantity += qty
	m.byID[id] = p
	return nil
}

func (m *memProducts) bySKU(sku string) (domain.Product, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if p.SKU == sku {
			return p, true
		}
	}
	return domain.Product{}, false
}

type memAuditRepo struct {
	mu        sync.Mutex
	entries   []domain.OrderAuditEntry
	appendErr error
}

func (m *memAuditRepo) Append(_ context.Context, entry domain.OrderAuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memAuditRepo) ListByOrder(_ context.Context, orderID string, limit int) ([]domain.OrderAuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OrderAuditEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].OrderID == orderID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	records []AuditRecord
}

func (r *recordingAudit) Record(_ context.Context, record AuditRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
}

func (r *recordingAudit) ListForOrder(context.Context, string, int) ([]OrderAuditEntry, error) {
	return nil, nil
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Action
	}
	return out
}

type recordingNotifier struct {
	mu          sync.Mutex
	transitions []OrderTransition
}

func (r *recordingNotifier) Notify(_ context.Context, transition OrderTransition) DispatchResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, transition)
	return DispatchResult{Status: DispatchSent}
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transitions)
}

type txUnit struct {
	calls int
}

func (u *txUnit) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	u.calls++
	return fn(ctx)
}

func (u *txUnit) Transactional() bool { return true }

type patternReader struct{}

func (patternReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(i)
	}
	return len(p), nil
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func sequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%03d", strings.ToUpper(prefix), n)
	}
}

func sampleOrder(id, number string, status domain.OrderStatus) domain.Order {
	created := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:            id,
		OrderNumber:   number,
		CustomerName:  "Ada Lovelace",
		CustomerEmail: valuePtr("ada@example.com"),
		Status:        status,
		PaymentStatus: domain.PaymentStatusPending,
		PaymentMethod: "card",
		Subtotal:      100,
		Tax:           10,
		Total:         110,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}
