package services

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"unicode"

	"github.com/hanko-field/orderops/internal/repositories"
)

// noopUnitOfWork runs fn directly; used when the store has no transactions.
type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func isTransactional(unit repositories.UnitOfWork) bool {
	if tu, ok := unit.(repositories.TransactionalUnit); ok {
		return tu.Transactional()
	}
	return false
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func valuePtr[T any](v T) *T { return &v }

func cloneMap(src map[string]any) map[string]any { return maps.Clone(src) }

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

// firstNonEmpty returns the first value that is not blank, trimmed.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// sanitizeText trims, drops control characters other than line breaks and tabs, and stops once
// limit bytes are written.
func sanitizeText(input string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	var b strings.Builder
	for _, r := range strings.TrimSpace(input) {
		if b.Len() >= limit {
			break
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
