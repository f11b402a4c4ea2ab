package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/orderops/internal/domain"
)

func ok(context.Context) error { return nil }

func hang(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDependencyHealthRepository_Collect(t *testing.T) {
	refused := errors.New("connection refused")

	tests := []struct {
		name       string
		checks     []DependencyCheck
		wantStatus string
		wantChecks map[string]string
		wantDetail map[string]string
	}{
		{
			name: "all healthy",
			checks: []DependencyCheck{
				{Name: "database", Critical: true, Check: ok},
				{Name: "redis", Check: ok},
			},
			wantStatus: domain.HealthStatusOK,
			wantChecks: map[string]string{"database": domain.HealthStatusOK, "redis": domain.HealthStatusOK},
		},
		{
			name: "optional dependency down degrades",
			checks: []DependencyCheck{
				{Name: "database", Critical: true, Check: ok},
				{Name: "pubsub", Check: func(context.Context) error { return refused }},
			},
			wantStatus: domain.HealthStatusDegraded,
			wantChecks: map[string]string{"database": domain.HealthStatusOK, "pubsub": domain.HealthStatusDegraded},
			wantDetail: map[string]string{"pubsub": "connection refused"},
		},
		{
			name: "critical timeout is an error",
			checks: []DependencyCheck{
				{Name: "database", Critical: true, Timeout: 5 * time.Millisecond, Check: hang},
				{Name: "firestore", Timeout: time.Millisecond, Check: hang},
			},
			wantStatus: domain.HealthStatusError,
			wantChecks: map[string]string{"database": domain.HealthStatusError, "firestore": domain.HealthStatusDegraded},
			wantDetail: map[string]string{"database": "timeout", "firestore": "timeout"},
		},
		{
			name: "probe ignoring its deadline still times out",
			checks: []DependencyCheck{
				{Name: "storage", Critical: true, Timeout: time.Millisecond, Check: func(context.Context) error {
					time.Sleep(5 * time.Millisecond)
					return nil
				}},
			},
			wantStatus: domain.HealthStatusError,
			wantChecks: map[string]string{"storage": domain.HealthStatusError},
			wantDetail: map[string]string{"storage": "timeout"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
			repo, err := NewDependencyHealthRepository(tc.checks, WithDependencyClock(func() time.Time { return now }))
			require.NoError(t, err)

			report, err := repo.Collect(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tc.wantStatus, report.Status)
			assert.Equal(t, now, report.GeneratedAt)
			require.Len(t, report.Checks, len(tc.wantChecks))
			for name, want := range tc.wantChecks {
				assert.Equal(t, want, report.Checks[name].Status, name)
				assert.Equal(t, now, report.Checks[name].CheckedAt, name)
			}
			for name, want := range tc.wantDetail {
				assert.Equal(t, want, report.Checks[name].Detail, name)
				assert.NotEmpty(t, report.Checks[name].Error, name)
			}
		})
	}
}

func TestNewDependencyHealthRepository_RejectsBadChecks(t *testing.T) {
	cases := map[string][]DependencyCheck{
		"empty":     nil,
		"no name":   {{Name: " ", Check: ok}},
		"no probe":  {{Name: "redis"}},
		"duplicate": {{Name: "redis", Check: ok}, {Name: "redis", Check: ok}},
	}
	for name, checks := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewDependencyHealthRepository(checks)
			assert.Error(t, err)
		})
	}
}
