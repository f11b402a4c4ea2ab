package firestore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/orderops/internal/platform/config"
	"github.com/hanko-field/orderops/internal/repositories"
)

func TestProviderRequiresProjectID(t *testing.T) {
	t.Setenv(envGoogleProjectID, "")
	t.Setenv(envEmulatorHost, "")
	provider := NewProvider(config.FirestoreConfig{})
	if _, err := provider.Client(context.Background()); err == nil {
		t.Fatal("expected error without project id")
	}
}

func TestProviderFallsBackToEnvironment(t *testing.T) {
	t.Setenv(envGoogleProjectID, "from-env")
	t.Setenv(envEmulatorHost, "localhost:8686")
	provider := NewProvider(config.FirestoreConfig{})
	if provider.projectID != "from-env" || provider.emulator != "localhost:8686" {
		t.Fatalf("unexpected provider %+v", provider)
	}
	provider = NewProvider(config.FirestoreConfig{ProjectID: "explicit"})
	if provider.projectID != "explicit" {
		t.Fatalf("config must win over env, got %q", provider.projectID)
	}
}

func TestProviderClosedRejectsClient(t *testing.T) {
	provider := NewProvider(config.FirestoreConfig{ProjectID: "p"})
	if err := provider.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := provider.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{codes.NotFound, true, false, false},
		{codes.AlreadyExists, false, true, false},
		{codes.Aborted, false, true, false},
		{codes.Unavailable, false, false, true},
		{codes.DeadlineExceeded, false, false, true},
		{codes.PermissionDenied, false, false, false},
	}
	for _, tc := range cases {
		err := Classify("audit.append", status.Error(tc.code, "boom"))
		repoErr, ok := err.(repositories.RepositoryError)
		if !ok {
			t.Fatalf("%s: expected RepositoryError, got %T", tc.code, err)
		}
		if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
			t.Fatalf("%s: unexpected classification %v", tc.code, err)
		}
	}

	if err := Classify("x", status.Error(codes.Canceled, "stop")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	wrapped := Classify("inner", status.Error(codes.NotFound, "gone"))
	if again := Classify("outer", fmt.Errorf("retry: %w", wrapped)); again != wrapped {
		t.Fatalf("expected existing classification to be kept, got %v", again)
	}
	if Classify("x", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}
