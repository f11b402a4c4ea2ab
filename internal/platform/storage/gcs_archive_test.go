package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	gcs "cloud.google.com/go/storage"
)

func TestGCSArchivePutUploadsToEmulator(t *testing.T) {
	var (
		mu       sync.Mutex
		uploaded string
		path     string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		uploaded = string(body)
		path = r.URL.Path
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"bucket":"exports","name":"orderops/exports/a.csv","contentType":"text/csv"}`)
	}))
	defer srv.Close()
	t.Setenv("STORAGE_EMULATOR_HOST", strings.TrimPrefix(srv.URL, "http://"))

	ctx := context.Background()
	client, err := gcs.NewClient(ctx)
	if err != nil {
		t.Fatalf("gcs.NewClient: %v", err)
	}
	defer func() { _ = client.Close() }()

	archive, err := NewGCSArchive(client, "exports", "orderops")
	if err != nil {
		t.Fatalf("NewGCSArchive: %v", err)
	}
	uri, err := archive.Put(ctx, "exports/a.csv", "text/csv", []byte("sku,name,price\nA,Alpha,1\n"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if uri != "gs://exports/orderops/exports/a.csv" {
		t.Fatalf("unexpected uri %q", uri)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(path, "/b/exports/o") {
		t.Fatalf("unexpected upload path %q", path)
	}
	if !strings.Contains(uploaded, "A,Alpha,1") || !strings.Contains(uploaded, "orderops/exports/a.csv") {
		t.Fatalf("upload body missing object data: %q", uploaded)
	}
}

func TestNewGCSArchiveValidatesInput(t *testing.T) {
	if _, err := NewGCSArchive(nil, "exports", ""); err == nil {
		t.Fatalf("expected client error")
	}
}
