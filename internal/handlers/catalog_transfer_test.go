package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orderops/internal/services"
)

type stubCatalogTransfer struct {
	importFn func(context.Context, services.ImportCommand) (services.ImportResult, error)
	exportFn func(context.Context, services.ExportCommand) (services.ExportResult, error)
}

func (s *stubCatalogTransfer) Import(ctx context.Context, cmd services.ImportCommand) (services.ImportResult, error) {
	if s.importFn != nil {
		return s.importFn(ctx, cmd)
	}
	return services.ImportResult{}, errors.New("not implemented")
}

func (s *stubCatalogTransfer) Export(ctx context.Context, cmd services.ExportCommand) (services.ExportResult, error) {
	if s.exportFn != nil {
		return s.exportFn(ctx, cmd)
	}
	return services.ExportResult{}, errors.New("not implemented")
}

func newCatalogRouter(h *CatalogHandlers) chi.Router {
	r := chi.NewRouter()
	r.Route("/catalog", h.Routes)
	return r
}

func multipartUpload(t *testing.T, fields map[string]string, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := io.WriteString(part, content); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestCatalogHandlersImport(t *testing.T) {
	var captured services.ImportCommand
	var payload string
	svc := &stubCatalogTransfer{
		importFn: func(_ context.Context, cmd services.ImportCommand) (services.ImportResult, error) {
			captured = cmd
			data, err := io.ReadAll(cmd.Source)
			if err != nil {
				return services.ImportResult{}, err
			}
			payload = string(data)
			return services.ImportResult{
				RunID:      "run_1",
				Total:      3,
				Success:    1,
				Failed:     1,
				Duplicates: 1,
				Errors:     []services.Violation{{Row: 3, Field: "price", Value: "-1", Error: "must not be negative"}},
			}, nil
		},
	}
	router := newCatalogRouter(NewCatalogHandlers(svc))

	body, contentType := multipartUpload(t, map[string]string{"delimiter": "semicolon", "onDuplicate": "update"}, "products.csv", "sku;name;price\nA;Alpha;1\n")
	req := httptest.NewRequest(http.MethodPost, "/catalog/import", body)
	req.Header.Set("Content-Type", contentType)
	req = withActor(req, "admin@example.com")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Delimiter != ';' || captured.OnDuplicate != "update" || captured.Filename != "products.csv" || captured.Actor != "admin@example.com" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if !strings.HasPrefix(payload, "sku;name;price") {
		t.Fatalf("unexpected payload %q", payload)
	}
	resp := decodeBody(t, rr)
	if resp["runId"] != "run_1" || resp["duplicates"].(float64) != 1 {
		t.Fatalf("unexpected response %v", resp)
	}
	errs := resp["errors"].([]any)
	if len(errs) != 1 || errs[0].(map[string]any)["row"].(float64) != 3 {
		t.Fatalf("unexpected errors %v", errs)
	}
}

func TestCatalogHandlersImportValidation(t *testing.T) {
	cases := []struct {
		name     string
		fields   map[string]string
		filename string
		err      error
		status   int
		code     string
	}{
		{name: "missing file", fields: map[string]string{"delimiter": ","}, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "bad delimiter", fields: map[string]string{"delimiter": "ab"}, filename: "p.csv", status: http.StatusBadRequest, code: "invalid_request"},
		{name: "too many rows", filename: "p.csv", err: fmt.Errorf("%w: 1001 rows", services.ErrCatalogTooManyRows), status: http.StatusBadRequest, code: "too_many_rows"},
		{name: "missing columns", filename: "p.csv", err: fmt.Errorf("%w: sku column is required", services.ErrCatalogInvalidInput), status: http.StatusBadRequest, code: "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubCatalogTransfer{
				importFn: func(context.Context, services.ImportCommand) (services.ImportResult, error) {
					return services.ImportResult{}, tc.err
				},
			}
			router := newCatalogRouter(NewCatalogHandlers(svc))
			body, contentType := multipartUpload(t, tc.fields, tc.filename, "sku,name\n")
			req := httptest.NewRequest(http.MethodPost, "/catalog/import", body)
			req.Header.Set("Content-Type", contentType)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if resp := decodeBody(t, rr); resp["error"] != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, resp["error"])
			}
		})
	}
}

func TestCatalogHandlersImportTooLarge(t *testing.T) {
	router := newCatalogRouter(NewCatalogHandlers(&stubCatalogTransfer{}, WithCatalogMaxUploadBytes(64)))
	body, contentType := multipartUpload(t, nil, "big.csv", strings.Repeat("x", 4096))
	req := httptest.NewRequest(http.MethodPost, "/catalog/import", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestCatalogHandlersExport(t *testing.T) {
	var captured services.ExportCommand
	svc := &stubCatalogTransfer{
		exportFn: func(_ context.Context, cmd services.ExportCommand) (services.ExportResult, error) {
			captured = cmd
			return services.ExportResult{
				Filename:    "products-20260301.csv",
				ContentType: "text/csv; charset=utf-8",
				Data:        []byte("sku,name\nA,Alpha\n"),
				Rows:        1,
				ArchiveURI:  "gs://exports/products-20260301.csv",
			}, nil
		},
	}
	router := newCatalogRouter(NewCatalogHandlers(svc))
	req := httptest.NewRequest(http.MethodPost, "/catalog/export", strings.NewReader(`{"fields":["sku","name"],"includeInactive":true}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.Fields) != 2 || !captured.IncludeInactive {
		t.Fatalf("unexpected command %+v", captured)
	}
	if got := rr.Header().Get("Content-Disposition"); got != `attachment; filename=products-20260301.csv` {
		t.Fatalf("unexpected disposition %q", got)
	}
	if rr.Header().Get("X-Export-Rows") != "1" || rr.Header().Get("X-Export-Archive") == "" {
		t.Fatalf("unexpected export headers %v", rr.Header())
	}
	if rr.Body.String() != "sku,name\nA,Alpha\n" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestCatalogHandlersExportAcceptsEmptyBody(t *testing.T) {
	called := false
	svc := &stubCatalogTransfer{
		exportFn: func(context.Context, services.ExportCommand) (services.ExportResult, error) {
			called = true
			return services.ExportResult{Filename: "p.csv", ContentType: "text/csv"}, nil
		},
	}
	router := newCatalogRouter(NewCatalogHandlers(svc))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/catalog/export", nil))

	if rr.Code != http.StatusOK || !called {
		t.Fatalf("expected export with defaults, got %d", rr.Code)
	}
}

func TestParseDelimiterNames(t *testing.T) {
	cases := map[string]rune{"": ',', "comma": ',', "semicolon": ';', "\t": '\t', "tab": '\t', "pipe": '|', "~": '~'}
	for raw, want := range cases {
		got, err := parseDelimiter(raw)
		if err != nil || got != want {
			t.Fatalf("parseDelimiter(%q) = %q, %v; want %q", raw, got, err, want)
		}
	}
	if _, err := parseDelimiter(`"`); err == nil {
		t.Fatal("expected quote delimiter to be rejected")
	}
}
