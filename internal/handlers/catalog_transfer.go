package handlers

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orderops/internal/platform/httpx"
	"github.com/hanko-field/orderops/internal/services"
)

const (
	defaultImportMaxBytes = 5 << 20
	multipartMemory       = 1 << 20
	maxExportBodySize     = 16 * 1024
)

// CatalogHandlers serves the catalog import and export endpoints mounted under /catalog.
type CatalogHandlers struct {
	transfer services.CatalogTransferService
	maxBytes int64
	limiter  rateLimiter
}

// CatalogHandlerOption customises CatalogHandlers.
type CatalogHandlerOption func(*CatalogHandlers)

// WithCatalogMaxUploadBytes caps the multipart upload size.
func WithCatalogMaxUploadBytes(n int64) CatalogHandlerOption {
	return func(h *CatalogHandlers) {
		if n > 0 {
			h.maxBytes = n
		}
	}
}

// WithCatalogImportLimiter throttles imports per actor.
func WithCatalogImportLimiter(limiter rateLimiter) CatalogHandlerOption {
	return func(h *CatalogHandlers) {
		h.limiter = limiter
	}
}

// NewCatalogHandlers constructs catalog transfer handlers.
func NewCatalogHandlers(transfer services.CatalogTransferService, opts ...CatalogHandlerOption) *CatalogHandlers {
	h := &CatalogHandlers{transfer: transfer, maxBytes: defaultImportMaxBytes}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /catalog endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(rateLimitMiddleware(h.limiter, "catalog.import")).Post("/import", h.importProducts)
	r.Post("/export", h.exportProducts)
}

type importResponse struct {
	RunID      string                 `json:"runId"`
	Total      int                    `json:"total"`
	Success    int                    `json:"success"`
	Failed     int                    `json:"failed"`
	Duplicates int                    `json:"duplicates"`
	Errors     []httpx.FieldViolation `json:"errors"`
}

func (h *CatalogHandlers) importProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.transfer == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", fmt.Sprintf("upload exceeds %d bytes", h.maxBytes), http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "multipart form with a file field is required", http.StatusBadRequest))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "file is required", http.StatusBadRequest).
			WithViolations([]httpx.FieldViolation{{Field: "file", Error: "is required"}}))
		return
	}
	defer file.Close()

	delimiter, err := parseDelimiter(r.FormValue("delimiter"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest).
			WithViolations([]httpx.FieldViolation{{Field: "delimiter", Value: r.FormValue("delimiter"), Error: err.Error()}}))
		return
	}

	result, err := h.transfer.Import(ctx, services.ImportCommand{
		Source:      file,
		Filename:    header.Filename,
		Delimiter:   delimiter,
		OnDuplicate: r.FormValue("onDuplicate"),
		Actor:       actorFromRequest(r),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	errs := toFieldViolations(result.Errors)
	if errs == nil {
		errs = []httpx.FieldViolation{}
	}
	writeJSONResponse(w, http.StatusOK, importResponse{
		RunID:      result.RunID,
		Total:      result.Total,
		Success:    result.Success,
		Failed:     result.Failed,
		Duplicates: result.Duplicates,
		Errors:     errs,
	})
}

type exportRequest struct {
	Fields          []string `json:"fields"`
	Format          string   `json:"format"`
	IncludeImages   bool     `json:"includeImages"`
	IncludeInactive bool     `json:"includeInactive"`
}

func (h *CatalogHandlers) exportProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.transfer == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req exportRequest
	if err := decodeJSONBody(r, maxExportBodySize, &req); err != nil && !errors.Is(err, errEmptyBody) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.transfer.Export(ctx, services.ExportCommand{
		Fields:          req.Fields,
		Format:          req.Format,
		IncludeImages:   req.IncludeImages,
		IncludeInactive: req.IncludeInactive,
		Actor:           actorFromRequest(r),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": result.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.Header().Set("X-Export-Rows", strconv.Itoa(result.Rows))
	if result.ArchiveURI != "" {
		w.Header().Set("X-Export-Archive", result.ArchiveURI)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogTooManyRows):
		httpx.WriteError(ctx, w, httpx.NewError("too_many_rows", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogInvalidInput):
		if writeViolations(ctx, w, "invalid_request", err) {
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		writeInternalError(ctx, w, "catalog_error", err)
	}
}

// parseDelimiter accepts a single character or the names comma, semicolon, tab and pipe.
func parseDelimiter(raw string) (rune, error) {
	if raw == "\t" {
		return '\t', nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "comma", ",":
		return ',', nil
	case "semicolon", ";":
		return ';', nil
	case "tab", `\t`:
		return '\t', nil
	case "pipe", "|":
		return '|', nil
	}
	if utf8.RuneCountInString(raw) != 1 {
		return 0, errors.New("delimiter must be a single character")
	}
	r, _ := utf8.DecodeRuneInString(raw)
	switch r {
	case '"', '\r', '\n', utf8.RuneError:
		return 0, errors.New("delimiter is not allowed")
	}
	return r, nil
}
