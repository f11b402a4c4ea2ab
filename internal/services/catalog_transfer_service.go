package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/text/unicode/norm"

	domain "github.com/hanko-field/orderops/internal/domain"
	"github.com/hanko-field/orderops/internal/repositories"
)

const (
	defaultImportRowCap = 1000
	maxExportRows       = 10000
	productIDPrefix     = "prod_"

	exportFormatCSV  = "csv"
	exportFormatJSON = "json"

	importOutcomeSuccess   = "success"
	importOutcomeFailed    = "failed"
	importOutcomeDuplicate = "duplicate"

	importModeUpdate = "update"
	importModeSkip   = "skip"

	catalogEventImported      = "catalog.import.completed"
	catalogEventExported      = "catalog.export.completed"
	catalogEventArchiveFailed = "catalog.export.archive_failed"
)

var (
	// ErrCatalogInvalidInput indicates a malformed upload or export request.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogTooManyRows indicates an upload exceeding the row cap.
	ErrCatalogTooManyRows = errors.New("catalog: too many rows")
)

// catalogFields is the canonical column order for exports and the accepted import header.
var catalogFields = []string{
	FieldSKU,
	FieldName,
	FieldDescription,
	FieldPrice,
	FieldStockQuantity,
	FieldCategory,
	FieldImageURL,
	FieldActive,
	FieldTrackInventory,
}

var headerAliases = map[string]string{
	"quantity":       FieldStockQuantity,
	"stock":          FieldStockQuantity,
	"qty":            FieldStockQuantity,
	"image":          FieldImageURL,
	"imageurl":       FieldImageURL,
	"is_active":      FieldActive,
	"stockquantity":  FieldStockQuantity,
	"trackinventory": FieldTrackInventory,
	"product_name":   FieldName,
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ImportMetrics observes import row outcomes.
type ImportMetrics interface {
	ImportRows(outcome string, count int)
}

// ExportArchive stores a copy of a rendered export.
type ExportArchive interface {
	Put(ctx context.Context, key string, contentType string, data []byte) (string, error)
}

// CatalogTransferServiceDeps bundles collaborators for import and export.
type CatalogTransferServiceDeps struct {
	Products repositories.ProductRepository
	Archive  ExportArchive
	Metrics  ImportMetrics
	MaxRows  int
	// MaxExportRows caps Export; larger catalogs are refused rather than cut short.
	MaxExportRows int
	Clock         func() time.Time
	IDGenerator   func() string
	RunID         func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type catalogTransferService struct {
	products  repositories.ProductRepository
	archive   ExportArchive
	metrics   ImportMetrics
	maxRows   int
	exportCap int
	clock     func() time.Time
	newID     func() string
	runID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewCatalogTransferService constructs the import/export pipeline.
func NewCatalogTransferService(deps CatalogTransferServiceDeps) (CatalogTransferService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog transfer service: product repository is required")
	}
	maxRows := deps.MaxRows
	if maxRows <= 0 {
		maxRows = defaultImportRowCap
	}
	exportCap := deps.MaxExportRows
	if exportCap <= 0 {
		exportCap = maxExportRows
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	runID := deps.RunID
	if runID == nil {
		runID = func() string { return uuid.NewString() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogTransferService{
		products:  deps.Products,
		archive:   deps.Archive,
		metrics:   deps.Metrics,
		maxRows:   maxRows,
		exportCap: exportCap,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		runID:     runID,
		logger:    logger,
	}, nil
}

func (s *catalogTransferService) Import(ctx context.Context, cmd ImportCommand) (ImportResult, error) {
	if cmd.Source == nil {
		return ImportResult{}, fmt.Errorf("%w: file is required", ErrCatalogInvalidInput)
	}
	mode := strings.ToLower(strings.TrimSpace(cmd.OnDuplicate))
	switch mode {
	case "":
		mode = importModeUpdate
	case importModeUpdate, importModeSkip:
	default:
		return ImportResult{}, fmt.Errorf("%w: onDuplicate must be update or skip", ErrCatalogInvalidInput)
	}

	rows, err := ParseImportRows(cmd.Source, cmd.Delimiter, s.maxRows)
	if err != nil {
		return ImportResult{}, err
	}

	result := ImportResult{RunID: s.runID(), Total: len(rows)}
	valid, violations := ValidateImportRows(rows)
	result.Errors = violations

	unique := make([]ImportRow, 0, len(valid))
	seen := make(map[string]struct{}, len(valid))
	for _, row := range valid {
		sku := strings.TrimSpace(row.Values[FieldSKU])
		if _, dup := seen[sku]; dup {
			result.Duplicates++
			continue
		}
		seen[sku] = struct{}{}
		unique = append(unique, row)
	}

	// Importing is sequential and never cancelled midway; a disconnect leaves a consistent prefix.
	ctx = context.WithoutCancel(ctx)
	if mode == importModeSkip && len(unique) > 0 {
		existing, err := s.products.FindBySKUs(ctx, sortedKeys(seen))
		if err != nil {
			return ImportResult{}, fmt.Errorf("catalog: load existing skus: %w", err)
		}
		filtered := unique[:0]
		for _, row := range unique {
			if _, ok := existing[strings.TrimSpace(row.Values[FieldSKU])]; ok {
				result.Duplicates++
				continue
			}
			filtered = append(filtered, row)
		}
		unique = filtered
	}

	now := s.clock()
	for _, row := range unique {
		product := s.productFromRow(row, now)
		if _, err := s.products.Upsert(ctx, product); err != nil {
			result.Errors = append(result.Errors, Violation{
				Row:   row.Index,
				Field: FieldSKU,
				Value: product.SKU,
				Error: "could not be saved: " + persistErrorReason(err),
			})
			continue
		}
		result.Success++
	}

	failedRows := make(map[int]struct{})
	for _, v := range result.Errors {
		failedRows[v.Row] = struct{}{}
	}
	result.Failed = len(failedRows)

	if s.metrics != nil {
		s.metrics.ImportRows(importOutcomeSuccess, result.Success)
		s.metrics.ImportRows(importOutcomeFailed, result.Failed)
		s.metrics.ImportRows(importOutcomeDuplicate, result.Duplicates)
	}
	s.logger(ctx, catalogEventImported, map[string]any{
		"runId":      result.RunID,
		"file":       cmd.Filename,
		"actor":      cmd.Actor,
		"total":      result.Total,
		"success":    result.Success,
		"failed":     result.Failed,
		"duplicates": result.Duplicates,
	})
	return result, nil
}

func (s *catalogTransferService) Export(ctx context.Context, cmd ExportCommand) (ExportResult, error) {
	fields, err := resolveExportFields(cmd.Fields, cmd.IncludeImages)
	if err != nil {
		return ExportResult{}, err
	}
	format := strings.ToLower(strings.TrimSpace(cmd.Format))
	if format == "" {
		format = exportFormatCSV
	}
	if format != exportFormatCSV && format != exportFormatJSON {
		return ExportResult{}, fmt.Errorf("%w: format must be csv or json", ErrCatalogInvalidInput)
	}

	products, err := s.products.List(ctx, repositories.ProductListFilter{
		IncludeInactive: cmd.IncludeInactive,
		Limit:           s.exportCap + 1,
	})
	if err != nil {
		return ExportResult{}, fmt.Errorf("catalog: list products: %w", err)
	}
	if len(products) > s.exportCap {
		return ExportResult{}, fmt.Errorf("%w: catalog exceeds export cap of %d rows, narrow the export", ErrCatalogInvalidInput, s.exportCap)
	}

	var (
		data        []byte
		contentType string
	)
	switch format {
	case exportFormatJSON:
		rows := make([]map[string]any, 0, len(products))
		for _, product := range products {
			row := make(map[string]any, len(fields))
			for _, field := range fields {
				row[field] = productValue(product, field)
			}
			rows = append(rows, row)
		}
		data, err = json.Marshal(rows)
		contentType = "application/json"
	default:
		data, err = renderCSV(fields, products)
		contentType = "text/csv; charset=utf-8"
	}
	if err != nil {
		return ExportResult{}, fmt.Errorf("catalog: render export: %w", err)
	}

	now := s.clock()
	result := ExportResult{
		Filename:    fmt.Sprintf("catalog-export-%s.%s", now.Format("20060102T150405Z"), format),
		ContentType: contentType,
		Data:        data,
		Rows:        len(products),
		Fields:      fields,
	}

	if s.archive != nil {
		key := fmt.Sprintf("exports/catalog/%s/%s", now.Format("2006/01/02"), result.Filename)
		uri, err := s.archive.Put(ctx, key, contentType, data)
		if err != nil {
			s.logger(ctx, catalogEventArchiveFailed, map[string]any{"key": key, "error": err.Error()})
		} else {
			result.ArchiveURI = uri
		}
	}

	s.logger(ctx, catalogEventExported, map[string]any{
		"format":  format,
		"rows":    result.Rows,
		"fields":  strings.Join(fields, ","),
		"actor":   cmd.Actor,
		"archive": result.ArchiveURI,
	})
	return result, nil
}

func (s *catalogTransferService) productFromRow(row ImportRow, now time.Time) Product {
	values := row.Values
	price, _ := strconv.ParseFloat(strings.TrimSpace(values[FieldPrice]), 64)
	stock, _ := strconv.Atoi(strings.TrimSpace(values[FieldStockQuantity]))
	active := true
	if v, ok := parseFlag(values[FieldActive]); ok {
		active = v
	}
	track := true
	if v, ok := parseFlag(values[FieldTrackInventory]); ok {
		track = v
	}
	return Product{
		ID:             productIDPrefix + s.newID(),
		SKU:            strings.TrimSpace(values[FieldSKU]),
		Name:           sanitizeText(norm.NFKC.String(values[FieldName]), 200),
		Description:    sanitizeText(norm.NFKC.String(values[FieldDescription]), 2000),
		Category:       sanitizeText(norm.NFKC.String(values[FieldCategory]), 120),
		ImageURL:       strings.TrimSpace(values[FieldImageURL]),
		Price:          domain.RoundMoney(price),
		StockQuantity:  stock,
		TrackInventory: track,
		Active:         active,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// ParseImportRows reads a delimited file with a header row. The row cap is enforced while reading.
func ParseImportRows(source io.Reader, delimiter rune, maxRows int) ([]ImportRow, error) {
	if delimiter == 0 {
		delimiter = ','
	}
	if delimiter == '"' || delimiter == '\r' || delimiter == '\n' || !utf8.ValidRune(delimiter) {
		return nil, fmt.Errorf("%w: unsupported delimiter %q", ErrCatalogInvalidInput, delimiter)
	}
	if maxRows <= 0 {
		maxRows = defaultImportRowCap
	}

	buffered := bufio.NewReader(source)
	if prefix, err := buffered.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		_, _ = buffered.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(buffered)
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rawHeader, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: file is empty", ErrCatalogInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}
	header, err := normalizeHeader(rawHeader)
	if err != nil {
		return nil, err
	}

	var rows []ImportRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			if len(rows) >= maxRows {
				return nil, fmt.Errorf("%w: limit is %d rows", ErrCatalogTooManyRows, maxRows)
			}
			rows = append(rows, ImportRow{Index: parseErr.StartLine, Malformed: parseErr.Err.Error()})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
		}
		if blankRecord(record) {
			continue
		}
		if len(rows) >= maxRows {
			return nil, fmt.Errorf("%w: limit is %d rows", ErrCatalogTooManyRows, maxRows)
		}
		line, _ := reader.FieldPos(0)
		values := make(map[string]string, len(header))
		for i, column := range header {
			if column == "" || i >= len(record) {
				continue
			}
			values[column] = strings.TrimSpace(record[i])
		}
		rows = append(rows, ImportRow{Index: line, Values: values})
	}
	return rows, nil
}

func normalizeHeader(raw []string) ([]string, error) {
	header := make([]string, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for i, column := range raw {
		name := NormalizeColumnName(column)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrCatalogInvalidInput, name)
		}
		seen[name] = struct{}{}
		header[i] = name
	}
	var missing []string
	for _, field := range requiredImportFields {
		if _, ok := seen[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required columns %s", ErrCatalogInvalidInput, strings.Join(missing, ", "))
	}
	return header, nil
}

// NormalizeColumnName lower-cases a header cell, replaces separators with underscores and applies aliases.
func NormalizeColumnName(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)
	if alias, ok := headerAliases[name]; ok {
		return alias
	}
	return name
}

func resolveExportFields(requested []string, includeImages bool) ([]string, error) {
	selected := make(map[string]struct{}, len(catalogFields))
	if len(requested) == 0 {
		for _, field := range catalogFields {
			selected[field] = struct{}{}
		}
	}
	for _, raw := range requested {
		name := NormalizeColumnName(raw)
		if name == "" {
			continue
		}
		if !slices.Contains(catalogFields, name) {
			return nil, fmt.Errorf("%w: unknown export field %q", ErrCatalogInvalidInput, raw)
		}
		selected[name] = struct{}{}
	}
	for _, field := range requiredImportFields {
		selected[field] = struct{}{}
	}
	if includeImages {
		selected[FieldImageURL] = struct{}{}
	} else {
		delete(selected, FieldImageURL)
	}

	fields := make([]string, 0, len(selected))
	for _, field := range catalogFields {
		if _, ok := selected[field]; ok {
			fields = append(fields, field)
		}
	}
	return fields, nil
}

func renderCSV(fields []string, products []Product) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(fields); err != nil {
		return nil, err
	}
	record := make([]string, len(fields))
	for _, product := range products {
		for i, field := range fields {
			record[i] = formatProductValue(productValue(product, field))
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func productValue(product Product, field string) any {
	switch field {
	case FieldSKU:
		return product.SKU
	case FieldName:
		return product.Name
	case FieldDescription:
		return product.Description
	case FieldPrice:
		return product.Price
	case FieldStockQuantity:
		return product.StockQuantity
	case FieldCategory:
		return product.Category
	case FieldImageURL:
		return product.ImageURL
	case FieldActive:
		return product.Active
	case FieldTrackInventory:
		return product.TrackInventory
	default:
		return nil
	}
}

func formatProductValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func blankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func persistErrorReason(err error) string {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			return "conflicts with an existing product"
		case repoErr.IsUnavailable():
			return "storage unavailable"
		}
	}
	return "storage error"
}
