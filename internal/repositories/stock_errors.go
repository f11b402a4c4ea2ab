package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for stock operations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorInsufficient indicates requested quantity exceeds availability.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorProductNotFound indicates the product row does not exist.
	StockErrorProductNotFound StockErrorCode = "stock_product_not_found"
)

// StockError wraps stock-specific failures with machine readable codes.
type StockError struct {
	Op        string
	Code      StockErrorCode
	ProductID string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound implements RepositoryError.
func (e *StockError) IsNotFound() bool { return e != nil && e.Code == StockErrorProductNotFound }

// IsConflict implements RepositoryError.
func (e *StockError) IsConflict() bool { return e != nil && e.Code == StockErrorInsufficient }

// IsUnavailable implements RepositoryError.
func (e *StockError) IsUnavailable() bool { return false }

// NewStockError constructs a typed stock error.
func NewStockError(op string, code StockErrorCode, productID string, err error) *StockError {
	message := string(code)
	if productID != "" {
		message = fmt.Sprintf("%s (product %s)", code, productID)
	}
	return &StockError{
		Op:        op,
		Code:      code,
		ProductID: productID,
		Message:   message,
		Err:       err,
	}
}
