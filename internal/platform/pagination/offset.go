package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultLimit is used when the client omits limit.
	DefaultLimit = 20
	// DefaultMaxLimit caps limit to prevent unbounded listings.
	DefaultMaxLimit = 100
)

var (
	ErrInvalidPage  = errors.New("pagination: invalid page")
	ErrInvalidLimit = errors.New("pagination: invalid limit")
)

// Offset is a 1-based page number and a page size.
type Offset struct {
	Page  int
	Limit int
}

// Skip returns the number of rows preceding the page.
func (o Offset) Skip() int {
	if o.Page <= 1 || o.Limit <= 0 {
		return 0
	}
	return (o.Page - 1) * o.Limit
}

// Options control defaults and clamping.
type Options struct {
	DefaultLimit int
	MaxLimit     int
}

// ParseOffset reads page and limit from the query string. Missing values fall back to page 1 and
// the default limit; a limit above the maximum is clamped rather than rejected.
func ParseOffset(values url.Values, opts Options) (Offset, error) {
	maxLimit := opts.MaxLimit
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	defaultLimit := opts.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}

	out := Offset{Page: 1, Limit: defaultLimit}

	if raw := strings.TrimSpace(values.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return Offset{}, fmt.Errorf("%w: must be an integer", ErrInvalidPage)
		}
		if page < 1 {
			return Offset{}, fmt.Errorf("%w: must be at least 1", ErrInvalidPage)
		}
		out.Page = page
	}

	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return Offset{}, fmt.Errorf("%w: must be an integer", ErrInvalidLimit)
		}
		if limit < 1 {
			return Offset{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidLimit)
		}
		if limit > maxLimit {
			limit = maxLimit
		}
		out.Limit = limit
	}
	return out, nil
}

// TotalPages reports how many pages of limit rows hold total rows.
func TotalPages(total, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
