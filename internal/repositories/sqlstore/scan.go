package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// timeLayouts covers the textual forms SQLite hands back for TIMESTAMP columns.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// flexTime scans timestamps from drivers that return either time.Time or text.
type flexTime struct {
	Time  time.Time
	Valid bool
}

func (t *flexTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("sqlstore: cannot scan %T into time", src)
	}
}

func (t *flexTime) parse(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t.Time, t.Valid = time.Time{}, false
		return nil
	}
	if i := strings.Index(raw, " m="); i > 0 {
		raw = raw[:i]
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			t.Time, t.Valid = ts.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("sqlstore: unrecognised timestamp %q", raw)
}

func (t flexTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	ts := t.Time
	return &ts
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	value := ns.String
	return &value
}

func nullableArg(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC()
}

// encodeJSON stores maps as JSON text; empty maps become an empty string.
func encodeJSON(value map[string]any) (string, error) {
	if len(value) == 0 {
		return "", nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeJSON parses stored JSON text. Malformed content yields nil rather than failing the read.
func decodeJSON(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
