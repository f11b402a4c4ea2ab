package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// DefaultTTL bounds how long a replayable response is kept.
const DefaultTTL = 24 * time.Hour

// ErrKeyReused is returned when a key comes back with a different request.
var ErrKeyReused = errors.New("idempotency: key reused for a different request")

// Outcome is what Begin found for a key.
type Outcome int

const (
	// Fresh means the caller now owns the key and should run the request.
	Fresh Outcome = iota
	// InFlight means another request holds the key.
	InFlight
	// Replay means Entry.Response holds the response to send back.
	Replay
)

// Captured is a response kept for replay.
type Captured struct {
	Status int         `json:"status"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body,omitempty"`
}

// Entry is the stored state of one key.
type Entry struct {
	Fingerprint string    `json:"fingerprint"`
	Response    *Captured `json:"response,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Store keeps idempotency entries. Begin must be atomic: two concurrent callers with the same key
// never both see Fresh.
type Store interface {
	Begin(ctx context.Context, key, fingerprint string, ttl time.Duration) (Entry, Outcome, error)
	Finish(ctx context.Context, key, fingerprint string, resp Captured, ttl time.Duration) error
	Abort(ctx context.Context, key, fingerprint string) error
	Sweep(ctx context.Context, limit int) (int, error)
}

func outcomeOf(entry Entry, fingerprint string) (Outcome, error) {
	if entry.Fingerprint != fingerprint {
		return InFlight, ErrKeyReused
	}
	if entry.Response != nil {
		return Replay, nil
	}
	return InFlight, nil
}

// digest hashes keys and payloads so client-supplied keys never reach a backing store verbatim.
func digest(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

var hopHeaders = map[string]bool{
	"Connection":          true,
	"Content-Length":      true,
	"Date":                true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// replayable drops hop-by-hop headers before a response is stored.
func replayable(resp Captured) Captured {
	out := Captured{Status: resp.Status}
	if len(resp.Body) > 0 {
		out.Body = append([]byte(nil), resp.Body...)
	}
	for name, values := range resp.Header {
		name = http.CanonicalHeaderKey(name)
		if hopHeaders[name] {
			continue
		}
		if out.Header == nil {
			out.Header = http.Header{}
		}
		out.Header[name] = append([]string(nil), values...)
	}
	return out
}
