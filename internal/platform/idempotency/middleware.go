package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/hanko-field/orderops/internal/platform/httpx"
	"github.com/hanko-field/orderops/internal/platform/requestctx"
)

const (
	defaultHeader = "Idempotency-Key"
	replayHeader  = "X-Idempotent-Replay"
	maxKeyLength  = 255
)

// Logger receives persistence warnings.
type Logger interface {
	Warnf(format string, args ...any)
}

type options struct {
	header   string
	ttl      time.Duration
	methods  []string
	required bool
	maxBody  int64
	logger   Logger
}

// MiddlewareOption customises Middleware.
type MiddlewareOption func(*options)

// WithHeader names the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(o *options) {
		if name = strings.TrimSpace(name); name != "" {
			o.header = name
		}
	}
}

// WithTTL sets how long a response stays replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithMethods limits the guarded methods. Defaults to POST, PUT, PATCH and DELETE.
func WithMethods(methods ...string) MiddlewareOption {
	return func(o *options) {
		var guarded []string
		for _, m := range methods {
			if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
				guarded = append(guarded, m)
			}
		}
		if len(guarded) > 0 {
			o.methods = guarded
		}
	}
}

// WithRequiredKey rejects guarded requests without a key instead of passing them through.
func WithRequiredKey() MiddlewareOption {
	return func(o *options) { o.required = true }
}

// WithMaxBodyBytes caps the body buffered for fingerprinting.
func WithMaxBodyBytes(limit int64) MiddlewareOption {
	return func(o *options) {
		if limit > 0 {
			o.maxBody = limit
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) MiddlewareOption {
	return func(o *options) { o.logger = logger }
}

// Middleware makes retried mutations safe: a repeated key with the same request replays the first
// response, a repeated key with a different request is a conflict, and a key still being processed
// answers 409. Keys are scoped to the request actor. 5xx responses are not kept so clients can retry.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	o := options{
		header:  defaultHeader,
		ttl:     DefaultTTL,
		methods: []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	warn := func(format string, args ...any) {
		if o.logger != nil {
			o.logger.Warnf(format, args...)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !slices.Contains(o.methods, r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			key := strings.TrimSpace(r.Header.Get(o.header))
			switch {
			case key == "" && o.required:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing idempotency key header", http.StatusBadRequest))
				return
			case key == "":
				next.ServeHTTP(w, r)
				return
			case len(key) > maxKeyLength:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_invalid", "idempotency key is too long", http.StatusBadRequest))
				return
			}

			body, err := bufferBody(r, o.maxBody)
			if errors.Is(err, errBodyTooLarge) {
				httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
				return
			}
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}

			actor := requestctx.Actor(ctx)
			if actor == "" {
				actor = "anonymous"
			}
			scoped := actor + "|" + key
			fingerprint := digest([]byte(r.Method), []byte(r.URL.RequestURI()), []byte(r.Header.Get("Content-Type")), []byte(actor), body)

			entry, outcome, err := store.Begin(ctx, scoped, fingerprint, o.ttl)
			switch {
			case errors.Is(err, ErrKeyReused):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
				return
			case err != nil:
				warn("idempotency: begin failed: %v", err)
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			case outcome == Replay:
				replay(w, *entry.Response)
				return
			case outcome == InFlight:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
				return
			}

			rec := &capture{header: http.Header{}}
			next.ServeHTTP(rec, r)
			resp := rec.captured()

			if resp.Status >= http.StatusInternalServerError {
				if err := store.Abort(ctx, scoped, fingerprint); err != nil {
					warn("idempotency: abort after %d failed: %v", resp.Status, err)
				}
			} else if err := store.Finish(ctx, scoped, fingerprint, resp, o.ttl); err != nil {
				warn("idempotency: finish for %s failed: %v", actor, err)
				if err := store.Abort(ctx, scoped, fingerprint); err != nil {
					warn("idempotency: abort after finish failure: %v", err)
				}
			}
			write(w, resp)
		})
	}
}

var errBodyTooLarge = errors.New("idempotency: request body too large")

func bufferBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	reader := io.Reader(r.Body)
	if limit > 0 {
		reader = io.LimitReader(r.Body, limit+1)
	}
	data, err := io.ReadAll(reader)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func replay(w http.ResponseWriter, resp Captured) {
	w.Header().Set(replayHeader, "true")
	write(w, resp)
}

func write(w http.ResponseWriter, resp Captured) {
	for name, values := range resp.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

// capture buffers the handler response so it can be stored before reaching the client.
type capture struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (c *capture) Header() http.Header { return c.header }

func (c *capture) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
}

func (c *capture) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(p)
}

func (c *capture) captured() Captured {
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	return Captured{Status: status, Header: c.header, Body: c.body.Bytes()}
}
