package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/hanko-field/orderops/internal/platform/requestctx"
)

// MetricsRecorder counts verification outcomes.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

// OIDCValidator guards /internal for schedulers and task queues presenting Google-signed OIDC or
// IAP tokens.
type OIDCValidator struct {
	cache   *JWKSCache
	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// OIDCOption customises the validator.
type OIDCOption func(*OIDCValidator)

// WithOIDCLogger sets the logger.
func WithOIDCLogger(logger Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithOIDCMetrics sets the metrics recorder.
func WithOIDCMetrics(recorder MetricsRecorder) OIDCOption {
	return func(v *OIDCValidator) {
		v.metrics = recorder
	}
}

// WithOIDCClock injects a clock for tests.
func WithOIDCClock(now func() time.Time) OIDCOption {
	return func(v *OIDCValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// NewOIDCValidator verifies tokens against the keys in cache.
func NewOIDCValidator(cache *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	v := &OIDCValidator{cache: cache, logger: noopLogger{}, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// ServiceIdentity is the verified caller of an internal endpoint.
type ServiceIdentity struct {
	Subject  string
	Email    string
	Issuer   string
	Audience string
}

// Actor is "service:" followed by the email or, failing that, the subject.
func (s *ServiceIdentity) Actor() string {
	if s == nil {
		return ""
	}
	if email := strings.TrimSpace(s.Email); email != "" {
		return "service:" + strings.ToLower(email)
	}
	if s.Subject != "" {
		return "service:" + s.Subject
	}
	return ""
}

type serviceIdentityKey struct{}

// ServiceIdentityFromContext returns the identity set by RequireOIDC.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

type verificationFailure struct {
	status  int
	code    string
	reason  string
	message string
}

// RequireOIDC admits requests carrying an RS256 token for audience and, when issuers is non-empty,
// from one of those issuers. The token is read from the Authorization bearer or the IAP assertion
// header. Key set outages answer 503 so callers retry.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	allowed := make([]string, 0, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowed = append(allowed, issuer)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := v.now()

			identity, failure := v.verify(ctx, r, audience, allowed)
			if failure != nil {
				v.record(ctx, false, failure.reason, start)
				respondAuthError(ctx, w, failure.status, failure.code, failure.message)
				return
			}

			v.record(ctx, true, "ok", start)
			ctx = context.WithValue(ctx, serviceIdentityKey{}, identity)
			ctx = requestctx.WithActor(ctx, identity.Actor())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (v *OIDCValidator) verify(ctx context.Context, r *http.Request, audience string, issuers []string) (*ServiceIdentity, *verificationFailure) {
	if audience == "" {
		return nil, &verificationFailure{http.StatusServiceUnavailable, "verification_unavailable", "audience_not_configured", "oidc audience not configured"}
	}
	raw := oidcToken(r)
	if raw == "" {
		return nil, &verificationFailure{http.StatusUnauthorized, "unauthenticated", "token_missing", "oidc token missing"}
	}
	if v.cache == nil {
		return nil, &verificationFailure{http.StatusServiceUnavailable, "verification_unavailable", "cache_unavailable", "oidc verification unavailable"}
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if _, err := parser.ParseWithClaims(raw, claims, v.cache.Keyfunc(ctx)); err != nil {
		if errors.Is(err, ErrJWKSFetchFailed) {
			v.logger.Warnf("auth: oidc key set unavailable: %v", err)
			return nil, &verificationFailure{http.StatusServiceUnavailable, "jwks_unavailable", "jwks_unavailable", "oidc verification unavailable"}
		}
		v.logger.Warnf("auth: oidc token rejected: %v", err)
		return nil, &verificationFailure{http.StatusUnauthorized, "invalid_token", "token_invalid", "oidc token verification failed"}
	}

	issuer, _ := claims["iss"].(string)
	if len(issuers) > 0 && !slices.Contains(issuers, issuer) {
		v.logger.Warnf("auth: oidc issuer %q not allowed", issuer)
		return nil, &verificationFailure{http.StatusUnauthorized, "invalid_token", "issuer_mismatch", "oidc issuer mismatch"}
	}
	if !claims.VerifyAudience(audience, true) {
		v.logger.Warnf("auth: oidc audience mismatch, expected %q", audience)
		return nil, &verificationFailure{http.StatusUnauthorized, "invalid_token", "audience_mismatch", "oidc audience mismatch"}
	}

	identity := &ServiceIdentity{Issuer: issuer, Audience: audience}
	identity.Email, _ = claims["email"].(string)
	identity.Subject, _ = claims["sub"].(string)
	return identity, nil
}

func (v *OIDCValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v.metrics != nil {
		v.metrics.RecordVerification(ctx, "oidc", success, reason, v.now().Sub(start))
	}
}

func oidcToken(r *http.Request) string {
	if token, ok := extractBearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Goog-Iap-Jwt-Assertion"))
}
