package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/hanko-field/orderops/internal/platform/requestctx"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	return s.token, s.err
}

func consoleToken(uid string, claims map[string]any) *firebaseauth.Token {
	return &firebaseauth.Token{UID: uid, Claims: claims}
}

func TestRequireFirebaseAuth(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		verifier   *stubTokenVerifier
		allowed    []string
		opts       []Option
		wantStatus int
		wantCode   string
		wantActor  string
		wantRoles  []string
	}{
		{
			name:   "staff with email",
			header: "Bearer token-value",
			verifier: &stubTokenVerifier{token: consoleToken("uid-123", map[string]any{
				"role":  []any{"Staff", "admin", "staff"},
				"email": " Ops@Example.com ",
			})},
			allowed:    []string{RoleStaff},
			wantStatus: http.StatusNoContent,
			wantActor:  "ops@example.com",
			wantRoles:  []string{RoleStaff, RoleAdmin},
		},
		{
			name:       "fallback role and uid actor",
			header:     "Bearer t",
			verifier:   &stubTokenVerifier{token: consoleToken("uid-456", map[string]any{})},
			wantStatus: http.StatusNoContent,
			wantActor:  "uid-456",
			wantRoles:  []string{RoleUser},
		},
		{
			name:       "custom claim map",
			header:     "bearer t",
			verifier:   &stubTokenVerifier{token: consoleToken("uid-7", map[string]any{"roles": map[string]any{"admin": true, "staff": false}})},
			opts:       []Option{WithRoleClaim("roles")},
			allowed:    []string{RoleAdmin},
			wantStatus: http.StatusNoContent,
			wantActor:  "uid-7",
			wantRoles:  []string{RoleAdmin},
		},
		{
			name:       "plain user forbidden",
			header:     "Bearer t",
			verifier:   &stubTokenVerifier{token: consoleToken("uid-789", map[string]any{"role": "user"})},
			allowed:    []string{RoleAdmin, RoleStaff},
			wantStatus: http.StatusForbidden,
			wantCode:   "insufficient_role",
		},
		{
			name:       "no role without fallback",
			header:     "Bearer t",
			verifier:   &stubTokenVerifier{token: consoleToken("uid-1", nil)},
			opts:       []Option{WithFallbackRole("")},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "missing_role",
		},
		{name: "expired", header: "Bearer t", verifier: &stubTokenVerifier{err: ErrTokenExpired}, wantStatus: http.StatusUnauthorized, wantCode: "token_expired"},
		{name: "rejected", header: "Bearer t", verifier: &stubTokenVerifier{err: errors.New("bad signature")}, wantStatus: http.StatusUnauthorized, wantCode: "invalid_token"},
		{name: "no header", verifier: &stubTokenVerifier{}, wantStatus: http.StatusUnauthorized, wantCode: "unauthenticated"},
		{name: "basic scheme", header: "Basic abc", verifier: &stubTokenVerifier{}, wantStatus: http.StatusUnauthorized, wantCode: "unauthenticated"},
		{name: "empty bearer", header: "Bearer ", verifier: &stubTokenVerifier{}, wantStatus: http.StatusUnauthorized, wantCode: "unauthenticated"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			authn := NewAuthenticator(tc.verifier, tc.opts...)

			var identity *Identity
			var actor string
			handler := authn.RequireFirebaseAuth(tc.allowed...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				identity, _ = IdentityFromContext(r.Context())
				actor = requestctx.Actor(r.Context())
				w.WriteHeader(http.StatusNoContent)
			}))

			req := httptest.NewRequest(http.MethodPatch, "/orders/ord_1", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
			if tc.wantCode != "" {
				var body map[string]any
				if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
					t.Fatalf("decode body: %v", err)
				}
				if body["error"] != tc.wantCode {
					t.Fatalf("error = %v, want %s", body["error"], tc.wantCode)
				}
				return
			}
			if actor != tc.wantActor {
				t.Fatalf("actor = %q, want %q", actor, tc.wantActor)
			}
			if identity == nil {
				t.Fatalf("identity missing from context")
			}
			for _, role := range tc.wantRoles {
				if !identity.HasRole(role) {
					t.Fatalf("missing role %q in %v", role, identity.Roles)
				}
			}
			if len(identity.Roles) != len(tc.wantRoles) {
				t.Fatalf("roles = %v, want %v", identity.Roles, tc.wantRoles)
			}
		})
	}
}

func TestRequireFirebaseAuth_PassesRawToken(t *testing.T) {
	verifier := &stubTokenVerifier{token: consoleToken("uid", map[string]any{"role": "admin"})}
	handler := NewAuthenticator(verifier).RequireFirebaseAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer   abc.def.ghi  ")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if verifier.received != "abc.def.ghi" {
		t.Fatalf("verifier received %q", verifier.received)
	}
}

func TestRolesFromClaim(t *testing.T) {
	cases := []struct {
		raw  any
		want []string
	}{
		{nil, []string{}},
		{" Admin ", []string{"admin"}},
		{[]string{"staff", "STAFF", ""}, []string{"staff"}},
		{[]any{"user", 3, "admin"}, []string{"user", "admin"}},
	}
	for _, tc := range cases {
		if got := rolesFromClaim(tc.raw); !slices.Equal(got, tc.want) {
			t.Errorf("rolesFromClaim(%v) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}
