package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"archivegate/internal/auth/models"
	dErrors "archivegate/pkg/domain-errors"
	"archivegate/pkg/requestcontext"
)

type stubValidator map[string]*models.Scope

func (s stubValidator) Validate(_ context.Context, header string) (*models.Scope, error) {
	if header == "Bearer broken" {
		return nil, dErrors.New(dErrors.CodeInternal, "token store down")
	}
	if scope, ok := s[header]; ok {
		return scope, nil
	}
	return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
}

func TestAuthenticateAndRequireRole(t *testing.T) {
	validator := stubValidator{
		"Bearer auditor": {RequesterID: "aud-1", Roles: []string{models.RoleAuditor}},
		"Bearer analyst": {RequesterID: "ana-1", Datasets: []string{"fbi-vault"}},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var seen string
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.RequesterID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := Authenticate(validator, logger)(RequireRole(models.RoleAuditor, logger)(final))

	cases := []struct {
		header string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer nope", http.StatusUnauthorized},
		{"Bearer broken", http.StatusInternalServerError},
		{"Bearer analyst", http.StatusForbidden},
		{"Bearer auditor", http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/v1/audit/verify", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, tc.status, rr.Code, tc.header)
	}
	assert.Equal(t, "aud-1", seen)
}

func TestRequireRoleWithoutAuthenticate(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RequireRole(models.RoleOperator, logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
