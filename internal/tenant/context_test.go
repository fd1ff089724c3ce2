package tenant

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestFromContextDefaultsToCentral(t *testing.T) {
	tc := FromContext(context.Background())
	require.Equal(t, ModeCentral, tc.Mode)
}

func TestMiddlewareBindsTenant(t *testing.T) {
	instA := uuid.New()
	resolver := NewResolver(StaticDirectory{"escola-a": instA}, "minerva.local")

	var seen Context
	handler := Middleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "http://escola-a.minerva.local/auth/login", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, ModeSubdomain, seen.Mode)
	require.Equal(t, instA, seen.InstitutionID)

	req = httptest.NewRequest(http.MethodGet, "http://minerva.local/auth/login", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, ModeCentral, seen.Mode)
}
