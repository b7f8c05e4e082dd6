package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"portrait-backend/internal/auth"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func supabaseServer(t *testing.T) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))

		switch r.Header.Get("Authorization") {
		case "Bearer good-token":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"user-1","email":"me@example.com","role":"authenticated"}`))
		case "Bearer broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"msg":"invalid JWT"}`))
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSupabaseVerifier(t *testing.T) {
	server := supabaseServer(t)

	verifier, err := auth.NewSupabaseVerifier(server.URL+"/", "anon-key")
	require.NoError(t, err)

	user, err := verifier.User(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.Id)
	assert.Equal(t, "me@example.com", user.Email)

	_, err = verifier.User(context.Background(), "expired")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = verifier.User(context.Background(), "")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = verifier.User(context.Background(), "broken")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrUnauthorized)
}

func TestNewSupabaseVerifierRequiresConfig(t *testing.T) {
	_, err := auth.NewSupabaseVerifier("", "key")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	server := supabaseServer(t)
	verifier, err := auth.NewSupabaseVerifier(server.URL, "anon-key")
	require.NoError(t, err)

	handler := auth.Middleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFromContext(r.Context())
		require.True(t, ok)
		w.Write([]byte(user.Id))
	}))

	cases := []struct {
		header string
		code   int
		body   string
	}{
		{header: "Bearer good-token", code: http.StatusOK, body: "user-1"},
		{header: "bearer good-token", code: http.StatusOK, body: "user-1"},
		{header: "", code: http.StatusUnauthorized, body: `{"error":"unauthorized"}` + "\n"},
		{header: "Bearer expired", code: http.StatusUnauthorized, body: `{"error":"unauthorized"}` + "\n"},
		{header: "Bearer broken", code: http.StatusBadGateway, body: `{"error":"unable to verify user"}` + "\n"},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, tc.code, rec.Code, tc.header)
		assert.Equal(t, tc.body, rec.Body.String(), tc.header)
	}
}

func TestTokenVerifier(t *testing.T) {
	user, err := auth.TokenVerifier{}.User(context.Background(), "local-user")
	require.NoError(t, err)
	assert.Equal(t, "local-user", user.Id)

	for _, token := range []string{"", "..", "../../x", "a/b", `a\b`} {
		_, err = auth.TokenVerifier{}.User(context.Background(), token)
		assert.ErrorIs(t, err, auth.ErrUnauthorized, token)
	}
}
