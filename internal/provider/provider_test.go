package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticFailure_CarriesErrorMessageAndStatus502(t *testing.T) {
	pr := SyntheticFailure(assertErr("connection refused"), map[string]any{"model": "x"})
	assert.Equal(t, 502, pr.Status)
	assert.Contains(t, pr.Body.(string), "connection refused")
	assert.True(t, pr.Failed())
}

func TestDoJSONPost_CapturesSuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	pr := DoJSONPost(context.Background(), srv.URL, map[string]string{"Authorization": "Bearer secret"}, []byte(`{"model":"x"}`))

	require.NotNil(t, pr)
	assert.Equal(t, 200, pr.Status)
	assert.Equal(t, "yes", pr.Headers["x-upstream"])
	assert.Equal(t, `{"ok":true}`, pr.Body)
	assert.False(t, pr.Failed())
}

func TestDoJSONPost_CapturesUpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	pr := DoJSONPost(context.Background(), srv.URL, nil, []byte(`{}`))
	assert.Equal(t, 429, pr.Status)
	assert.True(t, pr.Failed())
}

func TestDoJSONPost_TransportFailureReturnsSyntheticFailure(t *testing.T) {
	pr := DoJSONPost(context.Background(), "http://127.0.0.1:1", nil, []byte(`{}`))
	assert.Equal(t, 502, pr.Status)
	assert.True(t, pr.Failed())
}

func TestRegistry_ResolveUnknownProviderErrors(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Resolve("nope")
	assert.Error(t, err)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
