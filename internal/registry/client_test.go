package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClient_Health(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			w.Write([]byte(`{"status":"ok"}`))
		}))
		defer ts.Close()

		client := NewClient(ts.URL, "", ts.Client(), zap.NewNop())
		assert.True(t, client.Health(context.Background()))
	})

	t.Run("degraded status", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"status":"degraded"}`))
		}))
		defer ts.Close()

		client := NewClient(ts.URL, "", ts.Client(), zap.NewNop())
		assert.False(t, client.Health(context.Background()))
	})

	t.Run("unreachable", func(t *testing.T) {
		ts := httptest.NewServer(nil)
		ts.Close()

		client := NewClient(ts.URL, "", nil, zap.NewNop())
		assert.False(t, client.Health(context.Background()))
	})
}

func TestClient_SearchServers(t *testing.T) {
	t.Run("decodes results and sends auth", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/servers", r.URL.Path)
			assert.Equal(t, "gmail", r.URL.Query().Get("q"))
			assert.Equal(t, "5", r.URL.Query().Get("pageSize"))
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			w.Write([]byte(`{"servers":[
				{"qualifiedName":"gmail","displayName":"Gmail","isVerified":true},
				{"qualifiedName":"gmail-lite","displayName":"Gmail Lite"}
			]}`))
		}))
		defer ts.Close()

		client := NewClient(ts.URL, "test-key", ts.Client(), zap.NewNop())
		servers := client.SearchServers(context.Background(), "gmail")
		require.Len(t, servers, 2)
		assert.Equal(t, "gmail", servers[0].QualifiedName)
		assert.True(t, servers[0].Verified)
		assert.False(t, servers[1].Verified)
	})

	t.Run("no auth header without key", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.Header.Get("Authorization"))
			w.Write([]byte(`{"servers":[]}`))
		}))
		defer ts.Close()

		client := NewClient(ts.URL, "", ts.Client(), zap.NewNop())
		assert.Empty(t, client.SearchServers(context.Background(), "gmail"))
	})

	t.Run("server error degrades to empty", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer ts.Close()

		client := NewClient(ts.URL, "", ts.Client(), zap.NewNop())
		assert.Nil(t, client.SearchServers(context.Background(), "gmail"))
	})
}
