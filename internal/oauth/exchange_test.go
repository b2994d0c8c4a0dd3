package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alpaca-computer/alpaca-connect/internal/storage"
)

func TestTokenEndpoint(t *testing.T) {
	tests := []struct {
		name      string
		serverURL string
		want      string
	}{
		{
			name:      "service subdomain is swapped for auth subdomain",
			serverURL: "https://server.smithery.ai/gmail",
			want:      "https://auth.smithery.ai/gmail/token",
		},
		{
			name:      "trailing slash is normalized",
			serverURL: "https://server.smithery.ai/gmail/",
			want:      "https://auth.smithery.ai/gmail/token",
		},
		{
			name:      "host without service prefix is kept",
			serverURL: "https://mcp.example.com/gmail",
			want:      "https://mcp.example.com/gmail/token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TokenEndpoint(tt.serverURL)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExchanger_Exchange(t *testing.T) {
	t.Run("success saves tokens and ends the flow", func(t *testing.T) {
		var gotForm map[string]string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			gotForm = map[string]string{
				"grant_type":    r.PostFormValue("grant_type"),
				"code":          r.PostFormValue("code"),
				"redirect_uri":  r.PostFormValue("redirect_uri"),
				"code_verifier": r.PostFormValue("code_verifier"),
				"client_id":     r.PostFormValue("client_id"),
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600,"refresh_token":"rt-1"}`))
		}))
		defer ts.Close()

		session, _, _, repo := newTestSession(t)
		require.NoError(t, session.SaveClientInformation(&storage.ClientInfo{ClientID: "client-1"}))
		require.NoError(t, session.RedirectToAuthorization(ts.URL+"/authorize"))
		require.NoError(t, session.SaveCodeVerifier("verifier-1"))

		exchanger := NewExchanger(ts.Client(), zap.NewNop())
		tokens, err := exchanger.Exchange(context.Background(), session, ts.URL+"/gmail", "code123")
		require.NoError(t, err)

		assert.Equal(t, "at-1", tokens.AccessToken)
		assert.Equal(t, "rt-1", tokens.RefreshToken)
		assert.False(t, tokens.ExpiresAt.IsZero(), "expiry is derived from expires_in")

		assert.Equal(t, "authorization_code", gotForm["grant_type"])
		assert.Equal(t, "code123", gotForm["code"])
		assert.Equal(t, testRedirectURL, gotForm["redirect_uri"])
		assert.Equal(t, "verifier-1", gotForm["code_verifier"])
		assert.Equal(t, "client-1", gotForm["client_id"])

		assert.False(t, session.AuthInProgress())

		record, err := repo.Load("gmail")
		require.NoError(t, err)
		require.NotNil(t, record.Tokens)
		assert.Equal(t, "at-1", record.Tokens.AccessToken)
	})

	t.Run("provider rejection resets auth state", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
		}))
		defer ts.Close()

		session, _, _, _ := newTestSession(t)
		require.NoError(t, session.RedirectToAuthorization(ts.URL+"/authorize"))
		require.NoError(t, session.SaveCodeVerifier("verifier-1"))
		require.True(t, session.AuthInProgress())

		exchanger := NewExchanger(ts.Client(), zap.NewNop())
		_, err := exchanger.Exchange(context.Background(), session, ts.URL+"/gmail", "code123")
		assert.ErrorIs(t, err, ErrTokenExchange)
		assert.False(t, session.AuthInProgress(), "failed exchange must not leave the flow blocked")
		assert.Nil(t, session.Tokens())
	})

	t.Run("missing verifier fails without touching the network", func(t *testing.T) {
		session, _, _, _ := newTestSession(t)
		require.NoError(t, session.RedirectToAuthorization("https://auth.example.com/authorize"))

		exchanger := NewExchanger(nil, zap.NewNop())
		_, err := exchanger.Exchange(context.Background(), session, "https://server.smithery.ai/gmail", "code123")
		assert.ErrorIs(t, err, ErrNoVerifier)
		assert.False(t, session.AuthInProgress())
	})
}
