package bootstrap_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/hubstream/internal/auth"
	"github.com/gosuda/hubstream/internal/bootstrap"
)

func TestCreateConversation(t *testing.T) {
	t.Parallel()

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()

		var gotAuth, gotBody string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			var req map[string]string
			_ = json.NewDecoder(r.Body).Decode(&req)
			gotBody = req["message"]
			_ = json.NewEncoder(w).Encode(map[string]string{"conversation_id": "conv-42", "domain": "acme.com"})
		}))
		defer srv.Close()

		tokens, err := auth.NewStaticSource("opaque-token")
		require.NoError(t, err)

		client := bootstrap.New(srv.URL, tokens)
		conv, err := client.CreateConversation(context.Background(), "acme.com", "acme.com")

		require.NoError(t, err)
		assert.Equal(t, "conv-42", conv.ID)
		assert.Equal(t, "Bearer opaque-token", gotAuth)
		assert.Equal(t, "acme.com", gotBody)
	})

	t.Run("401 maps to token expiry", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		client := bootstrap.New(srv.URL, nil)
		_, err := client.CreateConversation(context.Background(), "acme.com", "")

		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrTokenExpired)
	})

	t.Run("missing conversation id is an error", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{})
		}))
		defer srv.Close()

		client := bootstrap.New(srv.URL, nil)
		_, err := client.CreateConversation(context.Background(), "acme.com", "")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty conversation id")
	})

	t.Run("server error status propagates", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		client := bootstrap.New(srv.URL, nil)
		_, err := client.CreateConversation(context.Background(), "acme.com", "")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	})
}
