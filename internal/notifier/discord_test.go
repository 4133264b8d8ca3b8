package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewDiscordNotifier(srv.URL, srv.Client())
	require.NoError(t, n.Notify(context.Background(), "1 of 3 downloads failed"))
	assert.Equal(t, "1 of 3 downloads failed", got["content"])
}

func TestDiscordNotifier_Errors(t *testing.T) {
	t.Run("missing webhook", func(t *testing.T) {
		err := NewDiscordNotifier("", nil).Notify(context.Background(), "x")
		assert.ErrorIs(t, err, ErrNoWebhookURL)
	})

	t.Run("non 2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		err := NewDiscordNotifier(srv.URL, srv.Client()).Notify(context.Background(), "x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "429")
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))

	long := strings.Repeat("é", 30)
	out := truncate(long, 10)
	assert.Equal(t, 10, utf8.RuneCountInString(out))
	assert.True(t, strings.HasSuffix(out, "…"))
}
