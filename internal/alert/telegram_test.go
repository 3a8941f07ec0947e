package alert

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server) *TelegramClient {
	c := NewTelegramClient("bot-token", "-100123", testLog())
	c.baseURL = srv.URL
	c.http = srv.Client()
	return c
}

func TestTelegramSend(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botbot-token/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	require.NoError(t, c.Send("<b>hello</b>"))

	assert.Equal(t, "-100123", got["chat_id"])
	assert.Equal(t, "<b>hello</b>", got["text"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, true, got["disable_web_page_preview"])
}

func TestTelegramSendRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	err := newTestClient(srv).Send("x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestTelegramProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botbot-token/getMe", r.URL.Path)
		w.Write([]byte(`{"ok":true,"result":{"first_name":"SiloBot"}}`))
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(srv).Probe())
}

func TestTelegramProbeBadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := newTestClient(srv).Probe()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}
