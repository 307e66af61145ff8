package lock

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T, handler http.HandlerFunc) *Controller {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewController(server.URL, "test-token", "test-secret", "LOCK01")
}

func TestUnlockSendsSignedCommand(t *testing.T) {
	var captured *http.Request
	var body []byte
	c := newTestController(t, func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
		body, _ = io.ReadAll(r.Body)
		json.NewEncoder(w).Encode(map[string]interface{}{"statusCode": 100, "message": "success"})
	})

	ok := c.Unlock(context.Background())
	require.True(t, ok)
	require.NotNil(t, captured)

	assert.Equal(t, "/devices/LOCK01/commands", captured.URL.Path)
	assert.Equal(t, "test-token", captured.Header.Get("Authorization"))
	assert.NotEmpty(t, captured.Header.Get("nonce"))

	// the signature must be HMAC-SHA256(secret, token+t+nonce)
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte("test-token" + captured.Header.Get("t") + captured.Header.Get("nonce")))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, expected, captured.Header.Get("sign"))

	var cmd map[string]string
	require.NoError(t, json.Unmarshal(body, &cmd))
	assert.Equal(t, "unlock", cmd["command"])
	assert.Equal(t, "command", cmd["commandType"])
}

func TestCommandRejectedByDevice(t *testing.T) {
	c := newTestController(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"statusCode": 160, "message": "device offline"})
	})

	assert.False(t, c.Unlock(context.Background()))
	assert.False(t, c.Lock(context.Background()))
}

func TestCommandHTTPFailure(t *testing.T) {
	c := newTestController(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	assert.False(t, c.Unlock(context.Background()))
}

func TestCommandUnreachableHost(t *testing.T) {
	c := NewController("http://127.0.0.1:1", "tok", "sec", "LOCK01")
	assert.False(t, c.Unlock(context.Background()))
	assert.Nil(t, c.Status(context.Background()))
}

func TestStatusReturnsBody(t *testing.T) {
	c := newTestController(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/devices/LOCK01/status", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"statusCode": 100,
			"body":       map[string]interface{}{"lockState": "locked", "battery": 92},
		})
	})

	status := c.Status(context.Background())
	require.NotNil(t, status)
	assert.Equal(t, "locked", status["lockState"])
}
