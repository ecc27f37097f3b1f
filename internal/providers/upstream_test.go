package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditgate/internal/gate"
)

func TestUpstreamExecute(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "hi"}}],
			"usage": {"prompt_tokens": 42, "completion_tokens": 17}
		}`))
	}))
	defer server.Close()

	upstream, err := NewUpstream(server.URL, "test-key", 5*time.Second)
	require.NoError(t, err)

	resp, err := upstream.Execute(context.Background(), &gate.Request{
		Model:   "gpt-4",
		Payload: map[string]interface{}{"messages": []interface{}{}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "gpt-4", gotBody["model"])
	assert.Equal(t, 42, resp.InputTokens)
	assert.Equal(t, 17, resp.OutputTokens)
	assert.NotNil(t, resp.Output)
}

func TestUpstreamExecuteErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	upstream, err := NewUpstream(server.URL, "test-key", 5*time.Second)
	require.NoError(t, err)

	_, err = upstream.Execute(context.Background(), &gate.Request{
		Model:   "gpt-4",
		Payload: map[string]interface{}{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestNewUpstreamValidation(t *testing.T) {
	_, err := NewUpstream("", "key", 0)
	assert.Error(t, err)

	_, err = NewUpstream("http://localhost", "", 0)
	assert.Error(t, err)
}

func TestEchoEstimatesTokens(t *testing.T) {
	echo := NewEcho()

	resp, err := echo.Execute(context.Background(), &gate.Request{
		Model:   "gpt-3.5-turbo",
		Payload: map[string]interface{}{"prompt": "tell me something"},
	})
	require.NoError(t, err)

	assert.Greater(t, resp.InputTokens, 0)
	assert.Equal(t, resp.InputTokens, resp.OutputTokens)
}
