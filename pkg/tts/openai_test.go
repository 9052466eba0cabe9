package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIGenerateSpeech(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/speech", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte("opus-bytes"))
	}))
	defer server.Close()

	p := NewOpenAIProvider(newTestLogger(), 2, &OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: server.URL,
	})

	audio, err := p.GenerateSpeech(context.Background(), "Hi", &Options{Voice: "nova", Speed: 1.2})
	require.NoError(t, err)

	assert.Equal(t, []byte("opus-bytes"), audio)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "tts-1", gotBody["model"])
	assert.Equal(t, "Hi", gotBody["input"])
	assert.Equal(t, "nova", gotBody["voice"])
	assert.InDelta(t, 1.2, gotBody["speed"].(float64), 1e-9)
}

func TestOpenAIErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(newTestLogger(), 2, &OpenAIConfig{APIKey: "k", BaseURL: server.URL})

	_, err := p.GenerateSpeech(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
