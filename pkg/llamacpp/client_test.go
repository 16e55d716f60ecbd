package llamacpp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/image-captioner/pkg/client"
)

func TestDescribe_StringContent(t *testing.T) {
	var req ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, sonic.Unmarshal(body, &req))
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"\"Two dogs play in the snow.\""}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/", "qwen2-vl")
	require.NoError(t, err)

	caption, err := c.Describe(context.Background(), "aW1n")
	require.NoError(t, err)
	assert.Equal(t, "two dogs play in the snow", caption)
	assert.Equal(t, "qwen2-vl", req.Model)
	require.Len(t, req.Messages, 1)
}

func TestDescribe_PartsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"man riding a bike"}]}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "")
	require.NoError(t, err)
	assert.Equal(t, "llamacpp", c.Name())

	caption, err := c.Describe(context.Background(), "aW1n")
	require.NoError(t, err)
	assert.Equal(t, "man riding a bike", caption)
}

func TestDescribe_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading model"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "m")
	require.NoError(t, err)

	_, err = c.Describe(context.Background(), "aW1n")
	assert.ErrorIs(t, err, client.ErrInferenceFailure)

	_, err = c.Describe(context.Background(), "")
	assert.ErrorIs(t, err, client.ErrInferenceFailure)
}

func TestDescribe_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "m")
	require.NoError(t, err)

	_, err = c.Describe(context.Background(), "aW1n")
	assert.ErrorIs(t, err, client.ErrInferenceFailure)
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient("localhost:8080", "m")
	assert.Error(t, err)
}
