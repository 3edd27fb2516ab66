package semantic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultOllamaEndpoint = "http://localhost:11434"
	DefaultOllamaModel    = "embeddinggemma"
)

// OllamaEmbedder calls a local Ollama server's /api/embeddings endpoint.
type OllamaEmbedder struct {
	endpoint string
	model    string
	client   *resty.Client
}

// NewOllamaEmbedder returns an embedder for the given endpoint and model. Empty values
// select the defaults; a non-positive timeout selects 30s.
func NewOllamaEmbedder(endpoint, model string, timeout time.Duration) *OllamaEmbedder {
	if endpoint == "" {
		endpoint = DefaultOllamaEndpoint
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(endpoint, "/"))
	client.SetTimeout(timeout)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(200 * time.Millisecond)
	client.SetRetryMaxWaitTime(2 * time.Second)

	return &OllamaEmbedder{endpoint: endpoint, model: model, client: client}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	var out ollamaEmbedResponse
	resp, err := e.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(ollamaEmbedRequest{Model: e.model, Prompt: text}).
		SetResult(&out).
		Post("/api/embeddings")
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(out.Embedding) == 0 {
		return nil, errors.New("ollama returned an empty embedding")
	}
	return out.Embedding, nil
}

// Name identifies the backend in logs.
func (e *OllamaEmbedder) Name() string {
	return "ollama:" + e.model
}

// OllamaLoader returns a loader that probes the server with one embedding request, so
// an unreachable server is detected at initialization rather than on every call.
func OllamaLoader(endpoint, model string, timeout time.Duration) ModelLoader {
	return LoaderFunc(func(ctx context.Context) (Embedder, error) {
		emb := NewOllamaEmbedder(endpoint, model, timeout)
		if _, err := emb.Embed(ctx, "probe"); err != nil {
			return nil, fmt.Errorf("%s: %w", emb.Name(), err)
		}
		return emb, nil
	})
}
