// Package rag holds the semantic-search collaborators used by the search
// and ingestion graphs: embedders, a vector store, an indexer and a search
// front end.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// Embedder turns text into a vector. Vectors from one embedder share a
// dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

const DefaultHashDimension = 384

// HashEmbedder is a deterministic offline embedder. Each lower-cased word
// is hashed into a bucket, and the bucket counts are L2-normalised, so texts
// sharing words land close together.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, h.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		f := fnv.New32a()
		f.Write([]byte(w))
		vec[f.Sum32()%uint32(h.dim)]++
	}
	normalize(vec)
	return vec, nil
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= n
	}
}

// HTTPEmbedder calls an OpenAI-compatible embeddings endpoint.
type HTTPEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	dim        int
	client     *http.Client
	maxElapsed time.Duration
}

type HTTPEmbedderOption func(*HTTPEmbedder)

func WithHTTPClient(c *http.Client) HTTPEmbedderOption {
	return func(e *HTTPEmbedder) { e.client = c }
}

// WithRetryBudget bounds the total time spent retrying throttled or failed
// requests. Zero disables retries.
func WithRetryBudget(d time.Duration) HTTPEmbedderOption {
	return func(e *HTTPEmbedder) { e.maxElapsed = d }
}

func NewHTTPEmbedder(baseURL, apiKey, model string, dim int, opts ...HTTPEmbedderOption) *HTTPEmbedder {
	e := &HTTPEmbedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		dim:        dim,
		client:     &http.Client{Timeout: 30 * time.Second},
		maxElapsed: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *HTTPEmbedder) Dimension() int { return e.dim }

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, errors.Wrap(err, "encode embedding request")
	}

	var vec []float32
	op := func() error {
		v, err := e.post(ctx, body)
		if err != nil {
			return err
		}
		vec = v
		return nil
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if e.maxElapsed > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = e.maxElapsed
		policy = eb
	}
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return nil, errors.Wrap(err, "embed text")
	}
	if e.dim > 0 && len(vec) != e.dim {
		return nil, fmt.Errorf("embedding has dimension %d, expected %d", len(vec), e.dim)
	}
	return vec, nil
}

// post performs one request. Client errors other than 429 are permanent.
func (e *HTTPEmbedder) post(ctx context.Context, body []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("embeddings endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, backoff.Permanent(errors.Wrap(err, "decode embedding response"))
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, backoff.Permanent(errors.New("embedding response has no data"))
	}
	return out.Data[0].Embedding, nil
}
