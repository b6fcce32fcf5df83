package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// Embedder turns text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedResult is the outcome of one asynchronous embedding request.
type EmbedResult struct {
	Text      string
	Embedding []float32
	Error     error
}

type embedWork struct {
	text   string
	result chan<- EmbedResult
}

// EmbedService fans embedding requests out to a worker pool and caches
// results by exact text. It wraps any Embedder; the pipeline uses it so a
// slow embedding backend never stalls insight archival.
type EmbedService struct {
	backend   Embedder
	workQueue chan embedWork
	cache     sync.Map
	wg        sync.WaitGroup
}

// NewEmbedService starts numWorkers goroutines over backend.
func NewEmbedService(backend Embedder, numWorkers int) *EmbedService {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	s := &EmbedService{
		backend:   backend,
		workQueue: make(chan embedWork, 100),
	}
	for i := 0; i < numWorkers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *EmbedService) worker() {
	defer s.wg.Done()
	for work := range s.workQueue {
		if cached, ok := s.cache.Load(work.text); ok {
			if emb, valid := cached.([]float32); valid {
				work.result <- EmbedResult{Text: work.text, Embedding: emb}
				continue
			}
		}

		emb, err := s.backend.Embed(context.Background(), work.text)
		if err == nil {
			s.cache.Store(work.text, emb)
		}
		work.result <- EmbedResult{Text: work.text, Embedding: emb, Error: err}
	}
}

// Embed satisfies Embedder by waiting on an asynchronous request, so the
// service can stand in wherever a plain Embedder is expected.
func (s *EmbedService) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case res := <-s.Request(text):
		return res.Embedding, res.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Request queues text for embedding and returns a channel that yields one
// result. A full queue fails immediately rather than blocking the caller.
func (s *EmbedService) Request(text string) <-chan EmbedResult {
	result := make(chan EmbedResult, 1)
	select {
	case s.workQueue <- embedWork{text: text, result: result}:
	default:
		result <- EmbedResult{Text: text, Error: fmt.Errorf("embedding queue is full, try again later")}
		close(result)
	}
	return result
}

// Close drains the pool and waits for in-flight work.
func (s *EmbedService) Close() {
	if s.workQueue != nil {
		close(s.workQueue)
	}
	s.wg.Wait()
}

// OllamaEmbedder generates embeddings through a local Ollama server.
type OllamaEmbedder struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

// NewOllamaEmbedder targets the given Ollama host with model, defaulting to
// nomic-embed-text when model is empty.
func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaEmbedder{BaseURL: baseURL, Model: model, Client: http.DefaultClient}
}

func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]string{"model": o.Model, "prompt": text})
	if err != nil {
		return nil, fmt.Errorf("encode embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embedding endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding endpoint returned %s", resp.Status)
	}

	var parsed struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("embedding endpoint returned no vector")
	}
	return parsed.Embedding, nil
}
