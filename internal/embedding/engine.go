// Package embedding turns catalog text into L2-normalized dense
// vectors for semantic matching. Two providers: a local Ollama server
// and Google GenAI. The Service wrapper adds atomic reconfiguration
// and model-id tagging so vectors from a stale model never leak into
// a search against the current one.
package embedding

import (
	"context"
	"fmt"
	"math"
	"sync"

	"tendermatch/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// ModelID identifies the model producing the vectors.
	ModelID() string
}

// Config holds provider selection and model parameters.
type Config struct {
	Provider       string // "ollama" or "genai"
	ModelID        string
	MaxLength      int
	BatchSize      int
	OllamaEndpoint string
	GenAIAPIKey    string
}

// NewEngine creates an engine for the configured provider.
func NewEngine(cfg Config) (Engine, error) {
	logging.Embedding("creating embedding engine: provider=%s model=%s", cfg.Provider, cfg.ModelID)
	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.ModelID)
	case "genai":
		return NewGenAIEngine(cfg.GenAIAPIKey, cfg.ModelID)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'genai')", cfg.Provider)
	}
}

// Service owns the live engine. Reads see a consistent
// (engine, dimension, model id) snapshot; Configure swaps the model
// atomically for subsequent calls.
type Service struct {
	mu        sync.RWMutex
	engine    Engine
	cfg       Config
	dimension int // 0 until first successful encode
}

// NewService wraps the configured provider.
func NewService(cfg Config) (*Service, error) {
	engine, err := NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	return &Service{engine: engine, cfg: cfg}, nil
}

// NewServiceWithEngine wraps an already-built engine. Callers bringing
// their own Engine implementation use this instead of NewService.
func NewServiceWithEngine(engine Engine, cfg Config) *Service {
	return &Service{engine: engine, cfg: cfg}
}

// Configure swaps model id, max length or batch size. Nil fields keep
// the current value. In-flight vectors produced by the old model stay
// tagged with its id and become invisible to searches under the new one.
func (s *Service) Configure(modelID *string, maxLength, batchSize *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.cfg
	if modelID != nil && *modelID != cfg.ModelID {
		cfg.ModelID = *modelID
	}
	if maxLength != nil {
		cfg.MaxLength = *maxLength
	}
	if batchSize != nil {
		cfg.BatchSize = *batchSize
	}

	if cfg.ModelID != s.cfg.ModelID || cfg.Provider != s.cfg.Provider {
		engine, err := NewEngine(cfg)
		if err != nil {
			return err
		}
		s.engine = engine
		s.dimension = 0
		logging.Embedding("embedding model swapped to %s", cfg.ModelID)
	}
	s.cfg = cfg
	return nil
}

// ModelID returns the current model identifier.
func (s *Service) ModelID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.ModelID
}

// Dimension returns the detected vector dimension, 0 before the first
// successful encode.
func (s *Service) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Embed encodes a single text and returns the L2-normalized vector
// together with the model id that produced it.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, string, error) {
	s.mu.RLock()
	engine := s.engine
	modelID := s.cfg.ModelID
	maxLen := s.cfg.MaxLength
	s.mu.RUnlock()

	vec, err := engine.Embed(ctx, truncate(text, maxLen))
	if err != nil {
		return nil, "", err
	}
	NormalizeL2(vec)
	s.recordDimension(len(vec))
	return vec, modelID, nil
}

// EmbedBatch encodes texts in configured batch sizes. The whole batch
// is encoded under one model snapshot.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, string, error) {
	s.mu.RLock()
	engine := s.engine
	modelID := s.cfg.ModelID
	maxLen := s.cfg.MaxLength
	batch := s.cfg.BatchSize
	s.mu.RUnlock()

	if batch <= 0 {
		batch = 32
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batch {
		end := start + batch
		if end > len(texts) {
			end = len(texts)
		}
		chunk := make([]string, end-start)
		for i, t := range texts[start:end] {
			chunk[i] = truncate(t, maxLen)
		}
		vecs, err := engine.EmbedBatch(ctx, chunk)
		if err != nil {
			return nil, "", fmt.Errorf("embedding batch [%d:%d]: %w", start, end, err)
		}
		for _, v := range vecs {
			NormalizeL2(v)
			s.recordDimension(len(v))
		}
		out = append(out, vecs...)
	}
	return out, modelID, nil
}

func (s *Service) recordDimension(dim int) {
	if dim == 0 {
		return
	}
	s.mu.Lock()
	if s.dimension == 0 {
		s.dimension = dim
		logging.Embedding("embedding dimension detected: %d", dim)
	}
	s.mu.Unlock()
}

func truncate(text string, maxLen int) string {
	if maxLen <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen])
}

// NormalizeL2 scales vec to unit length in place. Zero vectors are
// left untouched.
func NormalizeL2(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
}

// Cosine computes the cosine similarity of two vectors. With
// L2-normalized inputs this equals their inner product.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d != %d", len(a), len(b))
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}
