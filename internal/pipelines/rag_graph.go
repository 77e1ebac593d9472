package pipelines

import (
	"context"
	"fmt"
	"strings"

	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/nadalpiantini/omnidrive/pkg/rag"
	"github.com/nadalpiantini/omnidrive/pkg/workflow"
)

const (
	DefaultTopK       = 5
	reasonDocs        = 5
	reasonSnippetSize = 200
	NoResultsResponse = "No relevant documents found."
)

type RAGState struct {
	Query          string      `json:"query"`
	Service        string      `json:"service,omitempty"`
	TopK           int         `json:"top_k"`
	EmbeddingSize  int         `json:"embedding_size"`
	RetrievedDocs  []rag.Match `json:"retrieved_docs"`
	Response       string      `json:"reasoned_response"`
	CurrentStep    string      `json:"current_step"`
	queryEmbedding []float32
}

// RAGStateFromParams reads query, service and top_k.
func RAGStateFromParams(p models.Params) (*RAGState, error) {
	query, err := requireParam(p, "query")
	if err != nil {
		return nil, err
	}
	return &RAGState{
		Query:       query,
		Service:     p.String("service", ""),
		TopK:        p.Int("top_k", DefaultTopK),
		CurrentStep: "init",
	}, nil
}

type ragNodes struct {
	deps Deps
}

// NewRAGGraph builds embed -> retrieve -> reason.
func NewRAGGraph(deps Deps) *workflow.Graph[RAGState] {
	n := ragNodes{deps: deps}
	return workflow.NewGraph[RAGState](RAGSearchName, "Semantic search with RAG (retrieve, then reason)").
		WithLogger(deps.Logger).
		AddNode("embed", n.embed).
		AddNode("retrieve", n.retrieve).
		AddNode("reason", n.reason).
		SetEntry("embed").
		AddEdge("embed", "retrieve").
		AddEdge("retrieve", "reason").
		AddEdge("reason", workflow.End)
}

func (n ragNodes) embed(ctx context.Context, s *RAGState) (workflow.Emit, error) {
	s.CurrentStep = "embed"
	emit := workflow.Logf("Embedding query: '%s'", truncateRunes(s.Query, 50))
	if n.deps.Embedder == nil {
		return emit.Errorf("Embedding failed: no embedder configured"), nil
	}
	vec, err := n.deps.Embedder.Embed(ctx, s.Query)
	if err != nil {
		s.queryEmbedding = nil
		return emit.Errorf("Embedding failed: %v", err), nil
	}
	s.queryEmbedding = vec
	s.EmbeddingSize = len(vec)
	return emit.Logf("Generated %d-dim embedding", len(vec)), nil
}

func (n ragNodes) retrieve(ctx context.Context, s *RAGState) (workflow.Emit, error) {
	s.CurrentStep = "retrieve"
	emit := workflow.Logf("Retrieving relevant documents...")
	s.RetrievedDocs = []rag.Match{}
	if s.queryEmbedding == nil {
		return emit.Logf("No embedding available, skipping retrieval"), nil
	}
	if n.deps.Retriever == nil {
		return emit.Errorf("Retrieval failed: no vector store configured"), nil
	}
	var filter rag.Filter
	if s.Service != "" {
		filter = rag.Filter{"service": s.Service}
	}
	docs, err := n.deps.Retriever.Retrieve(ctx, s.queryEmbedding, s.TopK, filter)
	if err != nil {
		return emit.Errorf("Retrieval failed: %v", err), nil
	}
	s.RetrievedDocs = docs
	return emit.Logf("Retrieved %d documents", len(docs)), nil
}

func (n ragNodes) reason(ctx context.Context, s *RAGState) (workflow.Emit, error) {
	s.CurrentStep = "reason"
	emit := workflow.Logf("Reasoning over documents...")
	s.Response = FormatMatches(s.RetrievedDocs)
	return emit.Logf("Reasoning complete"), nil
}

// FormatMatches renders the best matches as a plain-text answer.
func FormatMatches(matches []rag.Match) string {
	if len(matches) == 0 {
		return NoResultsResponse
	}
	parts := make([]string, 0, reasonDocs)
	for i, m := range matches {
		if i == reasonDocs {
			break
		}
		name := m.Metadata["file_name"]
		if name == "" {
			name = fmt.Sprintf("Document %d", i+1)
		}
		parts = append(parts, fmt.Sprintf("[%s] (score: %.2f)\n%s...", name, m.Score(), truncateRunes(m.Document, reasonSnippetSize)))
	}
	return fmt.Sprintf("Found %d relevant files:\n\n%s", len(matches), strings.Join(parts, "\n\n"))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
