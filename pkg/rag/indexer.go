package rag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// ErrUnsupportedFile is returned by ExtractText for file types that carry
// no plain text.
var ErrUnsupportedFile = errors.New("unsupported file type")

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".py": true, ".js": true, ".go": true,
	".html": true, ".css": true, ".json": true, ".yaml": true, ".yml": true,
	".csv": true,
}

// Store is the write side of a vector store.
type Store interface {
	Retriever
	Add(ctx context.Context, docs ...Document) error
	DeletePrefix(prefix string) int
}

// Indexer splits documents into overlapping chunks, embeds them and adds
// them to a store.
type Indexer struct {
	embedder  Embedder
	store     Store
	chunkSize int
	overlap   int
}

func NewIndexer(embedder Embedder, store Store) *Indexer {
	return &Indexer{embedder: embedder, store: store, chunkSize: DefaultChunkSize, overlap: DefaultChunkOverlap}
}

// WithChunking overrides chunk size and overlap. overlap must be smaller
// than size.
func (ix *Indexer) WithChunking(size, overlap int) *Indexer {
	if size > 0 && overlap >= 0 && overlap < size {
		ix.chunkSize = size
		ix.overlap = overlap
	}
	return ix
}

// Chunk splits text into rune windows of size with overlap shared between
// neighbours. Empty text yields no chunks. A non-positive size means
// DefaultChunkSize, and an overlap outside [0, size) means none.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	step := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// IndexDocument replaces every chunk stored under id with the chunks of
// text and returns how many were written. Chunk IDs are id#n; each carries
// the caller's metadata plus doc_id and chunk. Chunks that embed to a zero
// vector hold no searchable terms and are dropped.
func (ix *Indexer) IndexDocument(ctx context.Context, id, text string, metadata map[string]string) (int, error) {
	chunks := Chunk(text, ix.chunkSize, ix.overlap)
	if len(chunks) == 0 {
		return 0, nil
	}
	docs := make([]Document, 0, len(chunks))
	for i, c := range chunks {
		vec, err := ix.embedder.Embed(ctx, c)
		if err != nil {
			return 0, errors.Wrapf(err, "embed chunk %d of %s", i, id)
		}
		if isZero(vec) {
			continue
		}
		meta := make(map[string]string, len(metadata)+2)
		for k, v := range metadata {
			meta[k] = v
		}
		meta["doc_id"] = id
		meta["chunk"] = strconv.Itoa(i)
		docs = append(docs, Document{ID: fmt.Sprintf("%s#%d", id, i), Text: c, Metadata: meta, Vector: vec})
	}
	ix.store.DeletePrefix(id + "#")
	if len(docs) == 0 {
		return 0, nil
	}
	if err := ix.store.Add(ctx, docs...); err != nil {
		return 0, errors.Wrapf(err, "store %s", id)
	}
	return len(docs), nil
}

// IndexFile extracts text from a local file and indexes it under id with
// file_name, file_path and service metadata.
func (ix *Indexer) IndexFile(ctx context.Context, path, id, service string, metadata map[string]string) (int, error) {
	text, err := ExtractText(path)
	if err != nil {
		return 0, err
	}
	meta := map[string]string{
		"file_name": filepath.Base(path),
		"file_path": path,
		"service":   service,
	}
	for k, v := range metadata {
		meta[k] = v
	}
	return ix.IndexDocument(ctx, id, text, meta)
}

// ExtractText reads plain-text formats. Other formats return
// ErrUnsupportedFile.
func ExtractText(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !textExtensions[ext] {
		return "", errors.Wrapf(ErrUnsupportedFile, "%s", ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "read %s", path)
	}
	return strings.ToValidUTF8(string(data), ""), nil
}

// SemanticSearch embeds a query and retrieves the nearest chunks.
type SemanticSearch struct {
	embedder  Embedder
	retriever Retriever
}

func NewSemanticSearch(embedder Embedder, retriever Retriever) *SemanticSearch {
	return &SemanticSearch{embedder: embedder, retriever: retriever}
}

func (s *SemanticSearch) Embed(ctx context.Context, query string) ([]float32, error) {
	return s.embedder.Embed(ctx, query)
}

func (s *SemanticSearch) Retrieve(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	return s.retriever.Retrieve(ctx, vector, topK, filter)
}

// Search filters by service when it is non-empty.
func (s *SemanticSearch) Search(ctx context.Context, query string, topK int, service string) ([]Match, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "search failed")
	}
	var filter Filter
	if service != "" {
		filter = Filter{"service": service}
	}
	matches, err := s.retriever.Retrieve(ctx, vec, topK, filter)
	if err != nil {
		return nil, errors.Wrap(err, "search failed")
	}
	return matches, nil
}
