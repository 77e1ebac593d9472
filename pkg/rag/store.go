package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/philippgille/chromem-go"
	"github.com/pkg/errors"
)

const collectionName = "omnidrive_documents"

// ErrZeroVector is returned for documents whose vector has no direction and
// therefore no cosine distance to anything.
var ErrZeroVector = errors.New("zero vector")

// Document is one stored chunk with its vector.
type Document struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
	Vector   []float32         `json:"vector"`
}

// Match is a retrieval hit. Distance is cosine distance, lower is closer.
type Match struct {
	ID       string            `json:"id"`
	Document string            `json:"document"`
	Metadata map[string]string `json:"metadata"`
	Distance float64           `json:"distance"`
}

// Score maps Distance into a similarity in [0, 1] for display.
func (m Match) Score() float64 {
	return math.Max(0, 1-m.Distance)
}

// Filter keeps documents whose metadata has every listed key/value.
type Filter map[string]string

// Retriever returns the topK nearest documents to vector.
type Retriever interface {
	Retrieve(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)
}

// VectorStore keeps documents in an in-memory chromem collection. The
// collection does the similarity search and metadata filtering; the store
// tracks IDs and the vector dimension, and snapshots to a JSON file.
type VectorStore struct {
	mu         sync.RWMutex
	collection *chromem.Collection
	ids        map[string]struct{}
	dim        int
}

func NewVectorStore() *VectorStore {
	c, err := newCollection()
	if err != nil {
		// Only an empty collection name is rejected.
		panic(err)
	}
	return &VectorStore{collection: c, ids: make(map[string]struct{})}
}

func newCollection() (*chromem.Collection, error) {
	db := chromem.NewDB()
	// Vectors are always supplied, so text is never embedded by chromem.
	noEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("documents must carry their vector")
	}
	c, err := db.CreateCollection(collectionName, nil, noEmbed)
	return c, errors.Wrap(err, "create vector collection")
}

func validate(docs []Document, dim int) (int, error) {
	for _, d := range docs {
		if d.ID == "" {
			return dim, errors.New("document without id")
		}
		if len(d.Vector) == 0 {
			return dim, fmt.Errorf("document %s has an empty vector", d.ID)
		}
		if isZero(d.Vector) {
			return dim, errors.Wrapf(ErrZeroVector, "document %s", d.ID)
		}
		if dim == 0 {
			dim = len(d.Vector)
		}
		if len(d.Vector) != dim {
			return dim, fmt.Errorf("document %s has dimension %d, store has %d", d.ID, len(d.Vector), dim)
		}
	}
	return dim, nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func toChromem(docs []Document) []chromem.Document {
	out := make([]chromem.Document, len(docs))
	for i, d := range docs {
		vec := make([]float32, len(d.Vector))
		copy(vec, d.Vector)
		out[i] = chromem.Document{ID: d.ID, Metadata: d.Metadata, Embedding: vec, Content: d.Text}
	}
	return out
}

// Add inserts or replaces documents by ID. All vectors must share the
// store's dimension, fixed by the first document added. Nothing is stored
// when any document is invalid.
func (s *VectorStore) Add(ctx context.Context, docs ...Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dim, err := validate(docs, s.dim)
	if err != nil {
		return err
	}
	if err := s.collection.AddDocuments(ctx, toChromem(docs), runtime.NumCPU()); err != nil {
		return errors.Wrap(err, "add documents")
	}
	s.dim = dim
	for _, d := range docs {
		s.ids[d.ID] = struct{}{}
	}
	return nil
}

// Delete removes documents by ID and reports how many existed.
func (s *VectorStore) Delete(ids ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var existing []string
	for _, id := range ids {
		if _, ok := s.ids[id]; ok {
			existing = append(existing, id)
		}
	}
	return s.remove(existing)
}

// DeletePrefix removes every document whose ID starts with prefix.
func (s *VectorStore) DeletePrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matching []string
	for id := range s.ids {
		if strings.HasPrefix(id, prefix) {
			matching = append(matching, id)
		}
	}
	return s.remove(matching)
}

func (s *VectorStore) remove(ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	if err := s.collection.Delete(context.Background(), nil, nil, ids...); err != nil {
		return 0
	}
	for _, id := range ids {
		delete(s.ids, id)
	}
	return len(ids)
}

func (s *VectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection.Count()
}

// Retrieve returns up to topK documents nearest to vector, ties broken by ID.
// A zero query vector matches nothing.
func (s *VectorStore) Retrieve(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []Match{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dim != 0 && len(vector) != s.dim {
		return nil, fmt.Errorf("query has dimension %d, store has %d", len(vector), s.dim)
	}
	count := s.collection.Count()
	if count == 0 || isZero(vector) {
		return []Match{}, nil
	}
	if topK > count {
		topK = count
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	results, err := s.collection.QueryEmbedding(ctx, query, topK, map[string]string(filter), nil)
	if err != nil {
		return nil, errors.Wrap(err, "query vectors")
	}
	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{
			ID:       r.ID,
			Document: r.Content,
			Metadata: r.Metadata,
			Distance: 1 - float64(r.Similarity),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance == matches[j].Distance {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Distance < matches[j].Distance
	})
	return matches, nil
}

type snapshot struct {
	Dimension int        `json:"dimension"`
	Documents []Document `json:"documents"`
}

// Save writes the store to path, replacing any previous snapshot atomically.
func (s *VectorStore) Save(path string) error {
	ctx := context.Background()
	s.mu.RLock()
	snap := snapshot{Dimension: s.dim, Documents: make([]Document, 0, len(s.ids))}
	for id := range s.ids {
		d, err := s.collection.GetByID(ctx, id)
		if err != nil {
			s.mu.RUnlock()
			return errors.Wrapf(err, "read document %s", id)
		}
		snap.Documents = append(snap.Documents, Document{ID: d.ID, Text: d.Content, Metadata: d.Metadata, Vector: d.Embedding})
	}
	s.mu.RUnlock()
	sort.Slice(snap.Documents, func(i, j int) bool { return snap.Documents[i].ID < snap.Documents[j].ID })

	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encode vector snapshot")
	}
	return cloud.WriteAtomic(path, bytes.NewReader(data))
}

// Load replaces the store's contents with the snapshot at path. A missing
// file leaves the store empty.
func (s *VectorStore) Load(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read vector snapshot")
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return errors.Wrapf(err, "decode vector snapshot %s", path)
	}
	dim, err := validate(snap.Documents, snap.Dimension)
	if err != nil {
		return errors.Wrapf(err, "vector snapshot %s", path)
	}
	c, err := newCollection()
	if err != nil {
		return err
	}
	ids := make(map[string]struct{}, len(snap.Documents))
	if len(snap.Documents) > 0 {
		if err := c.AddDocuments(context.Background(), toChromem(snap.Documents), runtime.NumCPU()); err != nil {
			return errors.Wrapf(err, "load vector snapshot %s", path)
		}
		for _, d := range snap.Documents {
			ids[d.ID] = struct{}{}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collection = c
	s.ids = ids
	s.dim = dim
	return nil
}
