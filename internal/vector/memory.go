package vector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/coder/hnsw"

	"github.com/scribe-rag/scribe/internal/errors"
	"github.com/scribe-rag/scribe/internal/model"
)

// MemoryStore is an in-process HNSW index with cosine distance. It serves
// single-node deployments and tests; contents do not survive a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	graph     *hnsw.Graph[uint64]
	dimension int
	logger    *slog.Logger

	payloads map[string]Payload
	idToKey  map[string]uint64
	keyToID  map[uint64]string
	nextKey  uint64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty index for vectors of the given dimension.
func NewMemoryStore(dimension int, logger *slog.Logger) *MemoryStore {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 32

	return &MemoryStore{
		graph:     graph,
		dimension: dimension,
		logger:    logger.With("component", "memory_vector"),
		payloads:  make(map[string]Payload),
		idToKey:   make(map[string]uint64),
		keyToID:   make(map[uint64]string),
	}
}

// EnsureCollection is a no-op; the graph exists from construction.
func (m *MemoryStore) EnsureCollection(context.Context) error {
	return nil
}

// UpsertVectors inserts or replaces points. Replacement is lazy: the old
// graph node is orphaned from the ID maps rather than removed, which
// avoids rebalancing on every reindex.
func (m *MemoryStore) UpsertVectors(_ context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range points {
		if len(p.Vector) != m.dimension {
			return errors.Integrity(fmt.Sprintf(
				"Embedding dimension mismatch: expected %d, got %d", m.dimension, len(p.Vector)))
		}

		if oldKey, exists := m.idToKey[p.ID]; exists {
			delete(m.keyToID, oldKey)
		}
		key := m.nextKey
		m.nextKey++

		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		normalize(vec)

		m.graph.Add(hnsw.MakeNode(key, vec))
		m.idToKey[p.ID] = key
		m.keyToID[key] = p.ID
		m.payloads[p.ID] = p.Payload
	}
	return nil
}

// DeleteVectorsByDocumentID lazily removes every point of one document.
func (m *MemoryStore) DeleteVectorsByDocumentID(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, payload := range m.payloads {
		if payload.DocumentID != documentID {
			continue
		}
		if key, exists := m.idToKey[id]; exists {
			delete(m.keyToID, key)
			delete(m.idToKey, id)
		}
		delete(m.payloads, id)
	}
	return nil
}

// SearchVectors runs a cosine ANN query. The graph is oversampled so that
// orphaned nodes and filtered-out payloads still leave enough candidates.
func (m *MemoryStore) SearchVectors(_ context.Context, queryVector []float32, limit int, scoreThreshold float64, filters *Filters) ([]model.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(queryVector) != m.dimension {
		return nil, errors.Integrity(fmt.Sprintf(
			"query dimension mismatch: expected %d, got %d", m.dimension, len(queryVector)))
	}
	if m.graph.Len() == 0 || limit <= 0 {
		return nil, nil
	}

	query := make([]float32, len(queryVector))
	copy(query, queryVector)
	normalize(query)

	k := limit * 4
	if filters != nil {
		k = limit * 10
	}
	if graphLen := m.graph.Len(); k > graphLen {
		k = graphLen
	}

	nodes := m.graph.Search(query, k)

	results := make([]model.SearchResult, 0, limit)
	for _, node := range nodes {
		id, live := m.keyToID[node.Key]
		if !live {
			continue
		}
		payload := m.payloads[id]
		if !filters.matches(payload) {
			continue
		}

		score := 1 - float64(m.graph.Distance(query, node.Value))
		if score < scoreThreshold {
			continue
		}
		if score > 1 {
			score = 1
		}

		results = append(results, toSearchResult(payload, score))
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// Len reports the number of live points.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.idToKey)
}

// Close drops the index contents.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = make(map[string]Payload)
	m.idToKey = make(map[string]uint64)
	m.keyToID = make(map[uint64]string)
	return nil
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
