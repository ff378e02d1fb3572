// Package vector abstracts the ANN index. Two backends exist: a Qdrant
// collection for deployments and an in-process HNSW graph for single-node
// setups and tests.
package vector

import (
	"context"

	"github.com/scribe-rag/scribe/internal/model"
)

// Payload is the fixed JSON shape stored with every vector point. It
// duplicates enough chunk and document fields to build a SearchResult
// without touching the metadata store.
type Payload struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	Content    string         `json:"content"`
	ChunkIndex int            `json:"chunk_index"`
	Filename   string         `json:"filename"`
	Filepath   string         `json:"filepath"`
	FileType   string         `json:"file_type"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Point is one vector with its payload. ID equals the chunk ID.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Filters restrict a search; conditions AND together, values within one
// condition OR together.
type Filters struct {
	DocumentIDs []string
	FileTypes   []string
}

// Store is the ANN capability used by ingestion and retrieval.
type Store interface {
	// EnsureCollection idempotently creates the cosine-distance collection
	// of the configured dimension with payload indexes on document_id and
	// file_type.
	EnsureCollection(ctx context.Context) error
	// UpsertVectors writes points and waits for commit.
	UpsertVectors(ctx context.Context, points []Point) error
	// DeleteVectorsByDocumentID removes every point of one document.
	DeleteVectorsByDocumentID(ctx context.Context, documentID string) error
	// SearchVectors returns up to limit results with score >= threshold,
	// best first. Scores are similarity in [0,1].
	SearchVectors(ctx context.Context, queryVector []float32, limit int, scoreThreshold float64, filters *Filters) ([]model.SearchResult, error)
	// Close releases backend connections.
	Close() error
}

// matches reports whether a payload passes the filters.
func (f *Filters) matches(p Payload) bool {
	if f == nil {
		return true
	}
	if len(f.DocumentIDs) > 0 && !contains(f.DocumentIDs, p.DocumentID) {
		return false
	}
	if len(f.FileTypes) > 0 && !contains(f.FileTypes, p.FileType) {
		return false
	}
	return true
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// toSearchResult converts a payload plus similarity score.
func toSearchResult(p Payload, score float64) model.SearchResult {
	return model.SearchResult{
		ChunkID:    p.ChunkID,
		DocumentID: p.DocumentID,
		Content:    p.Content,
		Score:      score,
		Filename:   p.Filename,
		Filepath:   p.Filepath,
		FileType:   model.FileType(p.FileType),
		ChunkIndex: p.ChunkIndex,
		Metadata:   p.Metadata,
	}
}
