package vector

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/scribe-rag/scribe/internal/config"
	"github.com/scribe-rag/scribe/internal/errors"
	"github.com/scribe-rag/scribe/internal/model"
)

// QdrantStore keeps vectors in a Qdrant collection over gRPC.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  uint64
	logger     *slog.Logger
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore connects to Qdrant using the configured URL.
func NewQdrantStore(cfg config.QdrantConfig, logger *slog.Logger) (*QdrantStore, error) {
	host, port, err := splitQdrantAddr(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, errors.New(errors.KindInternal, "connect to qdrant", err)
	}
	return &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		dimension:  uint64(cfg.VectorSize),
		logger:     logger.With("component", "qdrant"),
	}, nil
}

// splitQdrantAddr accepts "host:port", "http://host:port" or a bare host
// (defaulting to the gRPC port 6334).
func splitQdrantAddr(raw string) (string, int, error) {
	addr := raw
	if strings.Contains(addr, "://") {
		u, err := url.Parse(addr)
		if err != nil {
			return "", 0, errors.Validation("invalid qdrant url: " + raw)
		}
		addr = u.Host
	}
	host, portStr, ok := strings.Cut(addr, ":")
	if !ok {
		return addr, 6334, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, errors.Validation("invalid qdrant port in url: " + raw)
	}
	return host, port, nil
}

// EnsureCollection creates the collection and payload indexes when absent.
func (q *QdrantStore) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return errors.Transient("check qdrant collection", err)
	}
	if !exists {
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     q.dimension,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return errors.Transient("create qdrant collection", err)
		}
		q.logger.Info("created vector collection",
			"collection", q.collection, "dimension", q.dimension)
	}

	for _, field := range []string{"document_id", "file_type"} {
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return errors.Transient("create qdrant payload index", err)
		}
	}
	return nil
}

// UpsertVectors writes points with wait-for-commit semantics.
func (q *QdrantStore) UpsertVectors(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := map[string]any{
			"chunk_id":    p.Payload.ChunkID,
			"document_id": p.Payload.DocumentID,
			"content":     p.Payload.Content,
			"chunk_index": int64(p.Payload.ChunkIndex),
			"filename":    p.Payload.Filename,
			"filepath":    p.Payload.Filepath,
			"file_type":   p.Payload.FileType,
		}
		if p.Payload.Metadata != nil {
			// Chunk metadata travels as one JSON string; Qdrant never
			// filters on it.
			if raw, err := json.Marshal(p.Payload.Metadata); err == nil {
				payload["metadata"] = string(raw)
			}
		}
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         qdrantPoints,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return errors.Transient("upsert vectors", err)
	}
	return nil
}

// DeleteVectorsByDocumentID removes all points whose payload document_id
// matches, waiting for commit.
func (q *QdrantStore) DeleteVectorsByDocumentID(ctx context.Context, documentID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)},
		}),
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return errors.Transient("delete vectors", err)
	}
	return nil
}

// SearchVectors runs an ANN query with optional payload filters.
func (q *QdrantStore) SearchVectors(ctx context.Context, queryVector []float32, limit int, scoreThreshold float64, filters *Filters) ([]model.SearchResult, error) {
	query := &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		ScoreThreshold: qdrant.PtrOf(float32(scoreThreshold)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if f := buildQdrantFilter(filters); f != nil {
		query.Filter = f
	}

	scored, err := q.client.Query(ctx, query)
	if err != nil {
		return nil, errors.Transient("vector search", err)
	}

	results := make([]model.SearchResult, 0, len(scored))
	for _, point := range scored {
		results = append(results, toSearchResult(payloadFromQdrant(point.Payload), float64(point.Score)))
	}
	return results, nil
}

func buildQdrantFilter(filters *Filters) *qdrant.Filter {
	if filters == nil {
		return nil
	}
	var must []*qdrant.Condition
	if len(filters.DocumentIDs) > 0 {
		must = append(must, qdrant.NewMatchKeywords("document_id", filters.DocumentIDs...))
	}
	if len(filters.FileTypes) > 0 {
		must = append(must, qdrant.NewMatchKeywords("file_type", filters.FileTypes...))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func payloadFromQdrant(values map[string]*qdrant.Value) Payload {
	p := Payload{
		ChunkID:    values["chunk_id"].GetStringValue(),
		DocumentID: values["document_id"].GetStringValue(),
		Content:    values["content"].GetStringValue(),
		ChunkIndex: int(values["chunk_index"].GetIntegerValue()),
		Filename:   values["filename"].GetStringValue(),
		Filepath:   values["filepath"].GetStringValue(),
		FileType:   values["file_type"].GetStringValue(),
	}
	if raw := values["metadata"].GetStringValue(); raw != "" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(raw), &meta); err == nil {
			p.Metadata = meta
		}
	}
	return p
}

// Close shuts down the gRPC connection.
func (q *QdrantStore) Close() error {
	return q.client.Close()
}
