package ingest

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/scribe-rag/scribe/internal/chunk"
	"github.com/scribe-rag/scribe/internal/config"
	"github.com/scribe-rag/scribe/internal/embed"
	"github.com/scribe-rag/scribe/internal/errors"
	"github.com/scribe-rag/scribe/internal/llm"
	"github.com/scribe-rag/scribe/internal/model"
	"github.com/scribe-rag/scribe/internal/parser"
	"github.com/scribe-rag/scribe/internal/sanitize"
	"github.com/scribe-rag/scribe/internal/store"
	"github.com/scribe-rag/scribe/internal/validation"
	"github.com/scribe-rag/scribe/internal/vector"
)

// textScheme prefixes the synthetic filepath of documents ingested from
// raw text rather than the filesystem.
const textScheme = "text://"

var mimeTypes = map[model.FileType]string{
	model.FileTypeTxt:  "text/plain",
	model.FileTypeMd:   "text/markdown",
	model.FileTypeDocx: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	model.FileTypePdf:  "application/pdf",
	model.FileTypePptx: "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	model.FileTypeXlsx: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	model.FileTypeCsv:  "text/csv",
	model.FileTypeHtml: "text/html",
	model.FileTypeJson: "application/json",
	model.FileTypeRtf:  "application/rtf",
}

// IndexOptions tunes one ingestion call.
type IndexOptions struct {
	// ForceReindex reprocesses the document even when its checksum matches.
	ForceReindex bool
	// CollectionID optionally assigns the document to a collection.
	CollectionID string
	// Metadata is caller-supplied metadata merged with parser metadata.
	Metadata map[string]any
}

// Coordinator runs the ingestion pipeline. One document path is processed
// at a time; concurrent calls for the same path queue on a per-path lock.
type Coordinator struct {
	meta        *store.Store
	vectors     vector.Store
	embedder    embed.Embedder
	chunker     *chunk.Chunker
	parsers     *parser.Registry
	locks       *LockManager
	enricher    *enricher
	features    config.FeatureConfig
	allowedDirs []string
	logger      *slog.Logger
}

// NewCoordinator wires the ingestion pipeline. llmClient may be nil, which
// disables summary and tag enrichment.
func NewCoordinator(
	meta *store.Store,
	vectors vector.Store,
	embedder embed.Embedder,
	chunker *chunk.Chunker,
	parsers *parser.Registry,
	llmClient llm.Client,
	features config.FeatureConfig,
	storage config.StorageConfig,
	logger *slog.Logger,
) *Coordinator {
	c := &Coordinator{
		meta:        meta,
		vectors:     vectors,
		embedder:    embedder,
		chunker:     chunker,
		parsers:     parsers,
		locks:       NewLockManager(0, logger),
		features:    features,
		allowedDirs: storage.AllowedDirs,
		logger:      logger.With("component", "ingest"),
	}
	if llmClient != nil {
		c.enricher = newEnricher(llmClient, logger)
	}
	return c
}

// IndexDocument ingests a file from disk. Validation and lock failures
// return an error; processing failures after the document row exists are
// reported in the result with the document marked failed.
func (c *Coordinator) IndexDocument(ctx context.Context, path string, opts IndexOptions) (*model.IngestionResult, error) {
	canonical, err := validation.ValidatePath(path, c.allowedDirs)
	if err != nil {
		return nil, err
	}
	ft, ok := model.FileTypeForPath(canonical)
	if !ok {
		return nil, errors.Validation("unsupported file type: " + filepath.Ext(canonical))
	}

	data, err := os.ReadFile(canonical)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("file does not exist")
		}
		return nil, errors.New(errors.KindInternal, "read file", err)
	}

	return c.ingest(ctx, canonical, filepath.Base(canonical), ft, data, opts)
}

// IndexText ingests raw text under a synthetic text:// path derived from
// the title. Resubmitting the same title with identical content is a
// no-op; changed content reindexes.
func (c *Coordinator) IndexText(ctx context.Context, content, title string, opts IndexOptions) (*model.IngestionResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.Validation("content is empty")
	}
	name := strings.TrimSpace(title)
	if name == "" {
		name = "untitled"
	}
	ft, ok := model.FileTypeForPath(name)
	if !ok {
		ft = model.FileTypeTxt
	}

	virtualPath := textScheme + strings.ToLower(name)
	return c.ingest(ctx, virtualPath, name, ft, []byte(content), opts)
}

// ingest is the shared pipeline behind IndexDocument and IndexText.
func (c *Coordinator) ingest(ctx context.Context, path, filename string, ft model.FileType, data []byte, opts IndexOptions) (*model.IngestionResult, error) {
	release, err := c.locks.Acquire(ctx, path)
	if err != nil {
		return nil, err
	}
	defer release()

	// The parsers need the whole file in memory (zip and pdf readers want
	// random access), so hashing the buffer costs no extra read.
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	doc := &model.Document{
		ID:           uuid.NewString(),
		Filename:     filename,
		Filepath:     path,
		FileType:     ft,
		FileSize:     int64(len(data)),
		MimeType:     mimeTypes[ft],
		Checksum:     checksum,
		Status:       model.StatusProcessing,
		CollectionID: opts.CollectionID,
		Metadata:     opts.Metadata,
	}

	// Dedupe decision and row creation happen in one transaction so a
	// concurrent ingest of another path cannot race the filepath lookup.
	var (
		skipped *model.IngestionResult
		oldDoc  *model.Document
	)
	err = c.meta.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := c.meta.GetDocumentByPathTx(ctx, tx, path)
		if err != nil {
			if errors.IsKind(err, errors.KindNotFound) {
				return c.meta.InsertDocumentTx(ctx, tx, doc)
			}
			return err
		}
		if existing.Checksum == checksum && existing.Status == model.StatusIndexed && !opts.ForceReindex {
			skipped = &model.IngestionResult{
				DocumentID: existing.ID,
				ChunkCount: existing.ChunkCount,
				Success:    true,
				Skipped:    true,
			}
			return nil
		}
		oldDoc = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	if skipped != nil {
		c.logger.Info("document unchanged, skipping", "document_id", skipped.DocumentID, "path", path)
		return skipped, nil
	}

	// Reindex: drop the previous version while the lock still guards the
	// path, then create a fresh row with a new id.
	if oldDoc != nil {
		c.logger.Info("reindexing document, removing previous version",
			"document_id", oldDoc.ID, "path", path)
		if err := c.removeDocumentData(ctx, oldDoc.ID); err != nil {
			return nil, err
		}
		if doc.CollectionID == "" {
			doc.CollectionID = oldDoc.CollectionID
		}
		if err := c.meta.InsertDocument(ctx, doc); err != nil {
			return nil, err
		}
	}

	result, err := c.process(ctx, doc, data)
	if err != nil {
		c.markFailed(ctx, doc, err)
		return &model.IngestionResult{
			DocumentID: doc.ID,
			Success:    false,
			Error:      sanitize.Error(err),
		}, nil
	}
	return result, nil
}

// process parses, chunks, embeds, persists and enriches one document. The
// caller owns failure handling.
func (c *Coordinator) process(ctx context.Context, doc *model.Document, data []byte) (*model.IngestionResult, error) {
	parsed, err := c.parsers.Parse(data, doc.FileType)
	if err != nil {
		return nil, err
	}

	chunks := c.chunker.Chunk(parsed.Content, parsed.Sections)
	if len(chunks) == 0 {
		return nil, errors.Integrity("document produced no indexable content")
	}
	for i := range chunks {
		chunks[i].ID = uuid.NewString()
		chunks[i].DocumentID = doc.ID
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	embeddings, err := c.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	// Chunks land before vectors so a vector-store failure leaves rows a
	// reindex can clean up, never orphaned points.
	if err := c.meta.InsertChunks(ctx, chunks); err != nil {
		return nil, err
	}
	points := make([]vector.Point, len(chunks))
	for i, ch := range chunks {
		points[i] = vector.Point{
			ID:     ch.ID,
			Vector: embeddings[i],
			Payload: vector.Payload{
				ChunkID:    ch.ID,
				DocumentID: doc.ID,
				Content:    ch.Content,
				ChunkIndex: ch.ChunkIndex,
				Filename:   doc.Filename,
				Filepath:   doc.Filepath,
				FileType:   string(doc.FileType),
				Metadata:   ch.Metadata,
			},
		}
	}
	if err := c.vectors.UpsertVectors(ctx, points); err != nil {
		return nil, err
	}

	summary, tags := c.enrich(ctx, parsed.Content)

	if err := c.finalize(ctx, doc, parsed, len(chunks), summary, tags); err != nil {
		return nil, err
	}

	c.logger.Info("document indexed",
		"document_id", doc.ID,
		"path", doc.Filepath,
		"chunks", len(chunks))
	return &model.IngestionResult{
		DocumentID: doc.ID,
		ChunkCount: len(chunks),
		Success:    true,
	}, nil
}

// enrich generates summary and tags in parallel. Failures degrade to
// empty values; they never fail the ingest.
func (c *Coordinator) enrich(ctx context.Context, content string) (string, []string) {
	if c.enricher == nil || (!c.features.AutoSummary && !c.features.AutoTags) {
		return "", nil
	}

	var (
		summary string
		tags    []string
	)
	g, gctx := errgroup.WithContext(ctx)
	if c.features.AutoSummary {
		g.Go(func() error {
			s, err := c.enricher.summarize(gctx, content)
			if err != nil {
				c.logger.Warn("summary generation failed", "error", err)
				return nil
			}
			summary = s
			return nil
		})
	}
	if c.features.AutoTags {
		g.Go(func() error {
			t, err := c.enricher.generateTags(gctx, content)
			if err != nil {
				c.logger.Warn("tag generation failed", "error", err)
				return nil
			}
			tags = t
			return nil
		})
	}
	_ = g.Wait()
	return summary, tags
}

// finalize marks the document indexed with its chunk count, enrichment
// results and merged metadata.
func (c *Coordinator) finalize(ctx context.Context, doc *model.Document, parsed *model.ParsedDocument, chunkCount int, summary string, tags []string) error {
	now := time.Now().UTC()
	status := model.StatusIndexed
	upd := store.DocumentUpdate{
		Status:     &status,
		ChunkCount: &chunkCount,
		IndexedAt:  &now,
	}
	if summary != "" {
		upd.Summary = &summary
	}
	if tags != nil {
		upd.Tags = tags
	}
	if merged := mergeMetadata(doc.Metadata, parsed.Metadata); merged != nil {
		upd.Metadata = merged
	}
	return c.meta.UpdateDocument(ctx, doc.ID, upd)
}

// markFailed records a processing failure on the document row. The stored
// message is sanitized; full detail stays in logs.
func (c *Coordinator) markFailed(ctx context.Context, doc *model.Document, cause error) {
	c.logger.Error("ingestion failed", "document_id", doc.ID, "path", doc.Filepath, "error", cause)

	status := model.StatusFailed
	meta := mergeMetadata(doc.Metadata, nil)
	if meta == nil {
		meta = make(map[string]any, 1)
	}
	meta["error"] = sanitize.Error(cause)

	if err := c.meta.UpdateDocument(ctx, doc.ID, store.DocumentUpdate{
		Status:   &status,
		Metadata: meta,
	}); err != nil {
		c.logger.Error("failed to mark document failed", "document_id", doc.ID, "error", err)
	}
}

// DeleteDocument removes a document everywhere: vector points first, then
// chunk rows, then the document row, so a partial failure can only leave
// extra metadata, never orphaned vectors.
func (c *Coordinator) DeleteDocument(ctx context.Context, id string) error {
	if err := validation.ValidateUUID(id); err != nil {
		return err
	}
	doc, err := c.meta.GetDocumentByID(ctx, id)
	if err != nil {
		return err
	}

	release, err := c.locks.Acquire(ctx, doc.Filepath)
	if err != nil {
		return err
	}
	defer release()

	c.logger.Info("deleting document", "document_id", id, "path", doc.Filepath)
	return c.removeDocumentData(ctx, id)
}

func (c *Coordinator) removeDocumentData(ctx context.Context, id string) error {
	if err := c.vectors.DeleteVectorsByDocumentID(ctx, id); err != nil {
		return err
	}
	if err := c.meta.DeleteChunksByDocumentID(ctx, id); err != nil {
		return err
	}
	return c.meta.DeleteDocument(ctx, id)
}

func mergeMetadata(base, extra map[string]any) map[string]any {
	if base == nil && extra == nil {
		return nil
	}
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
