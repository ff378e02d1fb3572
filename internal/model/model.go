// Package model defines the core entities of the retrieval pipeline:
// documents, chunks, collections, query logs, and the transient values
// that flow between pipeline stages.
package model

import (
	"path/filepath"
	"strings"
	"time"
)

// FileType is the canonical document format identifier.
type FileType string

const (
	FileTypeTxt  FileType = "txt"
	FileTypeMd   FileType = "md"
	FileTypeDocx FileType = "docx"
	FileTypePdf  FileType = "pdf"
	FileTypePptx FileType = "pptx"
	FileTypeXlsx FileType = "xlsx"
	FileTypeCsv  FileType = "csv"
	FileTypeHtml FileType = "html"
	FileTypeJson FileType = "json"
	FileTypeRtf  FileType = "rtf"
)

// extToFileType maps supported file extensions to canonical file types.
var extToFileType = map[string]FileType{
	".txt":      FileTypeTxt,
	".md":       FileTypeMd,
	".markdown": FileTypeMd,
	".docx":     FileTypeDocx,
	".pdf":      FileTypePdf,
	".pptx":     FileTypePptx,
	".xlsx":     FileTypeXlsx,
	".xls":      FileTypeXlsx,
	".csv":      FileTypeCsv,
	".html":     FileTypeHtml,
	".htm":      FileTypeHtml,
	".json":     FileTypeJson,
	".rtf":      FileTypeRtf,
}

// FileTypeForPath returns the canonical file type for a path, or false if
// the extension is not supported.
func FileTypeForPath(path string) (FileType, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	ft, ok := extToFileType[ext]
	return ft, ok
}

// SupportedExtensions returns the list of recognized file extensions.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extToFileType))
	for ext := range extToFileType {
		exts = append(exts, ext)
	}
	return exts
}

// DocumentStatus tracks a document through its ingestion lifecycle.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusIndexed    DocumentStatus = "indexed"
	StatusFailed     DocumentStatus = "failed"
)

// Document is an ingested file or text blob tracked in the metadata store.
// At most one Document exists per Filepath. When Status is indexed,
// ChunkCount equals the number of live chunks and the number of vector
// points whose payload document_id equals ID.
type Document struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	Filepath     string         `json:"filepath"`
	FileType     FileType       `json:"fileType"`
	FileSize     int64          `json:"fileSize"`
	MimeType     string         `json:"mimeType"`
	Checksum     string         `json:"checksum"` // SHA-256 of bytes or text
	Status       DocumentStatus `json:"status"`
	ChunkCount   int            `json:"chunkCount"`
	Summary      string         `json:"summary,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	CollectionID string         `json:"collectionId,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	IndexedAt    *time.Time     `json:"indexedAt,omitempty"` // set iff Status == indexed
}

// Chunk is a contiguous slice of a document's normalized text, the smallest
// retrievable unit. ChunkIndex values are contiguous from 0 within a
// document; [StartOffset, EndOffset) are character offsets into the
// normalized text.
type Chunk struct {
	ID          string         `json:"id"`
	DocumentID  string         `json:"documentId"`
	Content     string         `json:"content"`
	ChunkIndex  int            `json:"chunkIndex"`
	StartOffset int            `json:"startOffset"`
	EndOffset   int            `json:"endOffset"`
	TokenCount  int            `json:"tokenCount"`
	Metadata    map[string]any `json:"metadata,omitempty"` // pageNumber, sectionTitle, slideNumber, sheetName, headings
	CreatedAt   time.Time      `json:"createdAt"`
}

// Collection groups documents for filtered retrieval.
type Collection struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Color         string    `json:"color,omitempty"`
	DocumentCount int       `json:"documentCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

// QueryLog is an append-only analytics record. The core pipelines write it
// but never read it back.
type QueryLog struct {
	ID          string         `json:"id"`
	Query       string         `json:"query"`
	QueryType   string         `json:"queryType"` // "search" or "ask"
	Source      string         `json:"source,omitempty"`
	ResultCount int            `json:"resultCount"`
	TopScore    float64        `json:"topScore"`
	LatencyMs   int64          `json:"latencyMs"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Section is a logical region of parsed content (heading-delimited,
// per-row, per-slide, or per-sheet depending on format).
type Section struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	StartOffset int    `json:"startOffset"`
	EndOffset   int    `json:"endOffset"`
	PageNumber  int    `json:"pageNumber,omitempty"`
	SlideNumber int    `json:"slideNumber,omitempty"`
	SheetName   string `json:"sheetName,omitempty"`
}

// ParsedDocument is the transient output of a parser, consumed by the
// ingestion coordinator.
type ParsedDocument struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Sections []Section      `json:"sections,omitempty"`
}

// SearchResult is a scored retrieval hit. Score is normalized to [0,1]
// after vector search; reranking may replace it with a cross-encoder
// relevance score, or -1 when the reranker fell back to the original order.
type SearchResult struct {
	ChunkID         string         `json:"chunkId"`
	DocumentID      string         `json:"documentId"`
	Content         string         `json:"content"`
	Score           float64        `json:"score"`
	Filename        string         `json:"filename,omitempty"`
	Filepath        string         `json:"filepath,omitempty"`
	FileType        FileType       `json:"fileType,omitempty"`
	DocumentSummary string         `json:"documentSummary,omitempty"`
	ChunkIndex      int            `json:"chunkIndex"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ScoredChunk is a search result annotated with an LLM relevance score
// produced by the verification pipeline.
type ScoredChunk struct {
	Result      SearchResult `json:"result"`
	Score       float64      `json:"score"` // relevance in [0,1]
	Explanation string       `json:"explanation,omitempty"`
}

// Citation links an answer claim to a supporting chunk.
type Citation struct {
	ChunkID        string  `json:"chunkId"`
	Filename       string  `json:"filename,omitempty"`
	Quote          string  `json:"quote,omitempty"`
	RelevanceScore float64 `json:"relevanceScore"`
}

// VerificationResult reports how well an answer is grounded in the
// retrieved chunks.
type VerificationResult struct {
	GroundingScore    float64    `json:"groundingScore"` // in [0,1]
	IsGrounded        bool       `json:"isGrounded"`
	SupportedClaims   []string   `json:"supportedClaims,omitempty"`
	UnsupportedClaims []string   `json:"unsupportedClaims,omitempty"`
	Citations         []Citation `json:"citations,omitempty"`
}

// IngestionResult is returned by the ingestion coordinator. Processing
// failures after the document row exists are reported here rather than as
// an error, with the document marked failed.
type IngestionResult struct {
	DocumentID string `json:"documentId"`
	ChunkCount int    `json:"chunkCount"`
	Success    bool   `json:"success"`
	Skipped    bool   `json:"skipped"` // true when an unchanged document was short-circuited
	Error      string `json:"error,omitempty"`
}

// Usage reports token consumption for a gateway call.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Answer is the result of the ask pipeline.
type Answer struct {
	Answer       string              `json:"answer"`
	Sources      []SearchResult      `json:"sources"`
	Model        string              `json:"model"`
	Usage        Usage               `json:"usage"`
	Verification *VerificationResult `json:"verification,omitempty"`
	Confidence   float64             `json:"confidence,omitempty"`
	Metadata     AnswerMetadata      `json:"metadata"`
}

// AnswerMetadata records which retrieval enhancements actually ran.
type AnswerMetadata struct {
	RerankUsed    bool   `json:"rerankUsed"`
	HydeUsed      bool   `json:"hydeUsed"`
	QueryExpanded bool   `json:"queryExpanded"`
	OriginalQuery string `json:"originalQuery"`
}
