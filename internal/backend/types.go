package backend

import "time"

// FileMeta is one ingested document as reported by GET /files. Snapshots are
// read-only: the client refreshes the whole list rather than mutating entries.
type FileMeta struct {
	ID         int64     `json:"id"`
	Filename   string    `json:"filename"`
	Filepath   string    `json:"filepath"`
	Filetype   string    `json:"filetype"`
	SizeMB     float64   `json:"size_mb"`
	UploadedAt time.Time `json:"uploaded_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Chunk is one retrieval unit of a document, as reported by
// GET /file/{id}/chunks. Chunks are immutable once a document is ingested.
type Chunk struct {
	ID             int64     `json:"id"`
	FileID         int64     `json:"file_id"`
	ChunkIndex     int       `json:"chunk_index"`
	Content        string    `json:"content"`
	SectionHeading *string   `json:"section_heading"`
	PageNumber     *int      `json:"page_number"`
	CreatedAt      time.Time `json:"created_at"`
}

// QueryRequest is the body of POST /query. An empty FileIDs list means the
// query is scoped to every document; the field is omitted on the wire.
type QueryRequest struct {
	Query   string  `json:"query"`
	TopK    int     `json:"top_k,omitempty"`
	Stream  bool    `json:"stream"`
	FileIDs []int64 `json:"file_ids,omitempty"`
}

// IngestResult is the body returned by POST /ingest and PUT /file/{id}.
type IngestResult struct {
	File   FileMeta `json:"file"`
	Chunks int      `json:"chunks"`
}

// Stats is the body returned by GET /stats.
type Stats struct {
	Files  int `json:"files"`
	Chunks int `json:"chunks"`
}
