package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Uploads

const (
	SessionStatusUploading  = "uploading"
	SessionStatusAssembling = "assembling"
)

// UploadSession tracks one in-progress chunked upload.
type UploadSession struct {
	UploadID string     `db:"upload_id" json:"upload_id"`           // Opaque identifier, the only external handle
	OwnerID  *uuid.UUID `db:"owner_id" json:"owner_id,omitempty"`   // Authenticated user that started the upload, can be NIL
	FileName string     `db:"file_name" json:"file_name"`           // Client supplied name, only used to derive the extension
	MimeType string     `db:"mime_type" json:"mime_type"`           // Declared content type

	TotalSize   int64 `db:"total_size" json:"total_size"`     // Declared size of the assembled file in bytes
	ChunkSize   int64 `db:"chunk_size" json:"chunk_size"`     // Negotiated chunk size in bytes
	TotalChunks int   `db:"total_chunks" json:"total_chunks"` // ceil(TotalSize / ChunkSize), immutable

	ReceivedChunks []int  `db:"-" json:"received_chunks"` // Sorted set of received chunk indices
	Status         string `db:"status" json:"status"`     // uploading | assembling

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
}

// UploadedCount returns the number of distinct chunks received so far.
func (s *UploadSession) UploadedCount() int {
	return len(s.ReceivedChunks)
}

// IsComplete reports whether every chunk index has been received.
func (s *UploadSession) IsComplete() bool {
	return len(s.ReceivedChunks) == s.TotalChunks
}

// HasChunk reports whether index is already part of the received set.
func (s *UploadSession) HasChunk(index int) bool {
	i := sort.SearchInts(s.ReceivedChunks, index)
	return i < len(s.ReceivedChunks) && s.ReceivedChunks[i] == index
}

// MissingChunks returns the sorted list of indices not yet received.
func (s *UploadSession) MissingChunks() []int {
	missing := make([]int, 0, s.TotalChunks-len(s.ReceivedChunks))
	for i := 0; i < s.TotalChunks; i++ {
		if !s.HasChunk(i) {
			missing = append(missing, i)
		}
	}
	return missing
}

// IsExpired reports whether the session outlived its expiry at time now.
func (s *UploadSession) IsExpired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// ExpectedChunkLength returns the byte length chunk index must have given the
// negotiated chunk size. The last chunk carries the remainder.
func (s *UploadSession) ExpectedChunkLength(index int) int64 {
	if index == s.TotalChunks-1 {
		return s.TotalSize - s.ChunkSize*int64(s.TotalChunks-1)
	}
	return s.ChunkSize
}

// UploadStatus is the snapshot returned by a status lookup.
type UploadStatus struct {
	UploadID       string    `json:"upload_id"`
	FileName       string    `json:"file_name"`
	MimeType       string    `json:"mime_type"`
	TotalSize      int64     `json:"total_size"`
	ChunkSize      int64     `json:"chunk_size"`
	TotalChunks    int       `json:"total_chunks"`
	UploadedChunks []int     `json:"uploaded_chunks"`
	UploadedCount  int       `json:"uploaded_count"`
	MissingChunks  []int     `json:"missing_chunks"`
	IsComplete     bool      `json:"is_complete"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// InitUploadResponse is returned when a session is created.
type InitUploadResponse struct {
	UploadID    string    `json:"upload_id"`
	TotalChunks int       `json:"total_chunks"`
	ChunkSize   int64     `json:"chunk_size"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ChunkStoreResult is returned for every accepted chunk, including retries.
type ChunkStoreResult struct {
	ChunkIndex    int  `json:"chunk_index"`
	UploadedCount int  `json:"uploaded_count"`
	TotalChunks   int  `json:"total_chunks"`
	IsComplete    bool `json:"is_complete"`
}

// AssembledFile describes the durable output of a completed upload.
type AssembledFile struct {
	FileName string `json:"file_name"` // Generated unique name, decoupled from the client name
	FilePath string `json:"file_path"` // Storage key inside permanent storage
	FileURL  string `json:"file_url"`
	FileSize int64  `json:"file_size"`
	MimeType string `json:"mime_type"`
}

// Videos

const (
	ProcessingStatusProcessed   = "processed"
	ProcessingStatusUnprocessed = "unprocessed"
	ProcessingStatusSkipped     = "skipped"
)

// Video is the domain record created from an assembled upload.
type Video struct {
	ID       uuid.UUID  `db:"id" json:"id"`
	OwnerID  *uuid.UUID `db:"owner_id" json:"owner_id,omitempty"`
	Title    string     `db:"title" json:"title"`
	FileName string     `db:"file_name" json:"file_name"`
	FilePath string     `db:"file_path" json:"file_path"`
	FileURL  string     `db:"file_url" json:"file_url"`
	FileSize int64      `db:"file_size" json:"file_size"`
	MimeType string     `db:"mime_type" json:"mime_type"`

	DurationSeconds  *float64 `db:"duration_seconds" json:"duration_seconds,omitempty"`
	ThumbnailPath    *string  `db:"thumbnail_path" json:"thumbnail_path,omitempty"`
	ProcessingStatus string   `db:"processing_status" json:"processing_status"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
