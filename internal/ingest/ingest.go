// Package ingest turns files on disk or in memory into store items.
package ingest

import (
	"context"

	"github.com/joseph-ayodele/homework-scanner/internal/entity"
)

// IngestionResult is the per-file ingest outcome.
type IngestionResult struct {
	SourcePath   string `json:"source_path"`
	ItemID       string `json:"item_id,omitempty"`
	Deduplicated bool   `json:"deduplicated"`
	HashHex      string `json:"hash,omitempty"`
	FileExt      string `json:"file_ext,omitempty"`
	Pages        int    `json:"pages,omitempty"`
	Err          string `json:"error,omitempty"`
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32 `json:"scanned"`
	Matched      uint32 `json:"matched"`
	Succeeded    uint32 `json:"succeeded"`
	Deduplicated uint32 `json:"deduplicated"`
	Failed       uint32 `json:"failed"`
}

// Ingestor is the behavior the server, CLI and watcher depend on.
type Ingestor interface {
	// IngestPath adds a single file.
	IngestPath(ctx context.Context, path string) (IngestionResult, error)
	// IngestDirectory adds all matching files under root.
	IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]IngestionResult, DirStats, error)
	// IngestFile adds an in-memory upload.
	IngestFile(ctx context.Context, file entity.File) (entity.FileItem, error)
}
