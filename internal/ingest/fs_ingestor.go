package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/homework-scanner/constants"
	"github.com/joseph-ayodele/homework-scanner/internal/common"
	"github.com/joseph-ayodele/homework-scanner/internal/entity"
	"github.com/joseph-ayodele/homework-scanner/internal/store"
)

var (
	ErrUnsupportedExt = errors.New("unsupported or missing extension")
	ErrTooLarge       = errors.New("file exceeds the upload limit")
	ErrEmptyFile      = errors.New("file is empty")
)

// FSIngestor adds files to the store. Identical content already present in
// the store is not added twice.
type FSIngestor struct {
	store    store.Store
	source   constants.ItemSource
	maxBytes int64
	logger   *slog.Logger

	mu   sync.Mutex
	seen map[string]uuid.UUID // sha256 hex -> item id
}

var _ Ingestor = (*FSIngestor)(nil)

type Option func(*FSIngestor)

// WithSource tags ingested items, e.g. constants.SourceWatch.
func WithSource(s constants.ItemSource) Option {
	return func(i *FSIngestor) {
		if s != "" {
			i.source = s
		}
	}
}

// WithMaxMB caps the size of a single file. Zero keeps the default.
func WithMaxMB(mb int) Option {
	return func(i *FSIngestor) {
		if mb > 0 {
			i.maxBytes = int64(mb) << 20
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(i *FSIngestor) {
		if l != nil {
			i.logger = l
		}
	}
}

func NewFSIngestor(st store.Store, opts ...Option) *FSIngestor {
	i := &FSIngestor{
		store:    st,
		source:   constants.SourceUpload,
		maxBytes: int64(constants.MaxMediaMBDefault) << 20,
		logger:   slog.Default(),
		seen:     make(map[string]uuid.UUID),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

func (i *FSIngestor) IngestPath(ctx context.Context, path string) (IngestionResult, error) {
	out := IngestionResult{SourcePath: path}

	abs, err := filepath.Abs(path)
	if err != nil {
		return out, fmt.Errorf("abs path: %w", err)
	}
	out.SourcePath = abs

	ext := constants.NormalizeExt(filepath.Ext(abs))
	out.FileExt = ext
	if ext == "" || !AllowedExt(ext) {
		return out, fmt.Errorf("%w: %q", ErrUnsupportedExt, ext)
	}

	data, err := i.readFile(abs)
	if err != nil {
		i.logger.Warn("ingest.read_failed", "path", abs, "error", err)
		return out, err
	}

	item, dedup, err := i.add(ctx, entity.File{
		Name:     filepath.Base(abs),
		Data:     data,
		MimeType: constants.MimeForExt(ext),
	})
	out.HashHex = hashHex(data)
	if err != nil {
		return out, err
	}
	out.ItemID = item.ID.String()
	out.Deduplicated = dedup
	out.Pages = item.Pages
	return out, nil
}

func (i *FSIngestor) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer func(f *os.File) {
		if err := f.Close(); err != nil {
			i.logger.Debug("ingest.close_failed", "path", path, "error", err)
		}
	}(f)

	data, err := io.ReadAll(io.LimitReader(f, i.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if int64(len(data)) > i.maxBytes {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, filepath.Base(path))
	}
	return data, nil
}

// IngestFile adds an upload. The mime type is derived from the name when missing.
func (i *FSIngestor) IngestFile(ctx context.Context, file entity.File) (entity.FileItem, error) {
	ext := constants.NormalizeExt(filepath.Ext(file.Name))
	if file.MimeType == "" || file.MimeType == "application/octet-stream" {
		file.MimeType = constants.MimeForExt(ext)
	}
	if !AllowedExt(ext) {
		return entity.FileItem{}, common.NewAppError(common.CodeValidation,
			fmt.Sprintf("%s: %v", file.Name, ErrUnsupportedExt), ErrUnsupportedExt)
	}
	if int64(len(file.Data)) > i.maxBytes {
		return entity.FileItem{}, common.NewAppError(common.CodeValidation,
			fmt.Sprintf("%s: %v", file.Name, ErrTooLarge), ErrTooLarge)
	}
	item, _, err := i.add(ctx, file)
	return item, err
}

// add stores the file. PDFs are added as rasterizing, inspected, then moved to
// pending; an unreadable PDF is removed again.
func (i *FSIngestor) add(ctx context.Context, file entity.File) (entity.FileItem, bool, error) {
	if len(file.Data) == 0 {
		return entity.FileItem{}, false, fmt.Errorf("%w: %s", ErrEmptyFile, file.Name)
	}
	if err := ctx.Err(); err != nil {
		return entity.FileItem{}, false, err
	}
	sum := hashHex(file.Data)

	i.mu.Lock()
	defer i.mu.Unlock()
	if id, ok := i.seen[sum]; ok {
		if existing, ok := i.store.Item(id); ok {
			i.logger.Debug("ingest.deduplicated", "file", file.Name, "item_id", id)
			return existing, true, nil
		}
		delete(i.seen, sum)
	}

	status := constants.ItemPending
	if constants.IsPDF(file.MimeType) {
		status = constants.ItemRasterizing
	}
	added, err := i.store.AddItems(entity.FileItem{File: file, Source: i.source, Status: status})
	if err != nil {
		return entity.FileItem{}, false, fmt.Errorf("add item: %w", err)
	}
	item := added[0]

	if status == constants.ItemRasterizing {
		pages, err := PageCount(file.Data)
		if err != nil {
			if rmErr := i.store.RemoveItem(item.ID); rmErr != nil {
				i.logger.Warn("ingest.remove_failed", "item_id", item.ID, "error", rmErr)
			}
			i.logger.Warn("ingest.pdf_rejected", "file", file.Name, "error", err)
			return entity.FileItem{}, false, fmt.Errorf("%s: %w", file.Name, err)
		}
		if err := i.store.SetItemPages(item.ID, pages); err != nil {
			return entity.FileItem{}, false, err
		}
		if err := i.store.UpdateItemStatus(item.ID, constants.ItemPending); err != nil {
			return entity.FileItem{}, false, err
		}
		item.Pages = pages
		item.Status = constants.ItemPending
	}

	i.seen[sum] = item.ID
	i.logger.Info("ingest.added",
		"item_id", item.ID,
		"file", file.Name,
		"mime_type", file.MimeType,
		"size", len(file.Data),
		"pages", item.Pages,
		"source", i.source,
	)
	return item, false, nil
}

// IngestDirectory walks root, skips hidden if requested,
// and calls IngestPath for each file. Returns per-file results + aggregate stats.
func (i *FSIngestor) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]IngestionResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, common.NewAppError(common.CodeValidation, "root path is required", common.ErrInvalidInput)
	}

	var results []IngestionResult
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, IngestionResult{SourcePath: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !AllowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		r, err := i.IngestPath(ctx, path)
		if err != nil {
			r.Err = err.Error()
			results = append(results, r)
			stats.Failed++
			return nil
		}
		results = append(results, r)
		stats.Succeeded++
		if r.Deduplicated {
			stats.Deduplicated++
		}
		return nil
	})

	i.logger.Info("ingest.directory.done",
		"root", root,
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"deduplicated", stats.Deduplicated,
		"failed", stats.Failed,
	)
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
