package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joseph-ayodele/homework-scanner/internal/entity"
)

// URLPrefix is the path under which preview files are served.
const URLPrefix = "/previews/"

// Previews creates and releases the preview handle owned by each item.
type Previews interface {
	Create(item entity.FileItem) (string, error)
	Release(url string) error
}

// FilePreviews writes each item's payload under Dir.
type FilePreviews struct {
	Dir string
}

func NewFilePreviews(dir string) (*FilePreviews, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create preview dir: %w", err)
	}
	return &FilePreviews{Dir: dir}, nil
}

func (p *FilePreviews) Create(item entity.FileItem) (string, error) {
	name := item.ID.String() + strings.ToLower(filepath.Ext(item.File.Name))
	if err := os.WriteFile(filepath.Join(p.Dir, name), item.File.Data, 0o644); err != nil {
		return "", fmt.Errorf("write preview: %w", err)
	}
	return URLPrefix + name, nil
}

// Path maps a preview URL back to its file.
func (p *FilePreviews) Path(url string) (string, bool) {
	if !strings.HasPrefix(url, URLPrefix) {
		return "", false
	}
	name := path.Base(strings.TrimPrefix(url, URLPrefix))
	if name == "." || name == "/" || name == "" {
		return "", false
	}
	return filepath.Join(p.Dir, name), true
}

func (p *FilePreviews) Release(url string) error {
	fp, ok := p.Path(url)
	if !ok {
		return fmt.Errorf("not a preview url: %q", url)
	}
	if err := os.Remove(fp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// MemoryPreviews hands out opaque handles and tracks which are live.
type MemoryPreviews struct {
	mu   sync.Mutex
	live map[string]struct{}
}

func NewMemoryPreviews() *MemoryPreviews {
	return &MemoryPreviews{live: make(map[string]struct{})}
}

func (p *MemoryPreviews) Create(item entity.FileItem) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	url := "mem://" + item.ID.String()
	p.live[url] = struct{}{}
	return url, nil
}

func (p *MemoryPreviews) Release(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, url)
	return nil
}

// Live returns the number of unreleased handles.
func (p *MemoryPreviews) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}
