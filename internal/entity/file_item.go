package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/homework-scanner/constants"
)

// File is the raw payload of an uploaded item.
type File struct {
	Name     string `json:"name"`
	Data     []byte `json:"-"`
	MimeType string `json:"mime_type"`
	Size     int    `json:"size"`
}

// FileItem is one uploaded unit of work.
type FileItem struct {
	ID      uuid.UUID            `json:"id"`
	File    File                 `json:"file"`
	URL     string               `json:"url"` // preview handle, also the solution key
	Source  constants.ItemSource `json:"source"`
	Status  constants.ItemStatus `json:"status"`
	Pages   int                  `json:"pages,omitempty"` // PDFs only
	AddedAt time.Time            `json:"added_at"`
}

// IsPDF reports whether the item carries a PDF document.
func (it FileItem) IsPDF() bool {
	return constants.IsPDF(it.File.MimeType)
}
