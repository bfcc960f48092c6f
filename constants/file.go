package constants

import (
	"mime"
	"strings"
)

const (
	MimePDF  = "application/pdf"
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
	MimeWEBP = "image/webp"
)

// AllowedExtensions holds the file extensions accepted for scanning.
var AllowedExtensions = map[string]string{
	"pdf":  MimePDF,
	"jpg":  MimeJPEG,
	"jpeg": MimeJPEG,
	"png":  MimePNG,
	"webp": MimeWEBP,
}

// MaxMediaMBDefault caps a single inline media payload sent to a provider.
const MaxMediaMBDefault = 20

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MimeForExt resolves the mime type for an extension, preferring the allow-list.
func MimeForExt(ext string) string {
	ext = NormalizeExt(ext)
	if mt, ok := AllowedExtensions[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension("." + ext); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

// IsPDF reports whether the declared mime type is a PDF document.
func IsPDF(mimeType string) bool {
	return strings.EqualFold(strings.TrimSpace(mimeType), MimePDF)
}

// IsImage reports whether the declared mime type is an image.
func IsImage(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(mimeType), "image/")
}
