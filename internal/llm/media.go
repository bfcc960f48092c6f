package llm

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/homework-scanner/constants"
)

// CheckMedia rejects empty payloads and payloads above maxMB megabytes.
// A non-positive maxMB falls back to constants.MaxMediaMBDefault.
func CheckMedia(data []byte, mimeType string, maxMB int) error {
	if len(data) == 0 {
		return ErrEmptyMedia
	}
	if maxMB <= 0 {
		maxMB = constants.MaxMediaMBDefault
	}
	if len(data) > maxMB*1024*1024 {
		return fmt.Errorf("%w: %d bytes > %d MB", ErrMediaTooLarge, len(data), maxMB)
	}
	if !constants.IsPDF(mimeType) && !constants.IsImage(mimeType) {
		return fmt.Errorf("%w: %q", ErrUnsupported, mimeType)
	}
	return nil
}

// DataURL encodes data as a base64 data URL.
func DataURL(mimeType string, data []byte) string {
	mt := strings.TrimSpace(mimeType)
	if mt == "" {
		mt = "application/octet-stream"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(data)
}
