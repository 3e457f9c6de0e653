package pipeline

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// ValidateDocument checks that doc is an image or PDF within maxBytes and
// returns its effective MIME type. A declared type that is empty or generic
// is replaced by one sniffed from the content.
func ValidateDocument(doc UploadedDocument, maxBytes int64) (string, error) {
	if len(doc.Content) == 0 {
		return "", ErrNoFile
	}
	if maxBytes > 0 && int64(len(doc.Content)) > maxBytes {
		return "", newPayloadTooLargeError(int64(len(doc.Content)), maxBytes)
	}

	mimeType := baseMIMEType(doc.MIMEType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = baseMIMEType(mimetype.Detect(doc.Content).String())
	}
	if !IsAllowedMIMEType(mimeType) {
		return "", newUnsupportedMediaTypeError(mimeType)
	}
	return mimeType, nil
}

// IsAllowedMIMEType reports whether documents of this type may be sent to the model.
func IsAllowedMIMEType(mimeType string) bool {
	mimeType = baseMIMEType(mimeType)
	return strings.HasPrefix(mimeType, "image/") || mimeType == "application/pdf"
}

// baseMIMEType drops parameters such as "; charset=utf-8".
func baseMIMEType(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(s); err == nil {
		return strings.ToLower(mt)
	}
	return strings.ToLower(s)
}

// newStorageKey builds a unique object name such as
// "receipt-1718000000000000000-1a2b3c4d.jpg".
func newStorageKey(mode Mode, filename string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) > 10 {
		ext = ""
	}
	prefix := "receipt"
	if mode == ModeHistoryBatch {
		prefix = "history"
	}
	return fmt.Sprintf("%s-%d-%s%s", prefix, now.UnixNano(), uuid.NewString()[:8], ext)
}
