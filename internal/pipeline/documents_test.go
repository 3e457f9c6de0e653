package pipeline

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestValidateDocument(t *testing.T) {
	pdf := []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n")

	tests := []struct {
		name     string
		doc      UploadedDocument
		maxBytes int64
		wantMIME string
		wantErr  error
	}{
		{
			name:     "declared image",
			doc:      UploadedDocument{Content: []byte("fake jpeg"), MIMEType: "image/jpeg"},
			wantMIME: "image/jpeg",
		},
		{
			name:     "declared pdf with parameters",
			doc:      UploadedDocument{Content: pdf, MIMEType: "application/PDF; charset=binary"},
			wantMIME: "application/pdf",
		},
		{
			name:     "sniffed pdf",
			doc:      UploadedDocument{Content: pdf, MIMEType: "application/octet-stream"},
			wantMIME: "application/pdf",
		},
		{
			name:    "plain text",
			doc:     UploadedDocument{Content: []byte("hello"), MIMEType: "text/plain"},
			wantErr: ErrUnsupportedMediaType,
		},
		{
			name:    "sniffed text",
			doc:     UploadedDocument{Content: []byte("just some words"), MIMEType: ""},
			wantErr: ErrUnsupportedMediaType,
		},
		{
			name:     "too large",
			doc:      UploadedDocument{Content: bytes.Repeat([]byte("a"), 11), MIMEType: "image/png"},
			maxBytes: 10,
			wantErr:  ErrPayloadTooLarge,
		},
		{
			name:     "exactly at limit",
			doc:      UploadedDocument{Content: bytes.Repeat([]byte("a"), 10), MIMEType: "image/png"},
			maxBytes: 10,
			wantMIME: "image/png",
		},
		{
			name:    "empty",
			doc:     UploadedDocument{MIMEType: "image/png"},
			wantErr: ErrNoFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maxBytes := tt.maxBytes
			if maxBytes == 0 {
				maxBytes = DefaultMaxUploadBytes
			}
			got, err := ValidateDocument(tt.doc, maxBytes)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateDocument failed: %v", err)
			}
			if got != tt.wantMIME {
				t.Errorf("mime = %q, want %q", got, tt.wantMIME)
			}
		})
	}
}

func TestNewStorageKey(t *testing.T) {
	a := newStorageKey(ModeSingleReceipt, "IMG_0001.JPG", fixedNow)
	b := newStorageKey(ModeSingleReceipt, "IMG_0001.JPG", fixedNow)

	if a == b {
		t.Errorf("expected unique keys for the same instant, got %q twice", a)
	}
	if !strings.HasPrefix(a, "receipt-") || !strings.HasSuffix(a, ".jpg") {
		t.Errorf("unexpected key %q", a)
	}

	h := newStorageKey(ModeHistoryBatch, "../../etc/statement.pdf", fixedNow)
	if !strings.HasPrefix(h, "history-") || strings.Contains(h, "/") {
		t.Errorf("unexpected key %q", h)
	}
}
