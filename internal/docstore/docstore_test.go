package docstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "uploads")

	s, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	key := "receipt-1718000000000000000-1a2b3c4d.jpg"
	content := []byte("\xff\xd8\xff\xe0 jpeg")
	if err := s.Save(ctx, key, content, "image/jpeg"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Read(ctx, key)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("Read = %q, want %q", got, content)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, key)); !os.IsNotExist(err) {
		t.Errorf("expected file to be removed, stat error: %v", err)
	}

	// A second delete is not an error.
	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestLocalStore_RejectsPathKeys(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	for _, key := range []string{"../escape.jpg", "sub/dir.jpg", "..", ""} {
		if err := s.Save(context.Background(), key, []byte("x"), "image/png"); err == nil {
			t.Errorf("Save(%q) succeeded, want error", key)
		}
	}
}

func TestLocalStore_ReadMissing(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	if _, err := s.Read(context.Background(), "missing.pdf"); err == nil {
		t.Error("expected an error for a missing document")
	}
}

func TestNewLocalStore_RequiresDir(t *testing.T) {
	if _, err := NewLocalStore("  "); err == nil {
		t.Error("expected an error for an empty directory")
	}
}

func TestParseGCSURI(t *testing.T) {
	tests := []struct {
		in         string
		wantBucket string
		wantPrefix string
		wantErr    bool
	}{
		{"gs://receipts/uploads/tmp", "receipts", "uploads/tmp", false},
		{"gs://receipts/", "receipts", "", false},
		{"receipts", "receipts", "", false},
		{"gs://", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		bucket, prefix, err := ParseGCSURI(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseGCSURI(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if bucket != tt.wantBucket || prefix != tt.wantPrefix {
			t.Errorf("ParseGCSURI(%q) = %q, %q; want %q, %q", tt.in, bucket, prefix, tt.wantBucket, tt.wantPrefix)
		}
	}
}

func TestGCSStore_URI(t *testing.T) {
	s := &GCSStore{bucket: "receipts", prefix: "uploads"}
	if got := s.URI("history-1-abc.pdf"); got != "gs://receipts/uploads/history-1-abc.pdf" {
		t.Errorf("URI = %q", got)
	}

	bare := &GCSStore{bucket: "receipts"}
	if got := bare.URI("../x.pdf"); got != "gs://receipts/x.pdf" {
		t.Errorf("URI = %q", got)
	}
}
