package uploads

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPolicyCheck(t *testing.T) {
	p := Policy{MaxSize: 100, AllowedTypes: []string{"image/", "application/pdf"}}

	if err := p.Check("a.png", "image/png", 50); err != nil {
		t.Fatal(err)
	}
	if err := p.Check("a.pdf", "application/pdf", 100); err != nil {
		t.Fatal(err)
	}
	if err := p.Check("big.png", "image/png", 101); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if err := p.Check("empty.png", "image/png", 0); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("zero-byte upload should be rejected, got %v", err)
	}
	if err := p.Check("a.exe", "application/x-executable", 10); !errors.Is(err, ErrBadType) {
		t.Fatalf("expected ErrBadType, got %v", err)
	}
}

func TestPolicyDefaults(t *testing.T) {
	var p Policy

	// No allowlist accepts any type; the default ceiling still applies.
	if err := p.Check("a.bin", "application/octet-stream", 1024); err != nil {
		t.Fatal(err)
	}
	if err := p.Check("huge.bin", "application/octet-stream", DefaultMaxSize+1); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge at default ceiling, got %v", err)
	}
}

func TestDiskUpload(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDisk(dir, "http://files.example.com/")
	if err != nil {
		t.Fatal(err)
	}

	content := "hello attachment"
	att, err := d.Upload(context.Background(), "notes.txt", "text/plain", int64(len(content)), strings.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}

	if att.Filename != "notes.txt" || att.MimeType != "text/plain" {
		t.Fatalf("unexpected descriptor: %+v", att)
	}
	if att.Size != int64(len(content)) {
		t.Fatalf("expected size %d, got %d", len(content), att.Size)
	}
	if !strings.HasPrefix(att.URL, "http://files.example.com/uploads/") {
		t.Fatalf("unexpected URL %q", att.URL)
	}
	if !strings.HasSuffix(att.URL, "-notes.txt") {
		t.Fatalf("stored name should keep the original filename, got %q", att.URL)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one stored file, got %d", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != content {
		t.Fatalf("stored bytes differ: %q", data)
	}
}

func TestDiskUploadUniqueNames(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDisk(dir, "")
	if err != nil {
		t.Fatal(err)
	}

	a1, err := d.Upload(context.Background(), "same.txt", "text/plain", 1, strings.NewReader("a"))
	if err != nil {
		t.Fatal(err)
	}
	a2, err := d.Upload(context.Background(), "same.txt", "text/plain", 1, strings.NewReader("b"))
	if err != nil {
		t.Fatal(err)
	}
	if a1.URL == a2.URL {
		t.Fatal("two uploads of the same filename must not collide")
	}
}
