// Package uploads is the boundary to the attachment-storage collaborator.
// The core only ever sees the returned opaque descriptor; policy (size
// ceiling, mime allowlist) is enforced here before the collaborator is
// called.
package uploads

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/huddleworks/huddle/internal/models"
)

// DefaultMaxSize is the upload size ceiling.
const DefaultMaxSize = 25 << 20 // 25 MiB

// ErrTooLarge rejects uploads above the configured ceiling.
var ErrTooLarge = fmt.Errorf("attachment exceeds size limit")

// ErrBadType rejects mime types outside the allowlist.
var ErrBadType = fmt.Errorf("attachment type not allowed")

// Uploader stores raw file bytes and returns the descriptor the message
// will carry.
type Uploader interface {
	Upload(ctx context.Context, filename, mimeType string, size int64, r io.Reader) (models.Attachment, error)
}

// Policy validates attachment metadata before any bytes move.
type Policy struct {
	MaxSize      int64
	AllowedTypes []string // mime prefixes, e.g. "image/"; empty allows all
}

// Check returns ErrTooLarge or ErrBadType when the upload violates policy.
func (p Policy) Check(filename, mimeType string, size int64) error {
	max := p.MaxSize
	if max <= 0 {
		max = DefaultMaxSize
	}
	if size <= 0 || size > max {
		return fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrTooLarge, filename, size, max)
	}
	if len(p.AllowedTypes) == 0 {
		return nil
	}
	for _, prefix := range p.AllowedTypes {
		if strings.HasPrefix(mimeType, prefix) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrBadType, mimeType)
}

// Disk stores uploads on the local filesystem and serves them from
// baseURL. Stands in for the real storage collaborator in single-node
// deployments.
type Disk struct {
	Dir     string
	BaseURL string
}

// NewDisk creates the upload directory if needed.
func NewDisk(dir, baseURL string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Disk{Dir: dir, BaseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Upload writes the bytes under a fresh ULID name and returns the
// descriptor.
func (d *Disk) Upload(ctx context.Context, filename, mimeType string, size int64, r io.Reader) (models.Attachment, error) {
	id := ulid.Make().String()
	name := id + "-" + filepath.Base(filename)
	path := filepath.Join(d.Dir, name)

	f, err := os.Create(path)
	if err != nil {
		return models.Attachment{}, err
	}

	written, err := io.Copy(f, io.LimitReader(r, size))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return models.Attachment{}, err
	}

	return models.Attachment{
		URL:      d.BaseURL + "/uploads/" + name,
		Filename: filename,
		MimeType: mimeType,
		Size:     written,
	}, nil
}
