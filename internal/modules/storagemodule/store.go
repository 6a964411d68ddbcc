package storagemodule

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/chai2010/webp"
	"github.com/natefinch/atomic"

	"github.com/modelbay/modelbay/internal/config"
	"github.com/modelbay/modelbay/internal/logger"
)

// LocalStore is a local-disk object store. Paths are forward-slash
// store paths ("originals/ab/abcd....stl"); the import pipeline shards
// them by content hash so a written object never changes.
type LocalStore struct {
	root        string
	publicBase  string
	webpQuality int
	encodeWebP  bool
	maxSize     int64
}

// NewLocalStore builds a store rooted at cfg.DataDir
func NewLocalStore(cfg config.StorageConfig) *LocalStore {
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		base = "/files"
	}
	return &LocalStore{
		root:        cfg.DataDir,
		publicBase:  base,
		webpQuality: cfg.WebPQuality,
		encodeWebP:  cfg.EnableWebP,
		maxSize:     cfg.MaxFileSize,
	}
}

// Root returns the store's on-disk root directory
func (s *LocalStore) Root() string {
	return s.root
}

// Put writes a blob atomically. Preview uploads declared as WebP are
// re-encoded when the renderer actually produced PNG or JPEG bytes.
func (s *LocalStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return fmt.Errorf("object %s exceeds the %d byte limit", path, s.maxSize)
	}

	if s.encodeWebP && contentType == "image/webp" && !isWebP(data) {
		if converted, err := s.toWebP(data); err == nil {
			data = converted
		} else {
			logger.Debug("WebP re-encode failed for %s, storing original bytes: %v", path, err)
		}
	}

	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}
	if err := atomic.WriteFile(full, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write object %s: %w", path, err)
	}
	return nil
}

// Get reads a blob by store path
func (s *LocalStore) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", path, err)
	}
	return data, nil
}

// PublicURL maps a store path onto the serving route or CDN base
func (s *LocalStore) PublicURL(path string) string {
	return s.publicBase + "/" + strings.TrimLeft(path, "/")
}

// Delete removes a blob; deleting a missing object is not an error
func (s *LocalStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %s: %w", path, err)
	}
	return nil
}

// resolve maps a store path under the root, rejecting traversal
func (s *LocalStore) resolve(path string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(strings.TrimLeft(path, "/")))
	if cleaned == "." || !filepath.IsLocal(cleaned) {
		return "", fs.ErrInvalid
	}
	return filepath.Join(s.root, cleaned), nil
}

// toWebP decodes PNG or JPEG bytes and encodes them as lossy WebP
func (s *LocalStore) toWebP(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	quality := s.webpQuality
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// isWebP sniffs the RIFF container magic
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}
