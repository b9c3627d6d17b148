package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidKey reports an object key that could not have been produced by Store.
var ErrInvalidKey = errors.New("invalid object key")

const extension = ".jpg"

// FileStore writes transformed images under a directory and exposes them at
// baseURL/<key>.
type FileStore struct {
	dir     string
	baseURL string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir, baseURL string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("object store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create object store directory: %w", err)
	}
	return &FileStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Store persists data under a fresh <uuid>.jpg key and returns its public URL.
func (s *FileStore) Store(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := uuid.NewString() + extension

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close object: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("chmod object: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, key)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("commit object: %w", err)
	}
	return s.baseURL + "/" + key, nil
}

// Path resolves key to its file location.
func (s *FileStore) Path(key string) (string, error) {
	if !validKey(key) {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.dir, key), nil
}

// Handler serves stored objects. The request's "key" path value names the
// object.
func (s *FileStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, err := s.Path(r.PathValue("key"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Header().Set("Content-Type", "image/jpeg")
		http.ServeFile(w, r, path)
	})
}

func validKey(key string) bool {
	name, ok := strings.CutSuffix(key, extension)
	if !ok {
		return false
	}
	_, err := uuid.Parse(name)
	return err == nil && len(name) == 36
}
